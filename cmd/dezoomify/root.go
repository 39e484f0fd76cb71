// Package cmd wires the command-line surface (§6) on top of cobra and
// viper, following the teacher's internal/cmd/root.go pattern: a
// package-level *slog.Logger configured once in cobra.OnInitialize,
// text handler to stderr, level bound through viper with a
// DEZOOMIFY_-prefixed env fallback.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string
var logger *slog.Logger

var rootCmd = &cobra.Command{
	Use:   "dezoomify INPUT_URI [OUTFILE]",
	Short: "Download zoomable images served by tiled image viewers",
	Long: `dezoomify-go downloads the tiles of a zoomable image served by
Zoomify, DeepZoom, IIIF, Krpano, IIPImage, NYPL, Google Arts & Culture,
PFF, or a custom URL-template viewer, and reassembles them into a
single flat image.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runDownload,
}

// Execute runs the root command, mapping returned errors to the exit
// codes of §6: 0 success, 1 total failure, 2 partial success, 3
// invalid arguments.
func Execute() {
	if logger == nil {
		initLogging()
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("logging", "info", "Log level (debug, info, warn, error)")

	rootCmd.Flags().String("dezoomer", "auto", "Dezoomer to use, or \"auto\" to detect")
	rootCmd.Flags().Bool("largest", false, "Select the largest available zoom level")
	rootCmd.Flags().Int("max-width", 0, "Largest zoom level whose width is at most this")
	rootCmd.Flags().Int("max-height", 0, "Largest zoom level whose height is at most this")
	rootCmd.Flags().Int("zoom-level", -1, "Explicit zoom level index")
	rootCmd.Flags().Int("image-index", -1, "Explicit image index, for inputs resolving to several images")
	rootCmd.Flags().Int("parallelism", 16, "Number of tiles fetched/decoded concurrently")
	rootCmd.Flags().Int("retries", 1, "Number of retries per tile fetch")
	rootCmd.Flags().Duration("retry-delay", 2_000_000_000, "Base delay between tile fetch retries")
	rootCmd.Flags().Int("compression", 5, "Output compression level, 0-100")
	rootCmd.Flags().StringArray("header", nil, "Extra HTTP header \"Name: Value\", repeatable")
	rootCmd.Flags().Int("max-idle-per-host", 32, "Max idle HTTP connections kept per host")
	rootCmd.Flags().Bool("accept-invalid-certs", false, "Skip TLS certificate verification")
	rootCmd.Flags().Duration("min-interval", 50_000_000, "Minimum delay between requests to the same host")
	rootCmd.Flags().Duration("timeout", 30_000_000_000, "Per-request timeout")
	rootCmd.Flags().Duration("connect-timeout", 6_000_000_000, "Per-connection dial timeout")
	rootCmd.Flags().String("tile-cache", "", "Directory for the persistent tile cache")
	rootCmd.Flags().String("bulk", "", "A bulk URL-list file or URL, resolved in place of INPUT_URI and processed non-interactively")

	flags := []string{
		"dezoomer", "largest", "max-width", "max-height", "zoom-level",
		"image-index", "parallelism", "retries", "retry-delay",
		"compression", "header", "max-idle-per-host", "accept-invalid-certs",
		"min-interval", "timeout", "connect-timeout", "tile-cache", "bulk",
	}
	for _, f := range flags {
		if err := viper.BindPFlag(f, rootCmd.Flags().Lookup(f)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", f, err))
		}
	}
	if err := viper.BindPFlag("logging", rootCmd.PersistentFlags().Lookup("logging")); err != nil {
		panic(fmt.Sprintf("failed to bind flag logging: %v", err))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("DEZOOMIFY")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func initLogging() {
	levelStr := strings.ToLower(viper.GetString("logging"))
	level := slog.LevelInfo
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error", "err":
		level = slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "Unknown log level %q, defaulting to info\n", levelStr)
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger = slog.New(handler)
	slog.SetDefault(logger)
}
