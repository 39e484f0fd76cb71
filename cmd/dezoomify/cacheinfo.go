package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/dezoomify-go/internal/cache"
)

// cacheInfoCmd prints tile-cache occupancy: a small ambient
// convenience, not a new spec surface (SPEC_FULL.md §6).
var cacheInfoCmd = &cobra.Command{
	Use:   "cache-info PATH",
	Short: "Print tile cache occupancy",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheInfo,
}

func init() {
	rootCmd.AddCommand(cacheInfoCmd)
}

func runCacheInfo(cmd *cobra.Command, args []string) error {
	c, err := cache.Open(args[0])
	if err != nil {
		return fmt.Errorf("open tile cache: %w", err)
	}
	info, err := c.Info()
	if err != nil {
		return fmt.Errorf("read tile cache info: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "entries: %d\nbytes: %d\n", info.Entries, info.Bytes)
	return nil
}
