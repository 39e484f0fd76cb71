package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/dezoomify-go/internal/dezoomer"
)

// dezoomersCmd lists every registered dezoomer name, adapting the
// teacher's "textures" list-subcommand idiom (internal/cmd/textures.go)
// from "list the generatable texture set" to "list the detectable
// viewer formats" (§4.9).
var dezoomersCmd = &cobra.Command{
	Use:   "dezoomers",
	Short: "List the available dezoomers",
	RunE:  runDezoomers,
}

func init() {
	rootCmd.AddCommand(dezoomersCmd)
}

func runDezoomers(cmd *cobra.Command, args []string) error {
	r := dezoomer.NewResolver(logger)
	for _, name := range r.Names() {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}
