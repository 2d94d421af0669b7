package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:       "list [plugins|themes]",
	Short:     "List installed plugins and themes",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"plugins", "themes"},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := ""
		if len(args) == 1 {
			kind = map[string]string{"plugins": "plugin", "themes": "theme"}[args[0]]
		}
		exts, err := client.Extensions(cmd.Context(), kind)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, e := range exts {
			fmt.Fprintf(out, "%-6s %-40s %s\n", e.Type, e.Identifier, e.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
