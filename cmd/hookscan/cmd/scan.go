package cmd

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sydlexius/coremonitor/internal/scanclient"
)

var (
	scanType string
	jsonOut  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <identifier>",
	Short: "Scan one plugin or theme",
	Long: `Scan one plugin or theme and print its hooks per file.

Examples:
  hookscan scan akismet/akismet.php
  hookscan scan hello.php
  hookscan scan twentytwentyfour --type theme --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if scanType != "plugin" && scanType != "theme" {
			return fmt.Errorf("--type must be plugin or theme")
		}

		var onBatch func(*scanclient.Batch) error
		if f, ok := cmd.ErrOrStderr().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			onBatch = func(b *scanclient.Batch) error {
				drawProgress(f, b.ProcessedFiles, b.TotalFiles, b.Completed)
				return nil
			}
		}

		report, err := client.Scan(cmd.Context(), args[0], scanType, onBatch)
		if err != nil {
			return err
		}
		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		printReport(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanType, "type", "plugin", "extension type: plugin or theme")
	scanCmd.Flags().BoolVar(&jsonOut, "json", false, "print the report as JSON")
	rootCmd.AddCommand(scanCmd)
}

const barWidth = 30

func drawProgress(w io.Writer, done, total int, finished bool) {
	filled := barWidth
	if total > 0 {
		filled = done * barWidth / total
	}
	fmt.Fprintf(w, "\r[%s%s] %d/%d files", strings.Repeat("#", filled), strings.Repeat(" ", barWidth-filled), done, total)
	if finished {
		fmt.Fprintln(w)
	}
}

func printReport(w io.Writer, r *scanclient.Report) {
	if len(r.Files) == 0 {
		fmt.Fprintln(w, "No hooks found.")
		return
	}
	paths := make([]string, 0, len(r.Files))
	for p := range r.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		fr := r.Files[p]
		fmt.Fprintf(w, "%s\n", p)
		for _, group := range []struct {
			label string
			hooks []scanclient.Hook
		}{{"action", fr.Actions}, {"filter", fr.Filters}} {
			for _, h := range group.hooks {
				fmt.Fprintf(w, "  %-6s line %-5d %s\n", group.label, h.Line, html.UnescapeString(h.Content))
			}
		}
	}
	fmt.Fprintf(w, "\n%d of %d files contain hooks.\n", len(r.Files), r.TotalFiles)
}
