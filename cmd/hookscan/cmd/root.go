package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/sydlexius/coremonitor/internal/scanclient"
)

var (
	serverURL string
	token     string
	reqRate   float64
	client    *scanclient.Client
)

var rootCmd = &cobra.Command{
	Use:   "hookscan",
	Short: "Scan WordPress plugins and themes for action and filter hooks",
	Long: `hookscan drives a coremonitor server's batch scanner from the command line.

It authenticates with an API token created by "coremonitor create-token"
and prints every do_action and apply_filters call it finds.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip initialization for help commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if token == "" {
			return fmt.Errorf("an API token is required (--token or CM_TOKEN)")
		}
		var opts []scanclient.Option
		if reqRate > 0 {
			opts = append(opts, scanclient.WithRate(rate.Limit(reqRate)))
		}
		client = scanclient.New(serverURL, token, opts...)
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	server := os.Getenv("CM_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", server, "coremonitor base URL, including any base path")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("CM_TOKEN"), "API token")
	rootCmd.PersistentFlags().Float64Var(&reqRate, "rate", 0, "maximum requests per second (0 means unlimited)")
}
