// Package main provides campaignctl, a command line client for the campaign runner API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "campaignctl",
	Short: "Schedule and inspect engagement campaigns",
	Long: `campaignctl talks to a running campaign runner server.

Examples:
  campaignctl schedule --name spring --link https://instagram.com/p/abc
  campaignctl order --engagement Likes --link https://instagram.com/p/abc --quantity 100
  campaignctl status campaign_spring_1a2b3c4d
  campaignctl stop campaign_spring_1a2b3c4d
  campaignctl active
  campaignctl history --limit 20`,
	SilenceUsage: true,
}

func init() {
	defaultServer := os.Getenv("CAMPAIGN_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "campaign runner base URL (env CAMPAIGN_SERVER)")

	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(orderCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(activeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(balanceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
