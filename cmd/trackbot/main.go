// Package main is the trackbot CLI.
//
// Usage:
//
//	trackbot serve -c config.yaml        # run the bot
//	trackbot check -c config.yaml U123   # print one identity's status
//	trackbot poll -c config.yaml         # run a single poll and exit
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "trackbot",
	Short: "Submission status notifications for chat",
	Long: `trackbot watches the YSWS submission list and messages subscribers
when the review status of their submission changes.

Users subscribe from chat with /track and can ask for their current
status with /status at any time.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trackbot %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "./config.json", "path to config file (JSON or YAML)")
	rootCmd.AddCommand(versionCmd)
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	return p
}
