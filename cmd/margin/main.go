package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor  bool
	userFlag string
)

var rootCmd = &cobra.Command{
	Use:           "margin",
	Short:         "margin: a reading companion that discusses books and recommends what to read next",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !isTerminal(os.Stdout) {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", os.Getenv("MARGIN_USER"), "user id to act as (default $MARGIN_USER)")

	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd, mcpCmd)
	rootCmd.AddCommand(profileCmd, recommendCmd, chatCmd, discussCmd, historyCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// mustUser returns the --user value or an error telling how to set it.
func mustUser() (string, error) {
	if userFlag == "" {
		return "", fmt.Errorf("no user given: pass --user or set MARGIN_USER")
	}
	return userFlag, nil
}
