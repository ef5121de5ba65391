// Command autochatter watches a YouTube channel and comments on new uploads.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "autochatter",
		Short:         "Comment on new uploads of a YouTube channel",
		Long:          `AutoChatter polls a YouTube channel and posts a randomized comment, optionally with a promotional link, on every new upload.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (yaml or json)")

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newAuthCmd(&configPath),
		newStateCmd(&configPath),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show AutoChatter version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "autochatter v%s\n", version)
		},
	}
}
