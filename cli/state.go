package main

import (
	"fmt"
	"io"
	"log/slog"

	"autochatter/config"
	"autochatter/storage"

	"github.com/spf13/cobra"
)

func newStateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show how many videos are tracked and when the channel was last checked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return startupError(err)
			}
			return printState(cmd.OutOrStdout(), cfg)
		},
	}
}

func printState(w io.Writer, cfg *config.Config) error {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.OpenReadOnly(cfg.StateBackend, cfg.StateFile, quiet)
	if err != nil {
		return err
	}
	defer store.Close()

	last, ok := store.LastCheck()
	if !ok {
		last = "never"
	}
	fmt.Fprintf(w, "State:        %s (%s)\n", cfg.StateFile, cfg.StateBackend)
	fmt.Fprintf(w, "Tracked:      %d video(s)\n", store.Len())
	fmt.Fprintf(w, "Last checked: %s\n", last)
	return nil
}
