package main

import (
	"fmt"

	"autochatter/auth"
	"autochatter/config"
	"autochatter/logging"
	"autochatter/youtube"

	"github.com/spf13/cobra"
)

func newAuthCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Run the OAuth consent flow and cache the token",
		Long: `Opens the Google consent page for the account that will post comments,
then writes the resulting token to token_file so "run" can start unattended.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return startupError(err)
			}
			logger, closeLog, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer closeLog()

			authn, err := auth.New(auth.Config{
				ClientSecretsFile: cfg.ClientSecretsFile,
				TokenFile:         cfg.TokenFile,
				Scopes:            []string{youtube.Scope},
			}, logger)
			if err != nil {
				return startupError(err)
			}
			if _, err := authn.Login(cmd.Context()); err != nil {
				return fmt.Errorf("authorization failed: %w", err)
			}
			if _, err := auth.LoadToken(cfg.TokenFile); err != nil {
				return fmt.Errorf("token was not saved: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", cfg.TokenFile)
			return nil
		},
	}
}
