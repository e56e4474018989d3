package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/config"
	srv "github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/server"
)

func tokenCMD(cfgPath *string) *cobra.Command {
	var ttl time.Duration
	var token = &cobra.Command{
		Use:   "token <subject>",
		Short: "Sign an API token with server.jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if cfg.Server.JWTSecret == "" {
				return errors.New("server.jwt_secret is not set")
			}
			signed, err := srv.SignToken(args[0], []byte(cfg.Server.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return token
}
