package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tendant/nodeclaim/pkg/auth"
)

func newTokenCommand() *cobra.Command {
	var (
		subject string
		role    string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for a claimant or moderator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}

			id := uuid.New()
			if subject != "" {
				if id, err = uuid.Parse(subject); err != nil {
					return fmt.Errorf("invalid --subject: %w", err)
				}
			}

			tokens := auth.NewTokenService(auth.TokenConfig{
				Secret: []byte(cfg.JWTSecret),
				Issuer: cfg.JWTIssuer,
				TTL:    cfg.TokenTTL,
			})
			token, expiresAt, err := tokens.Issue(id, auth.Role(role))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "subject:    %s\n", id)
			fmt.Fprintf(out, "role:       %s\n", role)
			fmt.Fprintf(out, "expires_at: %s\n", expiresAt.Format(time.RFC3339))
			fmt.Fprintf(out, "token:      %s\n", token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "user ID (random when empty)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleClaimant), "claimant or moderator")
	return cmd
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire abandoned verification requests once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			db, err := openDB(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			sessions, _ := newSessionManager(cfg, db, logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			n, err := sessions.ExpireStale(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d request(s)\n", n)
			return nil
		},
	}
}

func newStepUpSecretCommand() *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "stepup-secret",
		Short: "Generate a moderator TOTP secret for MODERATOR_TOTP_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, url, err := auth.GenerateStepUpSecret("nodeclaim", account)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "MODERATOR_TOTP_SECRET=%s\n%s\n", secret, url)
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "moderators", "account name shown in authenticator apps")
	return cmd
}
