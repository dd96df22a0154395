package probecli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/nodeclaim/pkg/probe"
)

func (a *app) newRunCommand() *cobra.Command {
	var challenge string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full verification exchange for a challenge",
		Long: `Run sends the challenge to the server, checks the local daemon and port,
and confirms the result. Run it on the node's host so the confirm call
originates from the node's IP.

Example:
  nodeclaim-probe run --server https://verify.example.org/v1/probe --challenge <challenge>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if cfg.Server == "" {
				return errors.New("--server is required")
			}
			if challenge == "" {
				return errors.New("--challenge is required")
			}

			logger := a.logger(cfg)
			client := probe.NewClient(probe.ClientConfig{
				ServerURL:     cfg.Server,
				Timeout:       cfg.Timeout,
				Retries:       cfg.Retries,
				RetryInterval: cfg.RetryInterval,
				UserAgent:     "nodeclaim-probe/" + Version,
			}, logger)
			runner := probe.NewRunner(client, probe.NewInspector(a.newCommander(), "", logger), cfg.Daemons, logger)

			// Two HTTP calls with retries, plus up to three strategies for
			// each of the two local checks.
			budget := 2*time.Duration(cfg.Retries+1)*(cfg.Timeout+cfg.RetryInterval) + 6*probe.DefaultCheckTimeout
			ctx, cancel := context.WithTimeout(cmd.Context(), budget)
			defer cancel()

			res, runErr := runner.Run(ctx, challenge)
			if err := a.write(cfg.Output, res, runErr); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("verification failed: %w", runErr)
			}
			return nil
		},
	}

	cmd.Flags().String("server", "", "probe endpoint base URL, e.g. https://verify.example.org/v1/probe")
	cmd.Flags().StringVar(&challenge, "challenge", "", "challenge from the verification request")
	cmd.Flags().Duration("timeout", probe.DefaultTimeout, "timeout for each HTTP call")
	cmd.Flags().Int("retries", probe.DefaultRetries, "retries for unreachable server or 5xx responses")
	_ = a.v.BindPFlag("server", cmd.Flags().Lookup("server"))
	_ = a.v.BindPFlag("timeout", cmd.Flags().Lookup("timeout"))
	_ = a.v.BindPFlag("retries", cmd.Flags().Lookup("retries"))
	return cmd
}

func (a *app) newCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the local process and port checks without contacting the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			port := cfg.Port
			if port <= 0 || port > 65535 {
				return fmt.Errorf("invalid port %d", port)
			}

			logger := a.logger(cfg)
			runner := probe.NewRunner(nil, probe.NewInspector(a.newCommander(), "", logger), cfg.Daemons, logger)
			return a.write(cfg.Output, runner.Inspect(cmd.Context(), port), nil)
		},
	}
	cmd.Flags().Int("port", probe.DefaultNodePort, "node port to check")
	_ = a.v.BindPFlag("port", cmd.Flags().Lookup("port"))
	return cmd
}
