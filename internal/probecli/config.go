package probecli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// displayConfig is Config with durations rendered for humans.
type displayConfig struct {
	Server        string   `yaml:"server"`
	Timeout       string   `yaml:"timeout"`
	Retries       int      `yaml:"retries"`
	RetryInterval string   `yaml:"retry-interval"`
	Daemons       []string `yaml:"daemons"`
	Port          int      `yaml:"port"`
	Output        string   `yaml:"output"`
	Verbose       bool     `yaml:"verbose"`
}

func (a *app) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect probe configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}

			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(a.stderr, "Configuration file: %s\n", used)
			} else {
				fmt.Fprintf(a.stderr, "No configuration file found (using defaults)\n")
			}

			data, err := yaml.Marshal(displayConfig{
				Server:        cfg.Server,
				Timeout:       cfg.Timeout.String(),
				Retries:       cfg.Retries,
				RetryInterval: cfg.RetryInterval.String(),
				Daemons:       cfg.Daemons,
				Port:          cfg.Port,
				Output:        cfg.Output,
				Verbose:       cfg.Verbose,
			})
			if err != nil {
				return fmt.Errorf("error marshaling config: %w", err)
			}
			_, err = a.stdout.Write(data)
			return err
		},
	})
	return cmd
}
