// Package probecli is the command line of the network-probe client.
package probecli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tendant/nodeclaim/pkg/probe"
)

// Version is set at build time with -ldflags.
var Version = "dev"

const envPrefix = "NODECLAIM_PROBE"

// Config is the effective client configuration.
type Config struct {
	Server        string        `mapstructure:"server"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retries       int           `mapstructure:"retries"`
	RetryInterval time.Duration `mapstructure:"retry-interval"`
	Daemons       []string      `mapstructure:"daemons"`
	Port          int           `mapstructure:"port"`
	Output        string        `mapstructure:"output"`
	Verbose       bool          `mapstructure:"verbose"`
}

type app struct {
	v       *viper.Viper
	cfgFile string
	stdout  io.Writer
	stderr  io.Writer

	// newCommander is swapped in tests.
	newCommander func() probe.Commander
}

// Execute runs the probe CLI with os.Args.
func Execute() error {
	return NewRootCommand(os.Stdout, os.Stderr).Execute()
}

// NewRootCommand builds the command tree with its own viper instance.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	return newApp(stdout, stderr).rootCommand()
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		v:            viper.New(),
		stdout:       stdout,
		stderr:       stderr,
		newCommander: func() probe.Commander { return probe.ExecCommander{} },
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "nodeclaim-probe",
		Short: "Prove from this host that it runs the node being claimed",
		Long: `nodeclaim-probe is run by a node operator on the node's own host.

It exchanges the verification challenge with the server, checks locally that
the node daemon is running and its port is listening, and reports the result
from this host's address so the server can bind the claim to the node's IP.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (NODECLAIM_PROBE_*)
3. Config file (~/.nodeclaim/probe.yaml)
4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: $HOME/.nodeclaim/probe.yaml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	root.PersistentFlags().StringP("output", "o", "text", "output format: text, json or yaml")
	root.PersistentFlags().StringSlice("daemon", probe.DefaultDaemonNames, "daemon process names to look for")
	_ = a.v.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))
	_ = a.v.BindPFlag("output", root.PersistentFlags().Lookup("output"))
	_ = a.v.BindPFlag("daemons", root.PersistentFlags().Lookup("daemon"))

	a.v.SetDefault("timeout", probe.DefaultTimeout)
	a.v.SetDefault("retries", probe.DefaultRetries)
	a.v.SetDefault("retry-interval", probe.DefaultRetryInterval)
	a.v.SetDefault("port", probe.DefaultNodePort)

	root.AddCommand(
		a.newRunCommand(),
		a.newCheckCommand(),
		a.newConfigCommand(),
		a.newVersionCommand(),
	)
	return root
}

// initConfig reads in config file and ENV variables.
func (a *app) initConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(filepath.Join(home, ".nodeclaim"))
		a.v.SetConfigType("yaml")
		a.v.SetConfigName("probe")
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (a *app) config() (Config, error) {
	var cfg Config
	if err := a.v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	switch cfg.Output {
	case "text", "json", "yaml":
	default:
		return cfg, fmt.Errorf("unknown output format %q", cfg.Output)
	}
	return cfg, nil
}

func (a *app) logger(cfg Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
}

func (a *app) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "nodeclaim-probe %s\n", Version)
		},
	}
}
