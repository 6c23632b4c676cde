// Package cli holds the cobra/viper wiring shared by the binaries in cmd/.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ieee0824/emotion-go/dataset"
	"github.com/ieee0824/emotion-go/internal/config"
	"github.com/ieee0824/emotion-go/internal/logging"
)

// RunFunc is the body of a command once configuration is loaded.
type RunFunc func(ctx context.Context, cmd *cobra.Command, cfg *config.Config, log *logrus.Logger) error

// Command pairs a cobra command with the viper instance its flags bind to.
type Command struct {
	*cobra.Command
	Viper *viper.Viper
	keys  map[string]string
}

// New builds a command with the common flags --config, --log-level,
// --root and --labels. Flag defaults are the configuration defaults, so
// callers adding flags should take theirs from c.Viper too.
func New(use, short string, run RunFunc) *Command {
	c := &Command{
		Viper: config.New(),
		keys: map[string]string{
			"log.level":      "log-level",
			"dataset.root":   "root",
			"dataset.labels": "labels",
		},
	}
	var cfgFile string
	c.Command = &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.BindFlags(c.Viper, cmd, c.keys); err != nil {
				return err
			}
			cfg, err := config.Load(c.Viper, cfgFile)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log.Level, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cmd, cfg, log)
		},
	}
	f := c.Flags()
	f.StringVar(&cfgFile, "config", "", "config file (default: config.yaml in . or ./config)")
	f.String("log-level", c.Viper.GetString("log.level"), "log level (debug, info, warn, error)")
	f.String("root", c.Viper.GetString("dataset.root"), "dataset root directory")
	f.StringSlice("labels", c.Viper.GetStringSlice("dataset.labels"), "emotion directory names")
	return c
}

// Bind maps a config key to a flag added by the caller.
func (c *Command) Bind(key, flag string) {
	c.keys[key] = flag
}

// Execute runs cmd with a context canceled on SIGINT/SIGTERM and exits
// with status 1 on error.
func Execute(c *Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := c.ExecuteContext(ctx); err != nil {
		stop()
		if !errors.Is(err, dataset.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", c.Name(), err)
		}
		os.Exit(1)
	}
}
