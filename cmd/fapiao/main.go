// Package main implements the fapiao CLI: batch invoice extraction from
// PDFs via the Qwen vision API, authenticated with the OAuth2 device
// authorization flow.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Riceneeder/fapiao/pkg/config"
	"github.com/Riceneeder/fapiao/pkg/qwen"
	"github.com/Riceneeder/fapiao/pkg/qwen/storage"
	"github.com/Riceneeder/fapiao/pkg/qwen/types"
)

var (
	// Version is set at build time.
	version = "0.3.0"
)

type app struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	var (
		configPath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "fapiao",
		Short: "Extract structured data from PDF invoices with the Qwen vision API",
		Long: `fapiao batch-processes folders of PDF invoices: each PDF is converted
to an image, sent to the Qwen vision API, and parsed into structured
invoice fields. Authentication uses the OAuth2 device authorization
flow; credentials are stored locally and refreshed automatically.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg

			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			a.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).With().Timestamp().Logger()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	cmd.AddCommand(newLoginCmd(a))
	cmd.AddCommand(newLogoutCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newProcessCmd(a))

	return cmd
}

// newStore builds the configured credential store.
func (a *app) newStore() (storage.CredentialStore, error) {
	factory := storage.NewFactory(a.logger)
	return factory.Create(&types.StorageConfig{
		Type: types.StorageType(a.cfg.Storage.Type),
		Path: a.cfg.Storage.Path,
	}, config.AppName)
}

// newClient builds the qwen client from configuration.
func (a *app) newClient() (*qwen.Client, error) {
	store, err := a.newStore()
	if err != nil {
		return nil, err
	}

	return qwen.NewClient(qwen.Config{
		ClientID:      a.cfg.Auth.ClientID,
		Scope:         a.cfg.Auth.Scope,
		DeviceAuthURL: a.cfg.Auth.DeviceAuthURL,
		TokenURL:      a.cfg.Auth.TokenURL,
		BaseURL:       a.cfg.Auth.BaseURL,
		Retry: qwen.RetryConfig{
			MaxAttempts: a.cfg.Retry.MaxAttempts,
			BaseDelay:   a.cfg.Retry.BaseDelay,
		},
	}, store, a.logger), nil
}
