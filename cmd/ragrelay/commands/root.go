package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/0xcro3dile/ragrelay-go/internal/adapters/store"
	"github.com/0xcro3dile/ragrelay-go/internal/config"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/ports"
	"github.com/0xcro3dile/ragrelay-go/internal/infrastructure/observability"
)

const appName = "ragrelay"

var (
	// Global flags
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Chat gateway between clients and a retrieval-augmented generation service",
	Long: `ragrelay - relays chat requests to a generation upstream, streams its
progress to clients and keeps a durable per-conversation transcript.

Configuration is read from a TOML file (--config) and RAGRELAY_* environment
variables, which take precedence.

Examples:
  # Run the gateway
  ragrelay serve --config ragrelay.toml

  # Create the schema ahead of the first start
  ragrelay migrate --config ragrelay.toml

  # Inspect a conversation
  ragrelay transcript 0b6f0c1e-... --check`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the TOML config file")
}

// loadConfig loads the configuration and builds the process logger.
func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := observability.InitLogger(appName, cfg.Log.Format, level)
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg config.Config) (ports.Store, error) {
	s, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	return s, nil
}
