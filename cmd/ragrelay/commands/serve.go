package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/0xcro3dile/ragrelay-go/internal/adapters/auth"
	"github.com/0xcro3dile/ragrelay-go/internal/adapters/filewatcher"
	"github.com/0xcro3dile/ragrelay-go/internal/adapters/upstream"
	"github.com/0xcro3dile/ragrelay-go/internal/config"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/usecases"
	httpserver "github.com/0xcro3dile/ragrelay-go/internal/infrastructure/http"
	"github.com/0xcro3dile/ragrelay-go/internal/infrastructure/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		telemetry := observability.NewTelemetry()
		client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout.Duration)
		relay := usecases.NewRelay(client, telemetry, logger.With().Str("component", "relay").Logger(), cfg.Upstream.Timeout.Duration)
		reconciler := usecases.NewReconciler(st, client, telemetry, logger.With().Str("component", "reconciler").Logger())
		chat := usecases.NewChatUseCase(relay, reconciler, st, telemetry, logger, cfg.Server.HistoryLimit)
		feedback := usecases.NewFeedbackUseCase(st)

		server := httpserver.NewServer(chat, feedback, auth.NewHeaderAuthenticator(cfg.Auth.DefaultOwner), logger, httpserver.Options{
			Addr:        cfg.Server.Addr,
			CORSOrigins: cfg.Server.CORSOrigins,
			OwnerHeader: cfg.Auth.OwnerHeader,
		})

		if configPath != "" {
			watcher, err := filewatcher.NewFSNotifyWatcher([]string{configPath}, logger)
			if err != nil {
				return err
			}
			defer watcher.Stop()

			reloader := config.NewReloader(configPath, cfg, watcher, logger)
			reloader.OnChange(config.ApplyLogLevel)
			go func() {
				if err := reloader.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Warn().Err(err).Msg("config watch stopped")
				}
			}()
		}

		logger.Info().
			Str("upstream", cfg.Upstream.BaseURL).
			Str("store", cfg.Store.Driver).
			Msg("gateway ready")

		// Start blocks until ctx is done.
		if err := server.Start(ctx); err != nil {
			return err
		}
		logger.Info().Msg("gateway stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
