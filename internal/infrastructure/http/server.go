// Package http provides the HTTP server infrastructure.
// Clean Architecture: Framework/driver layer - outermost circle.
package http

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/ports"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/usecases"
	"github.com/0xcro3dile/ragrelay-go/internal/infrastructure/observability"
)

// Options configures the server.
type Options struct {
	Addr        string
	CORSOrigins []string
	OwnerHeader string
}

// Server is the client-facing HTTP API of the gateway.
type Server struct {
	chat     *usecases.ChatUseCase
	feedback *usecases.FeedbackUseCase
	auth     ports.Authenticator
	logger   zerolog.Logger
	opts     Options
	router   *gin.Engine
	started  time.Time
}

// NewServer creates a new HTTP server with its routes registered.
func NewServer(
	chat *usecases.ChatUseCase,
	feedback *usecases.FeedbackUseCase,
	auth ports.Authenticator,
	logger zerolog.Logger,
	opts Options,
) *Server {
	if opts.OwnerHeader == "" {
		opts.OwnerHeader = "X-User-ID"
	}

	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(corsConfig(opts)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		chat:     chat,
		feedback: feedback,
		auth:     auth,
		logger:   logger,
		opts:     opts,
		router:   r,
		started:  time.Now(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		// No WriteTimeout: streamed generations are bounded by the upstream timeout.
	}

	s.logger.Info().Str("addr", s.opts.Addr).Msg("ragrelay server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsConfig(opts Options) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Type", opts.OwnerHeader},
		ExposeHeaders: []string{headerConversationID},
		MaxAge:        12 * time.Hour,
	}
	origins := normalizeOrigins(opts.CORSOrigins)
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if v := strings.TrimSpace(o); v != "" {
			out = append(out, v)
		}
	}
	return out
}
