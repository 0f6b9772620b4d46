package servecmder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/namikmesic/sidekick/internal/config"
	"github.com/namikmesic/sidekick/internal/jetstream"
	"github.com/namikmesic/sidekick/internal/processor"
	"github.com/namikmesic/sidekick/internal/proxy"
	"github.com/namikmesic/sidekick/internal/storage"
)

const serveLongDesc string = `Run the analytics proxy.

Every request is forwarded to the Anthropic API. Streamed responses are
relayed to the client as they arrive while a background processor decodes
the same bytes into chunks, assembles the message and records its usage in
Postgres.

Configuration comes from the environment (PORT, DATABASE_URL,
ANTHROPIC_UPSTREAM_URL, NATS_ENABLED, ...); flags override it.

Examples:
  sidekick serve
  sidekick serve --port 9000 --no-nats`

const serveShortDesc string = "Run the analytics proxy"

type serveCommander struct {
	port   int
	noNATS bool
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = cmder.port
			}
			if cmder.noNATS {
				cfg.NATSEnabled = false
			}
			return cmder.run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&cmder.port, "port", "p", 8090, "Port to listen on")
	cmd.Flags().BoolVar(&cmder.noNATS, "no-nats", false, "Mirror streams in-process instead of through embedded JetStream")

	return cmd
}

func (c *serveCommander) run(ctx context.Context, cfg *config.Config) error {
	pool, err := storage.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := storage.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	var js nats.JetStreamContext
	if cfg.NATSEnabled {
		natsServer, err := jetstream.NewServer(cfg.NATSStoreDir)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		defer natsServer.Shutdown()

		var nc *nats.Conn
		nc, js, err = natsServer.JetStream()
		if err != nil {
			return fmt.Errorf("failed to open JetStream: %w", err)
		}
		defer nc.Drain()
	}

	writer := storage.NewBatchWriter(pool, storage.WriterConfig{
		BufferSize:    cfg.WriterBufferSize,
		BatchSize:     cfg.WriterBatchSize,
		FlushInterval: cfg.WriterFlushInterval,
	})
	defer writer.Shutdown()

	proc := processor.New(writer)
	handler, err := proxy.NewHandler(cfg, writer, proc, js)
	if err != nil {
		return fmt.Errorf("invalid proxy configuration: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("upstream", cfg.AnthropicBaseURL).
			Bool("jetstream", js != nil).
			Msg("sidekick proxy started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
	log.Info().Msg("shutdown complete")
	return nil
}
