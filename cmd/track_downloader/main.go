package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/italolelis/track_downloader/internal/batch"
	"github.com/italolelis/track_downloader/internal/catalog"
	"github.com/italolelis/track_downloader/internal/cleanup"
	"github.com/italolelis/track_downloader/internal/config"
	"github.com/italolelis/track_downloader/internal/decrypt"
	"github.com/italolelis/track_downloader/internal/gateway"
	"github.com/italolelis/track_downloader/internal/library"
	"github.com/italolelis/track_downloader/internal/logctx"
	"github.com/italolelis/track_downloader/internal/media"
	"github.com/italolelis/track_downloader/internal/notifier"
	"github.com/italolelis/track_downloader/internal/session"
	"github.com/italolelis/track_downloader/internal/storage/sqlite"
	"github.com/italolelis/track_downloader/internal/telemetry"
	"github.com/spf13/cobra"
)

const serviceName = "track_downloader"

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)

	a.close()
	stop()

	if err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

// app holds the components shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	tel      *telemetry.Telemetry
	db       *sql.DB
	ledger   *sqlite.InstrumentedAcquisitionRepository
	sessions *session.Manager
	catalog  *catalog.InstrumentedClient
	decrypt  *decrypt.Decryptor
	notif    notifier.Notifier
	quiet    bool
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Acquire and decrypt tracks from the catalog service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := a.setup(cmd.Context())
			if err != nil {
				return err
			}

			cmd.SetContext(ctx)

			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Don't render a progress bar")

	root.AddCommand(newTrackCmd(a), newTracksCmd(a), newPlaylistCmd(a), newServeCmd(a))

	return root
}

func (a *app) setup(ctx context.Context) (context.Context, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return ctx, fmt.Errorf("config error: %w", err)
	}

	a.cfg = cfg

	a.logger = slog.New(logctx.NewHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(a.logger)

	ctx = logctx.WithLogger(ctx, a.logger)

	a.logger.Info("track downloader starting...", "log_level", cfg.LogLevel, "version", version)

	// =========================================================================
	// Start Telemetry
	a.tel, err = telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return ctx, fmt.Errorf("failed to start telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	if cfg.DBPath != "" {
		a.db, err = sqlite.InitDB(cfg.DBPath)
		if err != nil {
			return ctx, fmt.Errorf("DB error: %w", err)
		}

		a.ledger = sqlite.NewInstrumentedAcquisitionRepository(a.db, a.tel)
	}

	// =========================================================================
	// Start Catalog Client
	httpClient, err := gateway.NewHTTPClient(cfg.RequestTimeout)
	if err != nil {
		return ctx, fmt.Errorf("failed to build http client: %w", err)
	}

	gw := gateway.New(cfg.GatewayURL, cfg.MediaURL, cfg.PublicAPIURL,
		gateway.WithHTTPClient(httpClient),
		gateway.WithRateLimit(cfg.RequestsPerSecond),
	)

	a.sessions = session.NewManager(gw, a.tel)
	a.catalog = catalog.NewInstrumentedClient(catalog.NewClient(gw, cfg.PreferredFormats()), a.tel)

	a.decrypt, err = decrypt.New([]byte(cfg.StreamSecret), cfg.IV())
	if err != nil {
		return ctx, fmt.Errorf("failed to build decryptor: %w", err)
	}

	// =========================================================================
	// Start Notification
	if cfg.DiscordWebhookURL != "" {
		a.notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL, HTTPClient: httpClient}
	}

	return ctx, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}

	if a.tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.tel.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown telemetry", "err", err)
		}
	}
}

// acquireSession performs the initial handshake, retrying with exponential
// backoff. A session that cannot be established fails the whole run.
func (a *app) acquireSession(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	_, err := backoff.Retry(ctx, func() (media.Session, error) {
		sess, err := a.sessions.Acquire(ctx)
		if err != nil {
			logger.Warn("handshake attempt failed", "err", err)
		}

		return sess, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(a.cfg.SessionMaxTries),
	)
	if err != nil {
		var authErr *media.AuthError
		if errors.As(err, &authErr) {
			return fmt.Errorf("authentication error: %w", err)
		}

		return fmt.Errorf("failed to establish session: %w", err)
	}

	return nil
}

// orchestrator builds a batch orchestrator writing to dir, after sweeping
// partial files left there by an earlier run.
func (a *app) orchestrator(ctx context.Context, lib *library.Library, opts ...batch.Option) *batch.Orchestrator {
	if _, err := cleanup.DeleteStalePartials(ctx, lib.Dir(), a.cfg.PartialMaxAge); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to delete stale partial files", "dir", lib.Dir(), "err", err)
	}

	opts = append([]batch.Option{
		batch.WithMaxParallel(a.cfg.MaxParallel),
		batch.WithTelemetry(a.tel),
	}, opts...)

	if a.ledger != nil {
		opts = append(opts, batch.WithLedger(a.ledger))
	}

	return batch.New(a.catalog, a.sessions, a.decrypt, lib, opts...)
}

func (a *app) notify(ctx context.Context, title string, report *batch.Report) {
	if a.notif == nil {
		return
	}

	if err := a.notif.Notify(ctx, notifier.FormatReport(title, report)); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send notification", "err", err)
	}
}
