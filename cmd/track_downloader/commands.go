package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/track_downloader/internal/batch"
	"github.com/italolelis/track_downloader/internal/http/rest"
	"github.com/italolelis/track_downloader/internal/library"
	"github.com/italolelis/track_downloader/internal/logctx"
	"github.com/italolelis/track_downloader/internal/media"
	"github.com/italolelis/track_downloader/internal/storage"
	"github.com/italolelis/track_downloader/internal/telemetry"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newTrackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "track <id> [out-file]",
		Short: "Acquire a single track",
		Long:  "Acquire a single track. The output file defaults to <id>.mp3 in TARGET_DIR.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := media.ParseContentID(args[0])
			if err != nil {
				return err
			}

			lib := library.New(a.cfg.TargetDir)
			if len(args) == 2 {
				lib = library.NewFile(args[1])
			}

			if err := a.acquireSession(ctx); err != nil {
				return err
			}

			out := a.orchestrator(ctx, lib).AcquireItem(ctx, id)

			switch out.Status {
			case batch.StatusFailed:
				return fmt.Errorf("failed to acquire %s at %s: %w", id, out.Stage, out.Err)
			case batch.StatusSkipped:
				fmt.Fprintf(cmd.OutOrStdout(), "%s already acquired\n", id)
			default:
				fmt.Fprintln(cmd.OutOrStdout(), out.Path)
			}

			return nil
		},
	}
}

func newTracksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tracks <id>...",
		Short: "Acquire several tracks concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]media.ContentID, 0, len(args))

			for _, arg := range args {
				id, err := media.ParseContentID(arg)
				if err != nil {
					return err
				}

				ids = append(ids, id)
			}

			return a.runBatch(cmd, "Batch", ids)
		},
	}
}

func newPlaylistCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "playlist <id>",
		Short: "Acquire every track of a public playlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid playlist id %q", args[0])
			}

			playlist, err := a.catalog.ResolvePlaylist(ctx, id)
			if err != nil {
				return err
			}

			logctx.LoggerFromContext(ctx).Info("resolved playlist", "playlist_id", id, "title", playlist.Title, "tracks", len(playlist.Tracks))

			if len(playlist.Tracks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "playlist has no tracks")

				return nil
			}

			return a.runBatch(cmd, "Playlist "+playlist.Title, playlist.Tracks)
		},
	}
}

func (a *app) runBatch(cmd *cobra.Command, title string, ids []media.ContentID) error {
	ctx := cmd.Context()

	if err := a.acquireSession(ctx); err != nil {
		return err
	}

	var opts []batch.Option

	if !a.quiet {
		bar := progressbar.NewOptions(len(ids),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(title),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionClearOnFinish(),
		)
		defer func() { _ = bar.Finish() }()

		opts = append(opts, batch.WithProgress(func(batch.Progress) { _ = bar.Add(1) }))
	}

	report := a.orchestrator(ctx, library.New(a.cfg.TargetDir), opts...).AcquireBatch(ctx, ids)

	a.notify(ctx, title, report)

	fmt.Fprintln(cmd.OutOrStdout(), report.Summary())

	for _, f := range report.Failures() {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s failed at %s: %v\n", f.ID, f.Stage, f.Err)
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d of %d items failed", report.Failed, len(ids))
	}

	return nil
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the acquisitions API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := a.acquireSession(ctx); err != nil {
		return err
	}

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := a.setupServer(ctx)

	go func() {
		logger.Info("Initializing API support", "host", a.cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// notifyingAcquirer sends a notification after every API batch.
type notifyingAcquirer struct {
	app *app
	orc *batch.Orchestrator
}

func (n notifyingAcquirer) AcquireBatch(ctx context.Context, ids []media.ContentID) *batch.Report {
	report := n.orc.AcquireBatch(ctx, ids)
	n.app.notify(ctx, "API batch", report)

	return report
}

// setupServer prepares the handlers and services to create the http rest server.
func (a *app) setupServer(ctx context.Context) *http.Server {
	acquirer := notifyingAcquirer{app: a, orc: a.orchestrator(ctx, library.New(a.cfg.TargetDir))}

	var ledger storage.AcquisitionReadRepository
	if a.ledger != nil {
		ledger = a.ledger
	}

	handler := rest.NewAcquisitionHandler(acquirer, ledger, a.cfg.API.Username, a.cfg.API.Password)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID, telemetry.HTTPLogging, a.tel.Middleware)

	r.Get("/healthz", rest.HandleHealth)
	r.Handle("/metrics", a.tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         a.cfg.Web.BindAddress,
		ReadTimeout:  a.cfg.Web.ReadTimeout,
		WriteTimeout: a.cfg.Web.WriteTimeout,
		IdleTimeout:  a.cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
