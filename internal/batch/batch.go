// Package batch acquires many catalog items concurrently. Each item runs in its
// own goroutine and reaches a terminal Outcome independently; only a failed
// session renewal can affect more than one item.
package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/italolelis/track_downloader/internal/logctx"
	"github.com/italolelis/track_downloader/internal/media"
	"github.com/italolelis/track_downloader/internal/storage"
	"github.com/italolelis/track_downloader/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Catalog resolves, fetches and describes items.
type Catalog interface {
	Resolve(ctx context.Context, id media.ContentID, sess media.Session) (media.StreamLocation, error)
	Fetch(ctx context.Context, loc media.StreamLocation) ([]byte, error)
	ResolveMetadata(ctx context.Context, id media.ContentID) (*media.Metadata, error)
	FetchCover(ctx context.Context, url string) ([]byte, error)
}

// Sessions hands out the current session and renews it after a token failure.
type Sessions interface {
	Current() (media.Session, uint64)
	Renew(ctx context.Context, stale uint64) (media.Session, error)
}

// Decryptor turns an encrypted stream into plain audio.
type Decryptor interface {
	Decrypt(id media.ContentID, blob []byte) ([]byte, error)
}

// Sink materializes decrypted tracks.
type Sink interface {
	Exists(id media.ContentID) bool
	Write(ctx context.Context, track *media.Track) (string, error)
}

// Ledger records the latest attempt per item.
type Ledger interface {
	TrackAcquisition(ctx context.Context, record storage.AcquisitionRecord) error
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Stage is the last stage an item reached.
type Stage string

const (
	StageLookup  Stage = "lookup"
	StageSession Stage = "session"
	StageResolve Stage = "resolve"
	StageFetch   Stage = "fetch"
	StageDecrypt Stage = "decrypt"
	StageWrite   Stage = "write"
	StageDone    Stage = "done"
)

// Outcome is the terminal state of one item.
type Outcome struct {
	ID       media.ContentID
	Status   Status
	Stage    Stage
	Path     string
	Format   media.Format
	Err      error
	Duration time.Duration
}

// Progress is reported after every item of a batch completes.
type Progress struct {
	Completed int
	Total     int
	Outcome   Outcome
}

type Option func(*Orchestrator)

// WithMaxParallel caps the number of items in flight. Zero or less means
// unbounded.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) {
		o.maxParallel = n
	}
}

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *Orchestrator) {
		o.telemetry = tel
	}
}

// WithLedger records succeeded and failed items. Skipped items are not
// recorded again.
func WithLedger(l Ledger) Option {
	return func(o *Orchestrator) {
		o.ledger = l
	}
}

// WithProgress registers a hook called from item goroutines; it must be safe
// for concurrent use.
func WithProgress(fn func(Progress)) Option {
	return func(o *Orchestrator) {
		o.onProgress = fn
	}
}

type Orchestrator struct {
	catalog   Catalog
	sessions  Sessions
	decryptor Decryptor
	sink      Sink

	maxParallel int
	telemetry   *telemetry.Telemetry
	ledger      Ledger
	onProgress  func(Progress)

	completed atomic.Int64
}

func New(catalog Catalog, sessions Sessions, decryptor Decryptor, sink Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:   catalog,
		sessions:  sessions,
		decryptor: decryptor,
		sink:      sink,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Completed returns the number of items that reached a terminal state since
// the orchestrator was created.
func (o *Orchestrator) Completed() int {
	return int(o.completed.Load())
}

// AcquireBatch acquires every id concurrently and waits for all of them. A
// failing item never cancels its siblings.
func (o *Orchestrator) AcquireBatch(ctx context.Context, ids []media.ContentID) *Report {
	logger := logctx.LoggerFromContext(ctx)

	outcomes := make([]Outcome, len(ids))

	var (
		g    errgroup.Group
		done atomic.Int64
	)

	if o.maxParallel > 0 {
		g.SetLimit(o.maxParallel)
	}

	logger.InfoContext(ctx, "starting batch", "items", len(ids), "max_parallel", o.maxParallel)

	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = o.AcquireItem(ctx, id)

			n := done.Add(1)
			if o.onProgress != nil {
				o.onProgress(Progress{Completed: int(n), Total: len(ids), Outcome: outcomes[i]})
			}

			return nil
		})
	}

	_ = g.Wait()

	report := NewReport(outcomes)

	logger.InfoContext(ctx, "batch finished", "summary", report.Summary())

	return report
}

// AcquireItem takes one item from id to a materialized file. It never panics
// and never returns an error; failures are described by the Outcome.
func (o *Orchestrator) AcquireItem(ctx context.Context, id media.ContentID) Outcome {
	ctx = logctx.WithContentID(ctx, uint64(id))
	logger := logctx.LoggerFromContext(ctx)

	start := time.Now()

	var out Outcome

	_ = o.telemetry.InstrumentAcquisition(ctx, func(ctx context.Context) error {
		out = o.acquire(ctx, id)

		return out.Err
	})

	out.Duration = time.Since(start)
	o.completed.Add(1)
	o.telemetry.RecordAcquisition(ctx, string(out.Status), string(out.Stage), out.Duration)

	o.record(ctx, out)

	switch out.Status {
	case StatusFailed:
		logger.ErrorContext(ctx, "failed to acquire item", "stage", out.Stage, "err", out.Err)
	case StatusSkipped:
		logger.DebugContext(ctx, "item already materialized")
	default:
		logger.InfoContext(ctx, "item acquired", "path", out.Path, "duration", out.Duration)
	}

	return out
}

func (o *Orchestrator) acquire(ctx context.Context, id media.ContentID) Outcome {
	fail := func(stage Stage, err error) Outcome {
		return Outcome{ID: id, Status: StatusFailed, Stage: stage, Err: err}
	}

	if o.sink.Exists(id) {
		return Outcome{ID: id, Status: StatusSkipped, Stage: StageLookup}
	}

	loc, stage, err := o.resolve(ctx, id)
	if err != nil {
		return fail(stage, err)
	}

	blob, err := o.catalog.Fetch(ctx, loc)
	if err != nil {
		return fail(StageFetch, err)
	}

	audio, err := o.decryptor.Decrypt(id, blob)
	if err != nil {
		return fail(StageDecrypt, err)
	}

	o.telemetry.RecordDecryptedBytes(ctx, len(audio))

	track := &media.Track{ID: id, Format: loc.Format, Audio: audio}
	o.describe(ctx, track)

	path, err := o.sink.Write(ctx, track)
	if err != nil {
		return fail(StageWrite, err)
	}

	return Outcome{ID: id, Status: StatusSucceeded, Stage: StageDone, Path: path, Format: loc.Format}
}

func (o *Orchestrator) record(ctx context.Context, out Outcome) {
	if o.ledger == nil || out.Status == StatusSkipped {
		return
	}

	record := storage.AcquisitionRecord{
		ContentID: uint64(out.ID),
		FilePath:  out.Path,
		Format:    out.Format.Format,
		Status:    storage.StatusSucceeded,
	}

	if out.Err != nil {
		record.Status = storage.StatusFailed
		record.Error = out.Err.Error()
	}

	if err := o.ledger.TrackAcquisition(ctx, record); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record acquisition", "err", err)
	}
}

// resolve obtains a stream location, renewing the session once if the service
// rejects its token.
func (o *Orchestrator) resolve(ctx context.Context, id media.ContentID) (media.StreamLocation, Stage, error) {
	logger := logctx.LoggerFromContext(ctx)

	sess, gen := o.sessions.Current()
	if gen == 0 {
		if _, err := o.sessions.Renew(ctx, 0); err != nil {
			return media.StreamLocation{}, StageSession, fmt.Errorf("failed to establish session: %w", err)
		}

		sess, gen = o.sessions.Current()
	}

	loc, err := o.catalog.Resolve(ctx, id, sess)
	if err == nil {
		return loc, StageResolve, nil
	}

	if !media.IsInvalidToken(err) {
		return media.StreamLocation{}, StageResolve, err
	}

	logger.WarnContext(ctx, "session token rejected, renewing session", "generation", gen)

	sess, err = o.sessions.Renew(ctx, gen)
	if err != nil {
		return media.StreamLocation{}, StageSession, fmt.Errorf("failed to renew session: %w", err)
	}

	loc, err = o.catalog.Resolve(ctx, id, sess)
	if err != nil {
		return media.StreamLocation{}, StageResolve, err
	}

	return loc, StageResolve, nil
}

// describe attaches metadata and cover art. Both are optional, so failures are
// logged and the track is written untagged.
func (o *Orchestrator) describe(ctx context.Context, track *media.Track) {
	logger := logctx.LoggerFromContext(ctx)

	meta, err := o.catalog.ResolveMetadata(ctx, track.ID)
	if err != nil {
		logger.WarnContext(ctx, "failed to resolve metadata, writing without tags", "err", err)

		return
	}

	track.Metadata = meta

	url := meta.CoverURL()
	if url == "" {
		return
	}

	cover, err := o.catalog.FetchCover(ctx, url)
	if err != nil {
		logger.WarnContext(ctx, "failed to fetch cover art", "err", err)

		return
	}

	track.Cover = cover
}
