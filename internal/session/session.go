package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/italolelis/track_downloader/internal/gateway"
	"github.com/italolelis/track_downloader/internal/logctx"
	"github.com/italolelis/track_downloader/internal/media"
	"github.com/italolelis/track_downloader/internal/telemetry"
)

const userDataMethod = "deezer.getUserData"

// Caller performs signed gateway calls.
type Caller interface {
	Call(ctx context.Context, method, apiToken string, params map[string]any) (json.RawMessage, error)
}

// Manager owns the handshake and the tokens it produces. Reads are lock
// protected; refreshes are serialized so that concurrent token failures result
// in a single handshake.
type Manager struct {
	caller    Caller
	telemetry *telemetry.Telemetry

	mu         sync.RWMutex
	session    media.Session
	generation uint64

	refreshMu sync.Mutex
}

func NewManager(caller Caller, tel *telemetry.Telemetry) *Manager {
	return &Manager{caller: caller, telemetry: tel}
}

// Acquire performs the initial handshake. On failure the manager stays
// unauthenticated and the call may be retried.
func (m *Manager) Acquire(ctx context.Context) (media.Session, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	return m.refreshLocked(ctx, "acquire")
}

// Refresh re-runs the handshake and replaces the held tokens.
func (m *Manager) Refresh(ctx context.Context) (media.Session, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	return m.refreshLocked(ctx, "refresh")
}

// Current returns the held session and its generation. Generation zero means
// no handshake has succeeded yet.
func (m *Manager) Current() (media.Session, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.session, m.generation
}

// Renew refreshes the session a caller observed at generation stale. If another
// caller already replaced that session, the newer one is returned without a new
// handshake.
func (m *Manager) Renew(ctx context.Context, stale uint64) (media.Session, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	if sess, gen := m.Current(); gen != stale && gen != 0 {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "session already renewed", "generation", gen)

		return sess, nil
	}

	return m.refreshLocked(ctx, "refresh")
}

func (m *Manager) refreshLocked(ctx context.Context, operation string) (media.Session, error) {
	logger := logctx.LoggerFromContext(ctx)

	sess, err := m.handshake(ctx)
	if err != nil {
		m.telemetry.RecordSessionRefresh(ctx, operation, "error")
		logger.ErrorContext(ctx, "session handshake failed", "operation", operation, "err", err)

		return media.Session{}, err
	}

	m.mu.Lock()
	m.session = sess
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	m.telemetry.RecordSessionRefresh(ctx, operation, "success")
	logger.InfoContext(ctx, "session established", "operation", operation, "generation", gen)

	return sess, nil
}

type userDataCheckForm struct {
	CheckForm string `json:"checkForm"`
}

type userDataLicense struct {
	User struct {
		Options struct {
			LicenseToken string `json:"license_token"`
		} `json:"OPTIONS"`
	} `json:"USER"`
}

// handshake runs the two user-data calls: the first, signed with the null
// token, yields the request token; the second, signed with it, yields the
// license token.
func (m *Manager) handshake(ctx context.Context) (media.Session, error) {
	results, err := m.caller.Call(ctx, userDataMethod, gateway.NullToken, nil)
	if err != nil {
		return media.Session{}, &media.AuthError{Operation: "request_token", Reason: "gateway call failed", Err: err}
	}

	var first userDataCheckForm
	if err := json.Unmarshal(results, &first); err != nil {
		return media.Session{}, &media.AuthError{Operation: "request_token", Reason: "malformed user data", Err: err}
	}

	if first.CheckForm == "" {
		return media.Session{}, &media.AuthError{Operation: "request_token", Reason: "checkForm missing from user data"}
	}

	results, err = m.caller.Call(ctx, userDataMethod, first.CheckForm, nil)
	if err != nil {
		return media.Session{}, &media.AuthError{Operation: "license_token", Reason: "gateway call failed", Err: err}
	}

	var second userDataLicense
	if err := json.Unmarshal(results, &second); err != nil {
		return media.Session{}, &media.AuthError{Operation: "license_token", Reason: "malformed user data", Err: err}
	}

	if second.User.Options.LicenseToken == "" {
		return media.Session{}, &media.AuthError{Operation: "license_token", Reason: "license_token missing from user options"}
	}

	return media.Session{RequestToken: first.CheckForm, LicenseToken: second.User.Options.LicenseToken}, nil
}
