package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/italolelis/track_downloader/internal/batch"
	"github.com/italolelis/track_downloader/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &DiscordNotifier{WebhookURL: srv.URL, HTTPClient: srv.Client()}
	require.NoError(t, n.Notify(context.Background(), "hello"))
	assert.Equal(t, "hello", got["content"])
}

func TestDiscordNotifier_Errors(t *testing.T) {
	assert.Error(t, (&DiscordNotifier{}).Notify(context.Background(), "x"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := (&DiscordNotifier{WebhookURL: srv.URL}).Notify(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestFormatReport(t *testing.T) {
	r := batch.NewReport([]batch.Outcome{
		{ID: 1, Status: batch.StatusSucceeded},
		{ID: 2, Status: batch.StatusFailed, Stage: batch.StageResolve, Err: errors.New("catalog api error (not_available)")},
		{ID: 3, Status: batch.StatusSkipped},
	})

	assert.Equal(t,
		"**Playlist Mix**: 2 succeeded, 1 failed (1 skipped)\n- 2 failed at resolve: catalog api error (not_available)",
		FormatReport("Playlist Mix", r))
}

func TestFormatReport_TruncatesFailures(t *testing.T) {
	outcomes := make([]batch.Outcome, maxFailuresListed+3)
	for i := range outcomes {
		outcomes[i] = batch.Outcome{ID: media.ContentID(i + 1), Status: batch.StatusFailed, Stage: batch.StageFetch, Err: fmt.Errorf("boom %d", i)}
	}

	msg := FormatReport("Batch", batch.NewReport(outcomes))
	assert.Contains(t, msg, "… and 3 more")
	assert.NotContains(t, msg, "boom 12")
}
