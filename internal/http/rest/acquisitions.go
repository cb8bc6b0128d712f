package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/track_downloader/internal/batch"
	"github.com/italolelis/track_downloader/internal/logctx"
	"github.com/italolelis/track_downloader/internal/media"
	"github.com/italolelis/track_downloader/internal/storage"
)

const (
	maxBatchSize    = 500
	maxRequestBody  = 64 * 1024
	defaultPageSize = 100
)

// Acquirer runs a batch to completion.
type Acquirer interface {
	AcquireBatch(ctx context.Context, ids []media.ContentID) *batch.Report
}

type AcquisitionRequest struct {
	IDs []json.Number `json:"ids"`
}

type AcquisitionItem struct {
	ID         media.ContentID `json:"id"`
	Status     batch.Status    `json:"status"`
	Stage      batch.Stage     `json:"stage"`
	Path       string          `json:"path,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

type AcquisitionResponse struct {
	Summary   string            `json:"summary"`
	Succeeded int               `json:"succeeded"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
	Items     []AcquisitionItem `json:"items"`
}

func NewAcquisitionResponse(r *batch.Report) *AcquisitionResponse {
	resp := &AcquisitionResponse{
		Summary:   r.Summary(),
		Succeeded: r.Succeeded,
		Skipped:   r.Skipped,
		Failed:    r.Failed,
		Items:     make([]AcquisitionItem, 0, len(r.Outcomes)),
	}

	for _, o := range r.Outcomes {
		item := AcquisitionItem{
			ID:         o.ID,
			Status:     o.Status,
			Stage:      o.Stage,
			Path:       o.Path,
			DurationMS: o.Duration.Milliseconds(),
		}

		if o.Err != nil {
			item.Error = o.Err.Error()
		}

		resp.Items = append(resp.Items, item)
	}

	return resp
}

type AcquisitionHandler struct {
	acquirer Acquirer
	ledger   storage.AcquisitionReadRepository
	username string
	password string
}

// NewAcquisitionHandler creates the acquisitions API. A nil ledger disables the
// read endpoints; an empty username disables basic auth.
func NewAcquisitionHandler(acquirer Acquirer, ledger storage.AcquisitionReadRepository, username, password string) *AcquisitionHandler {
	return &AcquisitionHandler{
		acquirer: acquirer,
		ledger:   ledger,
		username: username,
		password: password,
	}
}

func (h *AcquisitionHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Post("/acquisitions", h.HandleAcquire)
	r.Get("/acquisitions", h.HandleList)
	r.Get("/acquisitions/{id}", h.HandleGet)

	return r
}

// HandleAcquire runs a batch synchronously and answers with its report. Item
// failures are part of the report, not HTTP errors.
func (h *AcquisitionHandler) HandleAcquire(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req AcquisitionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		logger.Debug("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	ids, err := parseIDs(req.IDs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	report := h.acquirer.AcquireBatch(r.Context(), ids)

	writeJSON(r.Context(), w, http.StatusOK, NewAcquisitionResponse(report))
}

func parseIDs(raw []json.Number) ([]media.ContentID, error) {
	if len(raw) == 0 {
		return nil, errors.New("ids must not be empty")
	}

	if len(raw) > maxBatchSize {
		return nil, fmt.Errorf("at most %d ids per request", maxBatchSize)
	}

	ids := make([]media.ContentID, 0, len(raw))

	for _, n := range raw {
		id, err := media.ParseContentID(n.String())
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// HandleList returns the most recent ledger records. The limit query parameter
// defaults to 100.
func (h *AcquisitionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		http.Error(w, "acquisition ledger is disabled", http.StatusNotFound)

		return
	}

	limit := defaultPageSize

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)

			return
		}

		limit = n
	}

	records, err := h.ledger.GetAcquisitions(r.Context(), limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list acquisitions", "err", err)
		http.Error(w, "failed to list acquisitions", http.StatusInternalServerError)

		return
	}

	if records == nil {
		records = []storage.AcquisitionRecord{}
	}

	writeJSON(r.Context(), w, http.StatusOK, records)
}

func (h *AcquisitionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		http.Error(w, "acquisition ledger is disabled", http.StatusNotFound)

		return
	}

	id, err := media.ParseContentID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	record, err := h.ledger.GetAcquisition(r.Context(), uint64(id))
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)

		return
	}

	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to get acquisition", "content_id", id, "err", err)
		http.Error(w, "failed to get acquisition", http.StatusInternalServerError)

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, record)
}

func (h *AcquisitionHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1

		if !userOK || !passOK {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to encode response", "err", err)
	}
}
