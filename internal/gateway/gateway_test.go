package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/italolelis/track_downloader/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServiceError(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantNil  bool
		wantCode media.APICode
		details  string
	}{
		{name: "absent", raw: "", wantNil: true},
		{name: "null", raw: "null", wantNil: true},
		{name: "empty array", raw: "[]", wantNil: true},
		{name: "empty object", raw: "{}", wantNil: true},
		{
			name:     "invalid token",
			raw:      `{"VALID_TOKEN_REQUIRED":"Invalid CSRF token"}`,
			wantCode: media.CodeInvalidToken,
			details:  "VALID_TOKEN_REQUIRED: Invalid CSRF token",
		},
		{
			name:     "other keys verbatim and sorted",
			raw:      `{"DATA_ERROR":"song not found","CODE":800}`,
			wantCode: media.CodeOther,
			details:  "CODE: 800; DATA_ERROR: song not found",
		},
		{
			name:     "non empty array",
			raw:      `["boom"]`,
			wantCode: media.CodeOther,
			details:  `["boom"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseServiceError(json.RawMessage(tt.raw))
			if tt.wantNil {
				assert.NoError(t, err)

				return
			}

			var apiErr *media.APIError
			require.True(t, errors.As(err, &apiErr), "expected APIError, got %T", err)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.details, apiErr.Details)
		})
	}
}

func TestCall_RequestBody(t *testing.T) {
	var got map[string]any

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"error":[],"results":{"checkForm":"abc"}}`)
	}))
	defer ts.Close()

	c := New(ts.URL, "", "")

	results, err := c.Call(context.Background(), "song.getData", "tok", map[string]any{"sng_id": 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"checkForm":"abc"}`, string(results))

	assert.Equal(t, "song.getData", got["method"])
	assert.Equal(t, "1.0", got["api_version"])
	assert.Equal(t, "tok", got["api_token"])
	assert.Equal(t, "3", got["input"])
	assert.Equal(t, float64(42), got["sng_id"])
}

func TestCall_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		assertions func(t *testing.T, err error)
	}{
		{
			name:   "invalid token",
			status: http.StatusOK,
			body:   `{"error":{"VALID_TOKEN_REQUIRED":"Invalid CSRF token"},"results":{}}`,
			assertions: func(t *testing.T, err error) {
				assert.True(t, media.IsInvalidToken(err))
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   `oops`,
			assertions: func(t *testing.T, err error) {
				var te *media.TransportError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, http.StatusBadGateway, te.StatusCode)
				assert.Equal(t, "gateway_call", te.Operation)
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `not json`,
			assertions: func(t *testing.T, err error) {
				var te *media.TransportError
				assert.True(t, errors.As(err, &te))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer ts.Close()

			_, err := New(ts.URL, "", "").Call(context.Background(), "deezer.getUserData", NullToken, nil)
			require.Error(t, err)
			tt.assertions(t, err)
		})
	}
}

func TestPublic(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/track/1":
			fmt.Fprint(w, `{"id":1,"title":"Song"}`)
		default:
			fmt.Fprint(w, `{"error":{"type":"DataException","message":"no data","code":800}}`)
		}
	}))
	defer ts.Close()

	c := New("", "", ts.URL+"/")

	var out struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	}
	require.NoError(t, c.Public(context.Background(), "/track/1", &out))
	assert.Equal(t, "Song", out.Title)

	err := c.Public(context.Background(), "/track/2", &out)

	var apiErr *media.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "DataException (800): no data", apiErr.Details)
}

func TestOpen(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		fmt.Fprint(w, "payload")
	}))
	defer ts.Close()

	c := New("", "", "")

	body, size, err := c.Open(context.Background(), ts.URL+"/blob")
	require.NoError(t, err)

	defer body.Close()

	b, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))
	assert.Equal(t, int64(7), size)

	_, _, err = c.Open(context.Background(), ts.URL+"/missing")

	var te *media.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
}

func TestNewHTTPClient_KeepsCookies(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("sid"); err != nil {
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "s1", Path: "/"})
			fmt.Fprint(w, `{"error":{},"results":{"first":true}}`)

			return
		}

		fmt.Fprint(w, `{"error":{},"results":{"first":false}}`)
	}))
	defer ts.Close()

	hc, err := NewHTTPClient(0)
	require.NoError(t, err)

	c := New(ts.URL, "", "", WithHTTPClient(hc), WithRateLimit(1000))

	first, err := c.Call(context.Background(), "deezer.getUserData", NullToken, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"first":true}`, string(first))

	second, err := c.Call(context.Background(), "deezer.getUserData", NullToken, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"first":false}`, string(second))
}
