package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/italolelis/track_downloader/internal/gateway"
	"github.com/italolelis/track_downloader/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	songResponse  string
	mediaResponse string
	publicBodies  map[string]string
	stream        []byte

	gotMedia gateway.MediaRequest
}

func (f *fakeService) start(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/gateway", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, f.songResponse)
	})
	mux.HandleFunc("/media", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.gotMedia))
		fmt.Fprint(w, f.mediaResponse)
	})
	mux.HandleFunc("/public/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := f.publicBodies[strings.TrimPrefix(r.URL.Path, "/public")]
		if !ok {
			http.NotFound(w, r)

			return
		}

		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/stream", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(f.stream)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	gw := gateway.New(srv.URL+"/gateway", srv.URL+"/media", srv.URL+"/public", gateway.WithHTTPClient(srv.Client()))

	return NewClient(gw, nil), srv
}

func mediaOK(url string) string {
	return fmt.Sprintf(`{"data":[{"media":[{"media_type":"FULL","cipher":{"type":"BF_CBC_STRIPE"},"format":"MP3_128","sources":[{"url":%q,"provider":"ak"}]}]}]}`, url)
}

var testSession = media.Session{RequestToken: "req", LicenseToken: "lic"}

func TestStreamToken(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{name: "top level", raw: `{"TRACK_TOKEN":"top"}`, want: "top", wantOK: true},
		{name: "fallback wins", raw: `{"TRACK_TOKEN":"top","FALLBACK":{"TRACK_TOKEN":"fb"}}`, want: "fb", wantOK: true},
		{name: "fallback without token", raw: `{"TRACK_TOKEN":"top","FALLBACK":{"SNG_ID":"1"}}`, want: "top", wantOK: true},
		{name: "fallback as array", raw: `{"TRACK_TOKEN":"top","FALLBACK":[]}`, want: "top", wantOK: true},
		{name: "missing", raw: `{}`, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d songData
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &d))

			got, ok := streamToken(d)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	f := &fakeService{songResponse: `{"error":[],"results":{"TRACK_TOKEN":"tok-1"}}`}
	c, srv := f.start(t)
	f.mediaResponse = mediaOK(srv.URL + "/stream")

	loc, err := c.Resolve(context.Background(), 3135556, testSession)
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/stream", loc.URL)
	assert.Equal(t, media.Format{Cipher: media.CipherStripe, Format: "MP3_128"}, loc.Format)

	assert.Equal(t, "lic", f.gotMedia.LicenseToken)
	assert.Equal(t, []string{"tok-1"}, f.gotMedia.TrackTokens)
	require.Len(t, f.gotMedia.Media, 1)
	assert.Equal(t, "FULL", f.gotMedia.Media[0].Type)
	assert.Equal(t, media.DefaultFormats, f.gotMedia.Media[0].Formats)
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name     string
		song     string
		media    string
		wantCode media.APICode
	}{
		{
			name:     "invalid token",
			song:     `{"error":{"VALID_TOKEN_REQUIRED":"Invalid CSRF token"},"results":{}}`,
			wantCode: media.CodeInvalidToken,
		},
		{
			name:     "unknown service error",
			song:     `{"error":{"DATA_ERROR":"song not found"},"results":{}}`,
			wantCode: media.CodeNotAvailable,
		},
		{
			name:     "no track token",
			song:     `{"error":{},"results":{"SNG_ID":"1"}}`,
			wantCode: media.CodeNotAvailable,
		},
		{
			name:     "media errors",
			song:     `{"error":[],"results":{"TRACK_TOKEN":"t"}}`,
			media:    `{"data":[{"errors":[{"code":2002,"message":"Track token has no sufficient rights on requested media"}]}]}`,
			wantCode: media.CodeNotAvailable,
		},
		{
			name:     "no media",
			song:     `{"error":[],"results":{"TRACK_TOKEN":"t"}}`,
			media:    `{"data":[{"media":[]}]}`,
			wantCode: media.CodeNotAvailable,
		},
		{
			name:     "unsupported cipher",
			song:     `{"error":[],"results":{"TRACK_TOKEN":"t"}}`,
			media:    `{"data":[{"media":[{"cipher":{"type":"NONE"},"format":"MP3_128","sources":[{"url":"http://x"}]}]}]}`,
			wantCode: media.CodeUnsupportedCipher,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeService{songResponse: tt.song, mediaResponse: tt.media}
			c, _ := f.start(t)

			_, err := c.Resolve(context.Background(), 1, testSession)
			require.Error(t, err)

			var apiErr *media.APIError
			require.True(t, errors.As(err, &apiErr), "expected APIError, got %T", err)
			assert.Equal(t, tt.wantCode, apiErr.Code)
		})
	}
}

func TestResolveTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(gateway.New(srv.URL, srv.URL, srv.URL, gateway.WithHTTPClient(srv.Client())), nil)

	_, err := c.Resolve(context.Background(), 1, testSession)

	var transportErr *media.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusBadGateway, transportErr.StatusCode)
}

func TestFetch(t *testing.T) {
	payload := []byte(strings.Repeat("x", 5000))

	f := &fakeService{stream: payload}
	c, srv := f.start(t)

	got, err := c.Fetch(context.Background(), media.StreamLocation{URL: srv.URL + "/stream"})
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = c.Fetch(context.Background(), media.StreamLocation{URL: srv.URL + "/missing"})

	var transportErr *media.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusNotFound, transportErr.StatusCode)
}

func TestFetch_OversizedContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !assert.True(t, ok) {
			return
		}

		conn, rw, err := hj.Hijack()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		_, _ = rw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 9000000000000000000\r\n\r\nabc")
		_ = rw.Flush()
	}))
	t.Cleanup(srv.Close)

	gw := gateway.New(srv.URL, srv.URL, srv.URL, gateway.WithHTTPClient(srv.Client()))
	c := NewClient(gw, nil)

	var err error
	assert.NotPanics(t, func() {
		_, err = c.Fetch(context.Background(), media.StreamLocation{URL: srv.URL + "/stream"})
	})

	var transportErr *media.TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestResolveMetadata(t *testing.T) {
	f := &fakeService{publicBodies: map[string]string{
		"/track/3135556": `{"id":3135556,"title":"Harder Better Faster Stronger","artist":{"id":27,"name":"Daft Punk"},"album":{"id":302127,"title":"Discovery","cover_big":"http://cover"},"release_date":"2001-03-07"}`,
		"/track/1":       `{"error":{"type":"DataException","message":"no data","code":800}}`,
	}}
	c, _ := f.start(t)

	m, err := c.ResolveMetadata(context.Background(), 3135556)
	require.NoError(t, err)
	assert.Equal(t, "Harder Better Faster Stronger", m.Title)
	assert.Equal(t, "Daft Punk", m.Artist.Name)
	assert.Equal(t, "Discovery", m.Album.Title)
	assert.Equal(t, "http://cover", m.Album.CoverBig)

	_, err = c.ResolveMetadata(context.Background(), 1)

	var apiErr *media.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Contains(t, apiErr.Details, "DataException")
}

func TestResolvePlaylist(t *testing.T) {
	f := &fakeService{publicBodies: map[string]string{
		"/playlist/908622995": `{"id":908622995,"title":"Mix","tracks":{"data":[{"id":3135556},{"id":0},{"id":92719900}]}}`,
	}}
	c, _ := f.start(t)

	p, err := c.ResolvePlaylist(context.Background(), 908622995)
	require.NoError(t, err)
	assert.Equal(t, "Mix", p.Title)
	assert.Equal(t, []media.ContentID{3135556, 92719900}, p.Tracks)
}

func TestInstrumentedClientWithoutTelemetry(t *testing.T) {
	f := &fakeService{stream: []byte("cover")}
	c, srv := f.start(t)

	ic := NewInstrumentedClient(c, nil)

	cover, err := ic.FetchCover(context.Background(), srv.URL+"/stream")
	require.NoError(t, err)
	assert.Equal(t, []byte("cover"), cover)
}
