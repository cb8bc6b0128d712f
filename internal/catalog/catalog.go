package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/track_downloader/internal/gateway"
	"github.com/italolelis/track_downloader/internal/logctx"
	"github.com/italolelis/track_downloader/internal/media"
	"github.com/italolelis/track_downloader/internal/progress"
)

const (
	songDataMethod = "song.getData"
	mediaTypeFull  = "FULL"

	progressInterval = 4 * 1024 * 1024
	maxCoverSize     = 10 * 1024 * 1024
	// maxPrealloc bounds how much of the announced length is reserved up front.
	maxPrealloc = 64 * 1024 * 1024
)

// Gateway is the transport the catalog client is built on.
type Gateway interface {
	Call(ctx context.Context, method, apiToken string, params map[string]any) (json.RawMessage, error)
	StreamLocations(ctx context.Context, req gateway.MediaRequest) (*gateway.MediaResponse, error)
	Public(ctx context.Context, path string, out any) error
	Open(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// Client resolves content ids into encrypted streams and fetches them.
type Client struct {
	gw      Gateway
	formats []media.Format
}

// NewClient returns a client that offers formats, in order, to the
// stream-location endpoint. An empty list means media.DefaultFormats.
func NewClient(gw Gateway, formats []media.Format) *Client {
	if len(formats) == 0 {
		formats = media.DefaultFormats
	}

	return &Client{gw: gw, formats: formats}
}

type songData struct {
	TrackToken string          `json:"TRACK_TOKEN"`
	Fallback   json.RawMessage `json:"FALLBACK"`
}

type fallbackData struct {
	TrackToken string `json:"TRACK_TOKEN"`
}

// streamToken picks the stream token of a song. Region-restricted items carry
// the playable token under FALLBACK, which wins when present; otherwise the
// top-level token is used. FALLBACK is not always an object, so anything else
// is treated as absent.
func streamToken(d songData) (string, bool) {
	if fb := bytes.TrimSpace(d.Fallback); len(fb) > 0 && fb[0] == '{' {
		var fallback fallbackData
		if err := json.Unmarshal(fb, &fallback); err == nil && fallback.TrackToken != "" {
			return fallback.TrackToken, true
		}
	}

	return d.TrackToken, d.TrackToken != ""
}

// Resolve turns a content id into a fetch URL and the format the service chose.
// A *media.APIError with CodeInvalidToken means the session must be refreshed
// before retrying; the client itself never retries.
func (c *Client) Resolve(ctx context.Context, id media.ContentID, sess media.Session) (media.StreamLocation, error) {
	logger := logctx.LoggerFromContext(ctx)

	results, err := c.gw.Call(ctx, songDataMethod, sess.RequestToken, map[string]any{"sng_id": uint64(id)})
	if err != nil {
		return media.StreamLocation{}, fmt.Errorf("failed to get song data: %w", notAvailable(err))
	}

	var data songData
	if err := json.Unmarshal(results, &data); err != nil {
		return media.StreamLocation{}, &media.APIError{Code: media.CodeNotAvailable, Details: "malformed song data: " + err.Error()}
	}

	token, ok := streamToken(data)
	if !ok {
		return media.StreamLocation{}, &media.APIError{Code: media.CodeNotAvailable, Details: "song data has no track token"}
	}

	resp, err := c.gw.StreamLocations(ctx, gateway.MediaRequest{
		LicenseToken: sess.LicenseToken,
		Media:        []gateway.MediaEntry{{Type: mediaTypeFull, Formats: c.formats}},
		TrackTokens:  []string{token},
	})
	if err != nil {
		return media.StreamLocation{}, fmt.Errorf("failed to get stream location: %w", err)
	}

	loc, err := pickLocation(resp)
	if err != nil {
		return media.StreamLocation{}, err
	}

	logger.DebugContext(ctx, "resolved stream location", "format", loc.Format.String())

	return loc, nil
}

// notAvailable reclassifies unrecognised service errors as NotAvailable so that
// callers only see the codes they can act on.
func notAvailable(err error) error {
	var apiErr *media.APIError
	if errors.As(err, &apiErr) && apiErr.Code == media.CodeOther {
		return &media.APIError{Code: media.CodeNotAvailable, Details: apiErr.Details}
	}

	return err
}

func pickLocation(resp *gateway.MediaResponse) (media.StreamLocation, error) {
	if len(resp.Data) == 0 {
		return media.StreamLocation{}, &media.APIError{Code: media.CodeNotAvailable, Details: "empty stream location response"}
	}

	data := resp.Data[0]

	if len(data.Errors) > 0 {
		msgs := make([]string, 0, len(data.Errors))
		for _, e := range data.Errors {
			msgs = append(msgs, fmt.Sprintf("%d: %s", e.Code, e.Message))
		}

		return media.StreamLocation{}, &media.APIError{Code: media.CodeNotAvailable, Details: strings.Join(msgs, "; ")}
	}

	if len(data.Media) == 0 || len(data.Media[0].Sources) == 0 || data.Media[0].Sources[0].URL == "" {
		return media.StreamLocation{}, &media.APIError{Code: media.CodeNotAvailable, Details: "no source offered for the requested formats"}
	}

	m := data.Media[0]
	if m.Cipher.Type != media.CipherStripe {
		return media.StreamLocation{}, &media.APIError{Code: media.CodeUnsupportedCipher, Details: m.Cipher.Type}
	}

	return media.StreamLocation{
		URL:    m.Sources[0].URL,
		Format: media.Format{Cipher: m.Cipher.Type, Format: m.Format},
	}, nil
}

// Fetch downloads the encrypted stream. Failures are *media.TransportError and
// are not retried.
func (c *Client) Fetch(ctx context.Context, loc media.StreamLocation) ([]byte, error) {
	logger := logctx.LoggerFromContext(ctx)

	body, size, err := c.gw.Open(ctx, loc.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	defer body.Close()

	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(min(size, maxPrealloc)))
	}

	pr := progress.NewReader(body, size, progressInterval, progress.DebugLog(ctx, "fetch progress"))
	if _, err := buf.ReadFrom(pr); err != nil {
		return nil, &media.TransportError{Operation: "fetch", Err: err}
	}

	logger.DebugContext(ctx, "fetched encrypted stream", "size", humanize.Bytes(uint64(buf.Len())), "format", loc.Format.Format)

	return buf.Bytes(), nil
}

// ResolveMetadata fetches the public description of a track. The release date
// is optional.
func (c *Client) ResolveMetadata(ctx context.Context, id media.ContentID) (*media.Metadata, error) {
	var m media.Metadata
	if err := c.gw.Public(ctx, "/track/"+id.String(), &m); err != nil {
		return nil, fmt.Errorf("failed to get track metadata: %w", err)
	}

	return &m, nil
}

// FetchCover downloads cover art.
func (c *Client) FetchCover(ctx context.Context, url string) ([]byte, error) {
	body, _, err := c.gw.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open cover: %w", err)
	}
	defer body.Close()

	cover, err := io.ReadAll(io.LimitReader(body, maxCoverSize))
	if err != nil {
		return nil, &media.TransportError{Operation: "fetch_cover", Err: err}
	}

	return cover, nil
}

type playlistData struct {
	ID     uint64 `json:"id"`
	Title  string `json:"title"`
	Tracks struct {
		Data []struct {
			ID media.ContentID `json:"id"`
		} `json:"data"`
	} `json:"tracks"`
}

// ResolvePlaylist lists the track ids of a public playlist.
func (c *Client) ResolvePlaylist(ctx context.Context, id uint64) (*media.Playlist, error) {
	var data playlistData
	if err := c.gw.Public(ctx, fmt.Sprintf("/playlist/%d", id), &data); err != nil {
		return nil, fmt.Errorf("failed to get playlist: %w", err)
	}

	p := &media.Playlist{ID: data.ID, Title: data.Title, Tracks: make([]media.ContentID, 0, len(data.Tracks.Data))}
	for _, t := range data.Tracks.Data {
		if t.ID != 0 {
			p.Tracks = append(p.Tracks, t.ID)
		}
	}

	return p, nil
}
