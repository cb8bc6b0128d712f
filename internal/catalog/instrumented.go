package catalog

import (
	"context"

	"github.com/italolelis/track_downloader/internal/media"
	"github.com/italolelis/track_downloader/internal/telemetry"
)

// InstrumentedClient wraps Client with telemetry.
type InstrumentedClient struct {
	client    *Client
	telemetry *telemetry.Telemetry
}

// NewInstrumentedClient creates a new instrumented catalog client.
func NewInstrumentedClient(client *Client, tel *telemetry.Telemetry) *InstrumentedClient {
	return &InstrumentedClient{client: client, telemetry: tel}
}

// Resolve resolves a stream location with telemetry.
func (c *InstrumentedClient) Resolve(ctx context.Context, id media.ContentID, sess media.Session) (media.StreamLocation, error) {
	var result media.StreamLocation

	var err error

	instrumentedErr := c.telemetry.InstrumentClientOperation(ctx, "resolve", func(ctx context.Context) error {
		result, err = c.client.Resolve(ctx, id, sess)

		return err
	})

	if instrumentedErr != nil {
		return media.StreamLocation{}, instrumentedErr
	}

	return result, nil
}

// Fetch downloads an encrypted stream with telemetry.
func (c *InstrumentedClient) Fetch(ctx context.Context, loc media.StreamLocation) ([]byte, error) {
	var result []byte

	var err error

	instrumentedErr := c.telemetry.InstrumentClientOperation(ctx, "fetch", func(ctx context.Context) error {
		result, err = c.client.Fetch(ctx, loc)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// ResolveMetadata fetches track metadata with telemetry.
func (c *InstrumentedClient) ResolveMetadata(ctx context.Context, id media.ContentID) (*media.Metadata, error) {
	var result *media.Metadata

	var err error

	instrumentedErr := c.telemetry.InstrumentClientOperation(ctx, "resolve_metadata", func(ctx context.Context) error {
		result, err = c.client.ResolveMetadata(ctx, id)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// FetchCover downloads cover art with telemetry.
func (c *InstrumentedClient) FetchCover(ctx context.Context, url string) ([]byte, error) {
	var result []byte

	var err error

	instrumentedErr := c.telemetry.InstrumentClientOperation(ctx, "fetch_cover", func(ctx context.Context) error {
		result, err = c.client.FetchCover(ctx, url)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// ResolvePlaylist lists playlist tracks with telemetry.
func (c *InstrumentedClient) ResolvePlaylist(ctx context.Context, id uint64) (*media.Playlist, error) {
	var result *media.Playlist

	var err error

	instrumentedErr := c.telemetry.InstrumentClientOperation(ctx, "resolve_playlist", func(ctx context.Context) error {
		result, err = c.client.ResolvePlaylist(ctx, id)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
