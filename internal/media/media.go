package media

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CipherStripe is the only cipher scheme the decryptor understands: Blowfish
// CBC applied to every third 2048 byte stripe.
const CipherStripe = "BF_CBC_STRIPE"

// ContentID identifies one item in the catalog.
type ContentID uint64

// ParseContentID parses a positive decimal content id.
func ParseContentID(s string) (ContentID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid content id %q: %w", s, err)
	}

	if v == 0 {
		return 0, fmt.Errorf("invalid content id %q: must be positive", s)
	}

	return ContentID(v), nil
}

func (id ContentID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Format is a cipher/format descriptor pair offered to the stream-location endpoint.
type Format struct {
	Cipher string `json:"cipher"`
	Format string `json:"format"`
}

func (f Format) String() string {
	return f.Cipher + ":" + f.Format
}

// DefaultFormats lists the acceptable formats, highest quality first.
var DefaultFormats = []Format{
	{Cipher: CipherStripe, Format: "MP3_128"},
	{Cipher: CipherStripe, Format: "MP3_64"},
	{Cipher: CipherStripe, Format: "MP3_MISC"},
}

// ParseFormats parses a comma separated list of "cipher:format" entries. A bare
// format name implies the stripe cipher.
func ParseFormats(s string) ([]Format, error) {
	var formats []Format

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		cipher, format, found := strings.Cut(part, ":")
		if !found {
			cipher, format = CipherStripe, part
		}

		if cipher == "" || format == "" {
			return nil, fmt.Errorf("invalid format descriptor %q", part)
		}

		formats = append(formats, Format{Cipher: cipher, Format: format})
	}

	if len(formats) == 0 {
		return nil, fmt.Errorf("no formats in %q", s)
	}

	return formats, nil
}

// StreamLocation is a resolved fetch URL together with the format the service chose.
type StreamLocation struct {
	URL    string
	Format Format
}

// Session holds the tokens issued by the handshake. It is either fully unset or
// fully populated.
type Session struct {
	RequestToken string
	LicenseToken string
}

// IsZero reports whether the session predates the handshake.
func (s Session) IsZero() bool {
	return s.RequestToken == "" && s.LicenseToken == ""
}

type Artist struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID          uint64 `json:"id"`
	Title       string `json:"title"`
	CoverSmall  string `json:"cover_small"`
	CoverMedium string `json:"cover_medium"`
	CoverBig    string `json:"cover_big"`
}

// Metadata is the public catalog description of a track, used for tagging.
type Metadata struct {
	ID          ContentID `json:"id"`
	Title       string    `json:"title"`
	Artist      Artist    `json:"artist"`
	Album       Album     `json:"album"`
	ReleaseDate string    `json:"release_date,omitempty"`
}

// Released parses the release date. Absent or unparseable dates report false.
func (m *Metadata) Released() (time.Time, bool) {
	if m == nil || m.ReleaseDate == "" {
		return time.Time{}, false
	}

	t, err := time.Parse(time.DateOnly, m.ReleaseDate)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}

// Playlist is the subset of a public playlist needed to acquire its tracks.
type Playlist struct {
	ID     uint64
	Title  string
	Tracks []ContentID
}

// Track is a fully decrypted item ready to be materialized. Metadata and Cover
// are optional.
type Track struct {
	ID       ContentID
	Format   Format
	Audio    []byte
	Metadata *Metadata
	Cover    []byte
}

// CoverURL returns the largest cover art advertised for the track's album.
func (m *Metadata) CoverURL() string {
	if m == nil {
		return ""
	}

	for _, u := range []string{m.Album.CoverBig, m.Album.CoverMedium, m.Album.CoverSmall} {
		if u != "" {
			return u
		}
	}

	return ""
}
