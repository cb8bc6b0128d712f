// Package library materializes decrypted tracks as tagged MP3 files.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/dustin/go-humanize"
	"github.com/italolelis/track_downloader/internal/logctx"
	"github.com/italolelis/track_downloader/internal/media"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	extension = ".mp3"
)

// Library writes tracks to <dir>/<id>.mp3, or to a single fixed file.
type Library struct {
	dir  string
	file string
}

func New(dir string) *Library {
	return &Library{dir: dir}
}

// NewFile returns a library that materializes every track at path. It backs
// single-track acquisitions with an explicit output file.
func NewFile(path string) *Library {
	return &Library{dir: filepath.Dir(path), file: filepath.Base(path)}
}

// Dir returns the directory files are written to.
func (l *Library) Dir() string {
	return l.dir
}

// Path returns where the track with the given id is materialized.
func (l *Library) Path(id media.ContentID) string {
	if l.file != "" {
		return filepath.Join(l.dir, l.file)
	}

	return filepath.Join(l.dir, id.String()+extension)
}

// Exists reports whether the track is already materialized.
func (l *Library) Exists(id media.ContentID) bool {
	_, err := os.Stat(l.Path(id))

	return err == nil
}

// Write saves the decrypted audio and, when metadata is present, an ID3v2.4 tag.
// The file is assembled under a temporary name in the target directory and
// renamed into place, so a visible <id>.mp3 is always complete.
func (l *Library) Write(ctx context.Context, track *media.Track) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := l.ensureDir(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(l.dir, "."+track.ID.String()+"-*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}

	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			if err := os.Remove(tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logger.WarnContext(ctx, "failed to remove temporary file", "path", tmpPath, "err", err)
			}
		}
	}()

	if _, err := tmp.Write(track.Audio); err != nil {
		tmp.Close()

		return "", fmt.Errorf("failed to write audio: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temporary file: %w", err)
	}

	if track.Metadata != nil {
		if err := writeTag(tmpPath, track); err != nil {
			logger.WarnContext(ctx, "failed to write tags, keeping untagged file", "err", err)
		}
	}

	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return "", fmt.Errorf("failed to set file permissions: %w", err)
	}

	target := l.Path(track.ID)
	if err := os.Rename(tmpPath, target); err != nil {
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}

	committed = true

	logger.DebugContext(ctx, "saved track", "path", target, "size", humanize.Bytes(uint64(len(track.Audio))))

	return target, nil
}

func (l *Library) ensureDir() error {
	if err := os.MkdirAll(l.dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	return nil
}

func writeTag(path string, track *media.Track) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: false})
	if err != nil {
		return fmt.Errorf("failed to open tag: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	m := track.Metadata
	tag.SetTitle(m.Title)
	tag.SetArtist(m.Artist.Name)
	tag.SetAlbum(m.Album.Title)

	if released, ok := m.Released(); ok {
		date := released.Format(time.DateOnly)
		tag.AddTextFrame(tag.CommonID("Release time"), tag.DefaultEncoding(), date)
		tag.AddTextFrame(tag.CommonID("Recording time"), tag.DefaultEncoding(), date)
	}

	if len(track.Cover) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    tag.DefaultEncoding(),
			MimeType:    http.DetectContentType(track.Cover),
			PictureType: id3v2.PTFrontCover,
			Description: "Front cover",
			Picture:     track.Cover,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save tag: %w", err)
	}

	return nil
}
