package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/track_downloader/internal/logctx"
)

// partialSuffix marks files the library is still assembling.
const partialSuffix = ".part"

// DeleteStalePartials removes partial files in dir older than keepDuration. They
// are left behind when a process dies between creating a temporary file and
// renaming it into place. It returns the number of files removed.
func DeleteStalePartials(ctx context.Context, dir string, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, err
	}

	removed := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), ".") || !strings.HasSuffix(entry.Name(), partialSuffix) {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue // already renamed or deleted
			}

			logger.Error("Failed to stat file", "file", filePath, "err", err)

			return removed, err
		}

		if now.Sub(info.ModTime()) <= keepDuration {
			continue
		}

		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to delete stale partial file", "file", filePath, "err", err)

			return removed, err
		}

		removed++

		logger.Info("Deleted stale partial file", "file", filePath)
	}

	return removed, nil
}
