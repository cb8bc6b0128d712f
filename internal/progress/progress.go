package progress

import (
	"context"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/track_downloader/internal/logctx"
)

// Reader wraps an io.Reader and reports cumulative bytes through a callback
// every interval bytes, and once more when the 50% mark is crossed.
type Reader struct {
	r          io.Reader
	total      int64
	interval   int64
	onProgress func(read, total int64)

	read       int64
	sinceLast  int64
	halfPassed bool
}

// NewReader wraps r. total may be -1 when the size is unknown.
func NewReader(r io.Reader, total, interval int64, cb func(read, total int64)) *Reader {
	return &Reader{r: r, total: total, interval: interval, onProgress: cb}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n <= 0 {
		return n, err
	}

	pr.read += int64(n)
	pr.sinceLast += int64(n)

	crossedHalf := !pr.halfPassed && pr.total > 0 && pr.read*2 >= pr.total
	if crossedHalf {
		pr.halfPassed = true
	}

	if pr.sinceLast >= pr.interval || crossedHalf {
		pr.onProgress(pr.read, pr.total)
		pr.sinceLast = 0
	}

	return n, err
}

// BytesRead returns the number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.read
}

// DebugLog returns a callback that logs progress at debug level with
// human-readable sizes.
func DebugLog(ctx context.Context, msg string) func(read, total int64) {
	logger := logctx.LoggerFromContext(ctx)

	return func(read, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, msg,
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))

			return
		}

		logger.DebugContext(ctx, msg, "downloaded", humanize.Bytes(uint64(read)))
	}
}
