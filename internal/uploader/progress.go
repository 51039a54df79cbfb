package uploader

import (
	"io"
	"time"
)

// ProgressFunc receives the cumulative bytes moved by the current transfer
// attempt. Retried attempts restart from zero; the session folds the
// attempt count into its committed total.
type ProgressFunc func(bytes int64)

// progressReader counts bytes as the HTTP client drains the payload and
// reports them at a bounded rate so large transfers do not flood the
// caller with per-read callbacks. The final count is always delivered.
type progressReader struct {
	r        io.Reader
	interval time.Duration
	report   ProgressFunc

	bytes     int64
	lastBytes int64
	lastAt    time.Time
}

func newProgressReader(r io.Reader, interval time.Duration, report ProgressFunc) *progressReader {
	return &progressReader{
		r:        r,
		interval: interval,
		report:   report,
	}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.bytes += int64(n)
		pr.emit(err != nil)
	} else if err != nil {
		pr.emit(true)
	}
	return n, err
}

func (pr *progressReader) emit(final bool) {
	if pr.report == nil {
		return
	}
	now := time.Now()
	if !final {
		if pr.interval > 0 && now.Sub(pr.lastAt) < pr.interval {
			return
		}
	} else if pr.bytes == pr.lastBytes {
		return
	}
	pr.lastAt = now
	pr.lastBytes = pr.bytes
	pr.report(pr.bytes)
}
