package webdav

import (
	"io"
	"time"

	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/juju/ratelimit"
)

// throttledFile limits the read rate of a file while keeping it seekable.
type throttledFile struct {
	io.ReadSeekCloser
	r io.Reader
}

func (t *throttledFile) Read(p []byte) (int, error) {
	return t.r.Read(p)
}

// withSpeedLimit throttles reads of f to limit bytes per second. A non-positive
// limit returns f unchanged.
func withSpeedLimit(f io.ReadSeekCloser, limit int64) io.ReadSeekCloser {
	if limit <= 0 {
		return f
	}
	bucket := ratelimit.NewBucketWithRate(float64(limit), limit)
	return &throttledFile{ReadSeekCloser: f, r: ratelimit.Reader(f, bucket)}
}

// loggingReader counts what is read from a request body and logs a summary when
// closed.
type loggingReader struct {
	r       io.Reader
	l       logging.Logger
	name    string
	n       int64
	started time.Time
}

func newLoggingReader(r io.Reader, l logging.Logger, name string) *loggingReader {
	return &loggingReader{r: r, l: l, name: name, started: time.Now()}
}

func (lr *loggingReader) Read(p []byte) (int, error) {
	n, err := lr.r.Read(p)
	lr.n += int64(n)
	if err != nil && err != io.EOF {
		lr.l.Debug("Reading body of %q failed after %d bytes: %s", lr.name, lr.n, err)
	}
	return n, err
}

func (lr *loggingReader) Close() error {
	lr.l.Debug("Received %d bytes for %q in %s.", lr.n, lr.name, time.Since(lr.started))
	if c, ok := lr.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
