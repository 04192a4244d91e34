package job

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"

	"ytaudio/video"

	"github.com/rs/zerolog"
)

const contentTypeMP3 = "audio/mpeg"

// Deliverer writes encoded audio to an HTTP response.
type Deliverer struct {
	bufSize int
	store   *TempStore
	logger  zerolog.Logger
}

func NewDeliverer(bufSize int, store *TempStore, logger zerolog.Logger) *Deliverer {
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	return &Deliverer{
		bufSize: bufSize,
		store:   store,
		logger:  logger.With().Str("component", "delivery").Logger(),
	}
}

// Stream sets the download headers, then copies src to w chunk by chunk,
// flushing after every write so the client sees bytes as they are produced.
// size is sent as Content-Length when it is not negative. Write failures are
// returned wrapped in video.ErrDelivery; read failures and ctx errors are
// returned as is.
func (d *Deliverer) Stream(ctx context.Context, w http.ResponseWriter, src io.Reader, filename string, size int64, onWrite func(int)) (int64, error) {
	h := w.Header()
	h.Set("Content-Type", contentTypeMP3)
	h.Set("Content-Disposition", contentDisposition(filename))
	h.Set("Cache-Control", "no-store")
	if size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	buf := make([]byte, d.bufSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if onWrite != nil && m > 0 {
				onWrite(m)
			}
			if werr == nil && m < n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return written, fmt.Errorf("%w: %w", video.ErrDelivery, werr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// ServeFile streams a finished output file and deletes it on every path:
// after a complete send, after a read or write error, when the client goes
// away mid-transfer, and when ctx ends.
func (d *Deliverer) ServeFile(ctx context.Context, w http.ResponseWriter, path, filename string, onWrite func(int)) (n int64, err error) {
	defer d.store.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: opening output: %w", video.ErrTranscode, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat output: %w", video.ErrTranscode, err)
	}
	return d.Stream(ctx, w, f, filename, info.Size(), onWrite)
}

// Abort drops the client connection. It is the only way to signal failure
// once the status line and part of the body have been sent.
func (d *Deliverer) Abort(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		d.logger.Warn().Msg("response writer cannot be hijacked; leaving truncated response")
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		d.logger.Warn().Err(err).Msg("could not hijack connection to abort it")
		return
	}
	conn.Close()
}

// trackingWriter records the first write so the job knows whether a
// structured error response is still possible.
type trackingWriter struct {
	http.ResponseWriter
	once    sync.Once
	onWrite func()
}

func (t *trackingWriter) mark() {
	t.once.Do(t.onWrite)
}

func (t *trackingWriter) WriteHeader(code int) {
	t.mark()
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.mark()
	return t.ResponseWriter.Write(p)
}

func (t *trackingWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (t *trackingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := t.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

func (t *trackingWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}
