package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ytaudio/config"
	"ytaudio/video"

	"github.com/rs/zerolog"
)

type fakeMeta struct {
	meta  *video.Metadata
	err   error
	calls atomic.Int32
}

func (f *fakeMeta) FetchMetadata(ctx context.Context, id video.ID) (*video.Metadata, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.meta != nil {
		return f.meta, nil
	}
	return &video.Metadata{
		ID:     id,
		Title:  "Rick Astley - Never Gonna Give You Up (Official Video)",
		URL:    id.URL(),
		Length: 10 * time.Second,
	}, nil
}

type fakeSource struct {
	err    error
	calls  atomic.Int32
	closed atomic.Int32
}

type trackedBody struct {
	src *fakeSource
}

func (b *trackedBody) Read(p []byte) (int, error) { return 0, io.EOF }

func (b *trackedBody) Close() error {
	b.src.closed.Add(1)
	return nil
}

func (f *fakeSource) OpenAudio(ctx context.Context, id video.ID, q video.Quality) (io.ReadCloser, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &trackedBody{src: f}, nil
}

// fakeTranscoder emits chunks on its output and then reports waitErr. With
// hang set it stops after the chunks and waits to be killed.
type fakeTranscoder struct {
	startErr error
	chunks   [][]byte
	waitErr  error
	hang     bool

	calls atomic.Int32
	mu    sync.Mutex
	procs []*fakeProcess
}

func (f *fakeTranscoder) Start(ctx context.Context, req TranscodeRequest) (Process, error) {
	f.calls.Add(1)
	if f.startErr != nil {
		return nil, f.startErr
	}
	pr, pw := io.Pipe()
	p := &fakeProcess{
		out:      pr,
		pw:       pw,
		waitErr:  f.waitErr,
		killed:   make(chan struct{}),
		finished: make(chan struct{}),
	}
	f.mu.Lock()
	f.procs = append(f.procs, p)
	f.mu.Unlock()

	if req.OnProgress != nil {
		req.OnProgress(50)
	}

	go func() {
		select {
		case <-ctx.Done():
			p.Kill()
		case <-p.killed:
		case <-p.finished:
		}
	}()

	go func() {
		for _, c := range f.chunks {
			if _, err := pw.Write(c); err != nil {
				return
			}
		}
		if f.hang {
			<-p.killed
			return
		}
		pw.Close()
		close(p.finished)
	}()
	return p, nil
}

func (f *fakeTranscoder) process(i int) *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[i]
}

type fakeProcess struct {
	out      *io.PipeReader
	pw       *io.PipeWriter
	waitErr  error
	killed   chan struct{}
	finished chan struct{}

	killOnce  sync.Once
	wasKilled atomic.Bool
	waitOnce  sync.Once
	err       error
}

func (p *fakeProcess) Output() io.Reader { return p.out }

func (p *fakeProcess) Kill() {
	p.killOnce.Do(func() {
		p.wasKilled.Store(true)
		close(p.killed)
		p.pw.Close()
	})
}

func (p *fakeProcess) Wait() error {
	p.waitOnce.Do(func() {
		select {
		case <-p.finished:
			p.err = p.waitErr
			return
		default:
		}
		select {
		case <-p.finished:
			p.err = p.waitErr
		case <-p.killed:
			p.err = fmt.Errorf("%w: signal: killed", video.ErrTranscode)
		}
	})
	return p.err
}

// failingWriter is a response whose client has gone away.
type failingWriter struct {
	header http.Header
	code   int
	writes int
	after  int
}

func newFailingWriter(after int) *failingWriter {
	return &failingWriter{header: http.Header{}, after: after}
}

func (w *failingWriter) Header() http.Header { return w.header }
func (w *failingWriter) WriteHeader(code int) { w.code = code }
func (w *failingWriter) Write(p []byte) (int, error) {
	if w.writes >= w.after {
		return 0, errors.New("write: broken pipe")
	}
	w.writes++
	return len(p), nil
}

func testConfig(t *testing.T, delivery string) *config.Config {
	return &config.Config{
		Delivery:          delivery,
		TempDir:           t.TempDir(),
		FFStartTimeout:    2 * time.Second,
		MaxOutputSize:     1 << 20,
		CopyBufferSize:    1024,
		FilenameMaxLength: 200,
		MaxConcurrency:    2,
		TempFileMaxAge:    time.Hour,
	}
}

type harness struct {
	cfg   *config.Config
	meta  *fakeMeta
	src   *fakeSource
	tc    *fakeTranscoder
	store *TempStore
	p     *Pipeline
}

func newHarness(t *testing.T, delivery string, tc *fakeTranscoder) *harness {
	t.Helper()
	cfg := testConfig(t, delivery)
	store, err := NewTempStore(cfg.TempDir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{cfg: cfg, meta: &fakeMeta{}, src: &fakeSource{}, tc: tc, store: store}
	h.p = NewPipeline(cfg, h.meta, h.src, tc, store, zerolog.Nop())
	return h
}

func chunks(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}
