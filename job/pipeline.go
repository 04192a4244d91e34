package job

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"ytaudio/config"
	"ytaudio/video"

	"github.com/rs/zerolog"
)

type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, id video.ID) (*video.Metadata, error)
}

type SourceOpener interface {
	OpenAudio(ctx context.Context, id video.ID, quality video.Quality) (io.ReadCloser, error)
}

// TranscodeRequest describes one encode. Source is consumed incrementally.
type TranscodeRequest struct {
	Source     io.Reader
	Length     time.Duration
	OnProgress func(percent float64)
}

type Transcoder interface {
	Start(ctx context.Context, req TranscodeRequest) (Process, error)
}

// Process is a running encode. Output must be drained before Wait reports
// the final status. Wait may be called more than once and Kill is safe at
// any time.
type Process interface {
	Output() io.Reader
	Wait() error
	Kill()
}

type Pipeline struct {
	cfg        *config.Config
	meta       MetadataFetcher
	source     SourceOpener
	transcoder Transcoder
	store      *TempStore
	deliverer  *Deliverer
	quality    video.Quality
	logger     zerolog.Logger
}

func NewPipeline(cfg *config.Config, meta MetadataFetcher, source SourceOpener, transcoder Transcoder, store *TempStore, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		meta:       meta,
		source:     source,
		transcoder: transcoder,
		store:      store,
		deliverer:  NewDeliverer(int(cfg.CopyBufferSize), store, logger),
		quality:    video.QualityHigh,
		logger:     logger.With().Str("component", "pipeline").Logger(),
	}
}

// run holds what a single job owns. release frees all of it exactly once.
type run struct {
	job  *Job
	w    *trackingWriter
	log  zerolog.Logger
	id   video.ID
	meta *video.Metadata

	src      io.ReadCloser
	proc     Process
	out      *bufio.Reader
	tempPath string

	once sync.Once
}

func (r *run) release(store *TempStore) {
	r.once.Do(func() {
		if r.proc != nil {
			r.proc.Kill()
			r.proc.Wait()
		}
		if r.src != nil {
			r.src.Close()
		}
		if r.tempPath != "" && store != nil {
			store.Remove(r.tempPath)
		}
	})
}

// Execute drives j from StateCreated to a terminal state, writing audio or
// nothing to w. The returned error is the job's failure; when j.HeadersSent
// is false the caller may still answer with an error response.
func (p *Pipeline) Execute(ctx context.Context, j *Job, w http.ResponseWriter) error {
	r := &run{
		job: j,
		w:   &trackingWriter{ResponseWriter: w, onWrite: j.markHeadersSent},
		log: p.logger.With().Str("job_id", j.ID).Logger(),
	}
	defer r.release(p.store)

	state := j.State()
	for !state.Terminal() {
		next, err := p.step(ctx, r, state)
		if err != nil {
			next = failureState(ctx, state, err)
		}
		if terr := j.advance(next, err); terr != nil {
			// A step returned a successor the table does not allow.
			r.log.Error().Err(terr).Msg("state machine violation")
			next = StateFailed
			j.advance(next, fmt.Errorf("%w: %w", video.ErrTranscode, terr))
		}
		r.log.Debug().Str("from", string(state)).Str("to", string(next)).Msg("transition")
		state = next
	}

	p.logOutcome(r)
	return j.Err()
}

func (p *Pipeline) step(ctx context.Context, r *run, s State) (State, error) {
	switch s {
	case StateCreated:
		return p.extract(r)
	case StateValidating:
		return p.validate(ctx, r)
	case StateFetchingSource:
		return p.openSource(ctx, r)
	case StateTranscoding:
		return p.transcode(ctx, r)
	case StateDelivering:
		return p.deliver(ctx, r)
	}
	return StateFailed, fmt.Errorf("no step for state %s", s)
}

// failureState picks the terminal state for an error raised while in from.
// Client disconnects and explicit cancels after the source is being fetched
// end the job as cancelled; everything else is a failure.
func failureState(ctx context.Context, from State, err error) State {
	switch from {
	case StateFetchingSource, StateTranscoding, StateDelivering:
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) || errors.Is(err, video.ErrDelivery) {
			return StateCancelled
		}
	}
	return StateFailed
}

func (p *Pipeline) extract(r *run) (State, error) {
	id, ok := video.ExtractID(r.job.Raw)
	if !ok {
		return StateFailed, fmt.Errorf("%w: could not extract video id from %q", video.ErrInvalidInput, r.job.Raw)
	}
	r.id = id
	r.job.setVideo(id)
	r.log = r.log.With().Str("video_id", string(id)).Logger()
	return StateValidating, nil
}

func (p *Pipeline) validate(ctx context.Context, r *run) (State, error) {
	meta, err := p.meta.FetchMetadata(ctx, r.id)
	if err != nil {
		return StateFailed, ensureKind(err, video.ErrProvider)
	}
	r.meta = meta
	r.job.setTitle(meta.Title, Filename(meta.Title, p.cfg.FilenameMaxLength))
	return StateFetchingSource, nil
}

func (p *Pipeline) openSource(ctx context.Context, r *run) (State, error) {
	src, err := p.source.OpenAudio(ctx, r.id, p.quality)
	if err != nil {
		return StateFailed, ensureKind(err, video.ErrSourceUnavailable)
	}
	r.src = src
	return StateTranscoding, nil
}

func (p *Pipeline) transcode(ctx context.Context, r *run) (State, error) {
	proc, err := p.transcoder.Start(ctx, TranscodeRequest{
		Source:     r.src,
		Length:     r.meta.Length,
		OnProgress: r.job.setProgress,
	})
	if err != nil {
		return StateFailed, ensureKind(err, video.ErrTranscode)
	}
	r.proc = proc
	r.out = bufio.NewReaderSize(capReader(proc.Output(), p.cfg.MaxOutputSize), int(p.cfg.CopyBufferSize))

	if err := p.awaitFirstByte(ctx, r); err != nil {
		return StateFailed, err
	}

	if p.cfg.Delivery == config.DeliveryMaterialize {
		if err := p.materialize(r); err != nil {
			return StateFailed, err
		}
	}
	return StateDelivering, nil
}

// awaitFirstByte bounds transcoder startup: if no output shows up within
// FFStartTimeout the process is killed.
func (p *Pipeline) awaitFirstByte(ctx context.Context, r *run) error {
	done := make(chan error, 1)
	go func() {
		_, err := r.out.Peek(1)
		done <- err
	}()

	var timeout <-chan time.Time
	if p.cfg.FFStartTimeout > 0 {
		timer := time.NewTimer(p.cfg.FFStartTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if werr := r.proc.Wait(); werr != nil {
			return ensureKind(werr, video.ErrTranscode)
		}
		if err == io.EOF {
			return fmt.Errorf("%w: transcoder produced no output", video.ErrTranscode)
		}
		return ensureKind(err, video.ErrTranscode)
	case <-timeout:
		r.proc.Kill()
		<-done
		return fmt.Errorf("%w: no output within %s", video.ErrTranscode, p.cfg.FFStartTimeout)
	case <-ctx.Done():
		r.proc.Kill()
		<-done
		return ctx.Err()
	}
}

// materialize writes the whole encode to a temp file and waits for the
// transcoder to finish before anything is sent.
func (p *Pipeline) materialize(r *run) error {
	f, err := p.store.Create(r.meta.Title)
	if err != nil {
		return err
	}
	r.tempPath = f.Name()
	r.log.Debug().Str("path", r.tempPath).Msg("materializing output")

	_, copyErr := io.Copy(f, r.out)
	closeErr := f.Close()
	if copyErr != nil {
		r.proc.Kill()
		if werr := r.proc.Wait(); werr != nil && !errors.Is(copyErr, errOutputTooLarge) {
			return ensureKind(werr, video.ErrTranscode)
		}
		return ensureKind(copyErr, video.ErrTranscode)
	}
	if err := r.proc.Wait(); err != nil {
		return ensureKind(err, video.ErrTranscode)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: writing temp file: %w", video.ErrTranscode, closeErr)
	}
	return nil
}

func (p *Pipeline) deliver(ctx context.Context, r *run) (State, error) {
	filename := r.job.Filename()

	if p.cfg.Delivery == config.DeliveryMaterialize {
		path := r.tempPath
		_, err := p.deliverer.ServeFile(ctx, r.w, path, filename, r.job.addBytes)
		r.tempPath = ""
		if err != nil {
			p.abortIfStarted(r, err)
			return StateFailed, ensureKind(err, video.ErrTranscode)
		}
		return StateCompleted, nil
	}

	_, err := p.deliverer.Stream(ctx, r.w, r.out, filename, -1, r.job.addBytes)
	if err != nil {
		r.proc.Kill()
		if werr := r.proc.Wait(); werr != nil && ctx.Err() == nil && !errors.Is(err, video.ErrDelivery) && !errors.Is(err, errOutputTooLarge) {
			err = werr
		}
		p.abortIfStarted(r, err)
		return StateFailed, ensureKind(err, video.ErrTranscode)
	}
	if err := r.proc.Wait(); err != nil {
		p.abortIfStarted(r, err)
		return StateFailed, ensureKind(err, video.ErrTranscode)
	}
	return StateCompleted, nil
}

// abortIfStarted terminates the connection when the body is already partly
// sent and the failure did not come from the client itself.
func (p *Pipeline) abortIfStarted(r *run, err error) {
	if !r.job.HeadersSent() || errors.Is(err, video.ErrDelivery) {
		return
	}
	r.log.Error().Err(err).Msg("failure after response started; aborting connection")
	p.deliverer.Abort(r.w)
}

func (p *Pipeline) logOutcome(r *run) {
	s := r.job.Snapshot()
	var ev *zerolog.Event
	switch s.State {
	case StateCompleted:
		ev = r.log.Info()
	case StateCancelled:
		ev = r.log.Info().Str("reason", s.Error)
	default:
		if video.UserFault(r.job.Err()) {
			ev = r.log.Warn().Err(r.job.Err())
		} else {
			ev = r.log.Error().Err(r.job.Err())
		}
	}
	ev.Str("state", string(s.State)).
		Int64("bytes", s.BytesSent).
		Dur("elapsed", time.Since(s.CreatedAt)).
		Msg("job finished")
}

var knownKinds = []error{
	video.ErrInvalidInput,
	video.ErrNotFound,
	video.ErrProvider,
	video.ErrSourceUnavailable,
	video.ErrSourceBroken,
	video.ErrTranscode,
	video.ErrDelivery,
	video.ErrOverloaded,
	context.Canceled,
	context.DeadlineExceeded,
}

// ensureKind wraps err in kind unless it already carries a known kind.
func ensureKind(err, kind error) error {
	for _, k := range knownKinds {
		if errors.Is(err, k) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", kind, err)
}

var errOutputTooLarge = fmt.Errorf("%w: output exceeds size limit", video.ErrTranscode)

// capReader fails once more than max bytes have been read. max <= 0 means
// no limit.
func capReader(r io.Reader, max int64) io.Reader {
	if max <= 0 {
		return r
	}
	return &limitedReader{r: r, left: max}
}

type limitedReader struct {
	r    io.Reader
	left int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.left <= 0 {
		// One more byte available means the limit was crossed.
		var probe [1]byte
		n, err := l.r.Read(probe[:])
		if n > 0 {
			return 0, errOutputTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.left {
		p = p[:l.left]
	}
	n, err := l.r.Read(p)
	l.left -= int64(n)
	return n, err
}
