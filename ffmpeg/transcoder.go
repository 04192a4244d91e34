package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"ytaudio/config"
	"ytaudio/job"
	"ytaudio/video"

	"github.com/rs/zerolog"
)

const (
	diagLines = 20
	waitDelay = 5 * time.Second
)

// Transcoder encodes an audio stream to MP3 with a fixed codec and bitrate
// by piping it through an ffmpeg process.
type Transcoder struct {
	bin       string
	bitrate   int
	codec     string
	extraArgs []string
	bufSize   int
	guard     *ResourceGuard
	logger    zerolog.Logger
}

func NewTranscoder(cfg *config.Config, guard *ResourceGuard, logger zerolog.Logger) (*Transcoder, error) {
	bin, err := exec.LookPath(cfg.FFBin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}

	extra, err := SplitArgs(cfg.FFExtraArgs)
	if err != nil {
		return nil, err
	}
	if err := ValidateExtraArgs(extra); err != nil {
		return nil, fmt.Errorf("invalid FF_EXTRA_ARGS: %w", err)
	}

	return &Transcoder{
		bin:       bin,
		bitrate:   cfg.AudioBitrate,
		codec:     cfg.AudioCodec,
		extraArgs: extra,
		bufSize:   int(cfg.CopyBufferSize),
		guard:     guard,
		logger:    logger.With().Str("component", "ffmpeg").Logger(),
	}, nil
}

// Args is the full ffmpeg argument list: stdin in, MP3 on stdout, progress
// and errors on stderr.
func (t *Transcoder) Args() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-progress", "pipe:2",
		"-i", "pipe:0",
		"-vn",
		"-c:a", t.codec,
		"-b:a", strconv.Itoa(t.bitrate) + "k",
	}
	args = append(args, t.extraArgs...)
	return append(args, "-f", "mp3", "pipe:1")
}

// Start launches ffmpeg and begins feeding it req.Source. The process is
// killed when ctx is done.
func (t *Transcoder) Start(ctx context.Context, req job.TranscodeRequest) (job.Process, error) {
	if t.guard != nil {
		if err := t.guard.Check(); err != nil {
			return nil, err
		}
	}

	cmd := exec.CommandContext(ctx, t.bin, t.Args()...)
	cmd.WaitDelay = waitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %w", video.ErrTranscode, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", video.ErrTranscode, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %w", video.ErrTranscode, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %w", video.ErrTranscode, t.bin, err)
	}
	t.logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", cmd.Args[1:]).Msg("transcoder started")

	p := &Process{
		cmd:        cmd,
		stdout:     stdout,
		diag:       newTail(diagLines),
		stderrDone: make(chan struct{}),
	}

	go p.feed(stdin, req.Source, t.bufSize)
	go func() {
		defer close(p.stderrDone)
		parseStderr(stderr, func(pr Progress) {
			pct := pr.Percent(req.Length)
			if req.OnProgress != nil {
				req.OnProgress(pct)
			}
			t.logger.Debug().Int("pid", cmd.Process.Pid).Float64("percent", pct).Str("speed", pr.Speed).Msg("transcode progress")
		}, p.diag)
	}()
	return p, nil
}

// Process is a running ffmpeg encode.
type Process struct {
	cmd        *exec.Cmd
	stdout     io.Reader
	diag       *tail
	stderrDone chan struct{}

	mu      sync.Mutex
	feedErr error

	waitOnce sync.Once
	waitErr  error
}

func (p *Process) Output() io.Reader {
	return p.stdout
}

// feed copies the source into ffmpeg's stdin through a bounded buffer. A
// source read error kills ffmpeg so a truncated input never turns into a
// seemingly complete file.
func (p *Process) feed(stdin io.WriteCloser, src io.Reader, size int) {
	defer stdin.Close()
	if size <= 0 {
		size = 32 * 1024
	}
	buf := make([]byte, size)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := stdin.Write(buf[:n]); werr != nil {
				// ffmpeg is gone; its exit status says why.
				return
			}
		}
		if rerr == io.EOF {
			return
		}
		if rerr != nil {
			if !errors.Is(rerr, video.ErrSourceBroken) {
				rerr = fmt.Errorf("%w: %w", video.ErrSourceBroken, rerr)
			}
			p.mu.Lock()
			p.feedErr = rerr
			p.mu.Unlock()
			p.Kill()
			return
		}
	}
}

// Wait blocks until ffmpeg exits. A broken source takes precedence over the
// exit status it caused.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		<-p.stderrDone
		err := p.cmd.Wait()

		p.mu.Lock()
		feedErr := p.feedErr
		p.mu.Unlock()

		switch {
		case feedErr != nil:
			p.waitErr = feedErr
		case err != nil && p.diag.String() != "":
			p.waitErr = fmt.Errorf("%w: %w: %s", video.ErrTranscode, err, p.diag.String())
		case err != nil:
			p.waitErr = fmt.Errorf("%w: %w", video.ErrTranscode, err)
		}
	})
	return p.waitErr
}

func (p *Process) Kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}
