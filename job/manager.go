package job

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"ytaudio/config"
	"ytaudio/video"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

// Executor runs one job to completion.
type Executor interface {
	Execute(ctx context.Context, j *Job, w http.ResponseWriter) error
}

// Manager tracks running and recently finished jobs and bounds how many run
// at once.
type Manager struct {
	cfg      *config.Config
	executor Executor
	store    *TempStore
	jobs     sync.Map
	slots    chan struct{}
	logger   zerolog.Logger
}

func NewManager(cfg *config.Config, executor Executor, store *TempStore, logger zerolog.Logger) (*Manager, error) {
	if executor == nil {
		return nil, fmt.Errorf("job manager needs an executor")
	}
	m := &Manager{
		cfg:      cfg,
		executor: executor,
		store:    store,
		logger:   logger.With().Str("component", "manager").Logger(),
	}
	if cfg.MaxConcurrency > 0 {
		m.slots = make(chan struct{}, cfg.MaxConcurrency)
	}
	return m, nil
}

// Start sweeps temp files left by an earlier process and keeps sweeping
// until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info().Int("max_concurrency", m.cfg.MaxConcurrency).Str("delivery", m.cfg.Delivery).Msg("job manager started")
	if m.store != nil {
		if _, err := m.store.Sweep(m.cfg.TempFileMaxAge); err != nil {
			m.logger.Warn().Err(err).Msg("initial temp sweep failed")
		}
	}
	go m.cleanupLoop(ctx)
}

// cleanupInterval is how often the cleanup loop runs: a quarter of the
// retention, never below one second.
func cleanupInterval(maxAge time.Duration) time.Duration {
	if interval := maxAge / 4; interval > time.Second {
		return interval
	}
	return time.Second
}

// cleanupLoop periodically removes stale temp files and forgets old jobs.
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval(m.cfg.TempFileMaxAge))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("cleanup loop shutting down")
			return
		case <-ticker.C:
			if m.store != nil {
				if _, err := m.store.Sweep(m.cfg.TempFileMaxAge); err != nil {
					m.logger.Warn().Err(err).Msg("temp sweep failed")
				}
			}
			m.prune(m.cfg.TempFileMaxAge)
		}
	}
}

// prune drops finished jobs older than maxAge from the registry.
func (m *Manager) prune(maxAge time.Duration) int {
	pruned := 0
	m.jobs.Range(func(key, value interface{}) bool {
		finishedAt, done := value.(*Job).finished()
		if done && time.Since(finishedAt) > maxAge {
			m.jobs.Delete(key)
			pruned++
		}
		return true
	})
	return pruned
}

// Run executes a download for raw and streams the result to w. It blocks
// until the job reaches a terminal state.
func (m *Manager) Run(ctx context.Context, raw string, w http.ResponseWriter) (*Job, error) {
	j := New(fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix()), raw, m.cfg.Delivery)
	m.jobs.Store(j.ID, j)

	if m.slots != nil {
		select {
		case m.slots <- struct{}{}:
			defer func() { <-m.slots }()
		case <-ctx.Done():
			err := fmt.Errorf("%w: gave up waiting for a free slot: %w", video.ErrOverloaded, ctx.Err())
			j.advance(StateFailed, err)
			return j, err
		}
	}

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if m.cfg.FFTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, m.cfg.FFTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	j.setCancel(cancel)

	err := m.executor.Execute(jobCtx, j, w)
	return j, err
}

func (m *Manager) Get(jobID string) (*Job, bool) {
	if val, ok := m.jobs.Load(jobID); ok {
		return val.(*Job), true
	}
	return nil, false
}

// List returns all known jobs, newest first.
func (m *Manager) List() []*Job {
	var jobs []*Job
	m.jobs.Range(func(key, value interface{}) bool {
		jobs = append(jobs, value.(*Job))
		return true
	})
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return jobs
}

// Active counts jobs that have not reached a terminal state.
func (m *Manager) Active() int {
	n := 0
	m.jobs.Range(func(key, value interface{}) bool {
		if !value.(*Job).State().Terminal() {
			n++
		}
		return true
	})
	return n
}

// Cancel stops a running job. The job ends as cancelled and releases its
// resources exactly as it would on a client disconnect.
func (m *Manager) Cancel(jobID string) error {
	j, ok := m.Get(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if s := j.State(); s.Terminal() {
		return fmt.Errorf("cannot cancel job in state: %s", s)
	}
	cancel := j.cancelFunc()
	if cancel == nil {
		return fmt.Errorf("job %s is waiting for a slot and has no cancellation handle", jobID)
	}
	cancel()
	m.logger.Info().Str("job_id", jobID).Msg("cancellation requested")
	return nil
}
