package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ytaudio/video"
)

type State string

const (
	StateCreated        State = "created"
	StateValidating     State = "validating"
	StateFetchingSource State = "fetching_source"
	StateTranscoding    State = "transcoding"
	StateDelivering     State = "delivering"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
)

// transitions lists the legal successors of every non-terminal state.
var transitions = map[State][]State{
	StateCreated:        {StateValidating, StateFailed},
	StateValidating:     {StateFetchingSource, StateFailed},
	StateFetchingSource: {StateTranscoding, StateFailed, StateCancelled},
	StateTranscoding:    {StateDelivering, StateFailed, StateCancelled},
	StateDelivering:     {StateCompleted, StateFailed, StateCancelled},
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is the unit of work behind one download request.
type Job struct {
	ID        string
	Raw       string
	Strategy  string
	CreatedAt time.Time

	mu          sync.Mutex
	state       State
	trail       []State
	videoID     video.ID
	title       string
	filename    string
	progress    float64
	bytesSent   int64
	headersSent bool
	err         error
	finishedAt  time.Time
	cancel      context.CancelFunc
}

func New(id, raw, strategy string) *Job {
	return &Job{
		ID:        id,
		Raw:       raw,
		Strategy:  strategy,
		CreatedAt: time.Now(),
		state:     StateCreated,
		trail:     []State{StateCreated},
	}
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the failure that ended the job, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// HeadersSent reports whether any part of the response reached the client.
func (j *Job) HeadersSent() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.headersSent
}

// Trail lists every state the job has been in, oldest first.
func (j *Job) Trail() []State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]State(nil), j.trail...)
}

func (j *Job) Filename() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.filename
}

// advance moves the job to the next state. cause is recorded when the job
// ends anywhere but StateCompleted.
func (j *Job) advance(to State, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.state, to) {
		return fmt.Errorf("illegal transition %s -> %s", j.state, to)
	}
	j.state = to
	j.trail = append(j.trail, to)
	if to.Terminal() {
		j.finishedAt = time.Now()
		if to == StateCompleted {
			j.progress = 100
		} else {
			j.err = cause
		}
	}
	return nil
}

func (j *Job) setVideo(id video.ID) {
	j.mu.Lock()
	j.videoID = id
	j.mu.Unlock()
}

func (j *Job) setTitle(title, filename string) {
	j.mu.Lock()
	j.title = title
	j.filename = filename
	j.mu.Unlock()
}

func (j *Job) setProgress(percent float64) {
	j.mu.Lock()
	if percent > j.progress {
		j.progress = percent
	}
	j.mu.Unlock()
}

func (j *Job) addBytes(n int) {
	j.mu.Lock()
	j.bytesSent += int64(n)
	j.headersSent = true
	j.mu.Unlock()
}

func (j *Job) markHeadersSent() {
	j.mu.Lock()
	j.headersSent = true
	j.mu.Unlock()
}

func (j *Job) setCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	j.cancel = cancel
	j.mu.Unlock()
}

func (j *Job) cancelFunc() context.CancelFunc {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancel
}

func (j *Job) finished() (time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishedAt, j.state.Terminal()
}

// Snapshot is the JSON view of a job.
type Snapshot struct {
	ID         string     `json:"id"`
	State      State      `json:"state"`
	Trail      []State    `json:"trail"`
	VideoID    string     `json:"videoId,omitempty"`
	Title      string     `json:"title,omitempty"`
	Filename   string     `json:"filename,omitempty"`
	Strategy   string     `json:"strategy"`
	Progress   float64    `json:"progress"`
	BytesSent  int64      `json:"bytesSent"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		ID:         j.ID,
		State:      j.state,
		Trail:      append([]State(nil), j.trail...),
		VideoID:    string(j.videoID),
		Title:      j.title,
		Filename:   j.filename,
		Strategy:   j.Strategy,
		Progress:   j.progress,
		BytesSent:  j.bytesSent,
		CreatedAt:  j.CreatedAt,
	}
	if !j.finishedAt.IsZero() {
		finished := j.finishedAt
		s.FinishedAt = &finished
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	return s
}
