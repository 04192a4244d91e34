package ffmpeg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// progressKeys are the keys ffmpeg writes for -progress. Any other stderr
// line is a diagnostic.
var progressKeys = map[string]bool{
	"frame": true, "fps": true, "bitrate": true, "total_size": true,
	"out_time_us": true, "out_time_ms": true, "out_time": true,
	"dup_frames": true, "drop_frames": true, "speed": true, "progress": true,
}

// Progress is one block of ffmpeg -progress output.
type Progress struct {
	OutTime time.Duration
	Speed   string
	Done    bool
}

// Percent relates encoded time to the source length, capped at 100.
func (p Progress) Percent(length time.Duration) float64 {
	if p.Done {
		return 100
	}
	if length <= 0 {
		return 0
	}
	pct := float64(p.OutTime) / float64(length) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// parseStderr reads ffmpeg's stderr until it closes. Progress blocks go to
// onProgress, everything else into diag.
func parseStderr(r io.Reader, onProgress func(Progress), diag *tail) {
	sc := bufio.NewScanner(r)
	var cur Progress
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || !progressKeys[key] {
			diag.add(line)
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// Both are microseconds.
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				cur.OutTime = time.Duration(us) * time.Microsecond
			}
		case "speed":
			cur.Speed = value
		case "progress":
			cur.Done = value == "end"
			if onProgress != nil {
				onProgress(cur)
			}
		}
	}
	// Keep draining so ffmpeg never blocks on a full stderr pipe.
	io.Copy(io.Discard, r)
}

// tail keeps the last few diagnostic lines of a process.
type tail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newTail(max int) *tail {
	return &tail{max: max}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "; ")
}
