package video

import (
	"fmt"
	"time"
)

// Quality is the hint passed to the audio source when choosing a stream.
type Quality string

const (
	QualityHigh Quality = "high"
	QualityLow  Quality = "low"
)

// Metadata is a read-only snapshot of what the provider knows about a video.
// It is fetched once per request and never cached.
type Metadata struct {
	ID              ID            `json:"-"`
	Title           string        `json:"title"`
	Duration        string        `json:"duration"`
	DurationSeconds int           `json:"durationSeconds"`
	Channel         string        `json:"channel"`
	Thumbnail       string        `json:"thumbnail,omitempty"`
	URL             string        `json:"url"`
	Length          time.Duration `json:"-"`
}

// FormatDuration renders d the way video pages do: m:ss, or h:mm:ss past an hour.
func FormatDuration(d time.Duration) string {
	total := int(d.Round(time.Second).Seconds())
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
