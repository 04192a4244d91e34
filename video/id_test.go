package video

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractID(t *testing.T) {
	const want = ID("dQw4w9WgXcQ")

	inputs := []string{
		"dQw4w9WgXcQ",
		"  dQw4w9WgXcQ ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s",
		"https://youtube.com/watch?v=dQw4w9WgXcQ#comments",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ?si=abcdef",
		"https://www.youtube.com/embed/dQw4w9WgXcQ",
		"https://www.youtube.com/v/dQw4w9WgXcQ?version=3",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ",
		"youtube.com/shorts/dQw4w9WgXcQ/",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://music.youtube.com/watch?v=dQw4w9WgXcQ&list=RD",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got, ok := ExtractID(in)
			assert.True(t, ok)
			assert.Equal(t, want, got)
		})
	}
}

func TestExtractIDRejects(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"hello world, not a video",
		"https://www.youtube.com/",
		"https://www.youtube.com/watch?v=short",
		"https://example.com/watch/dQw4w9WgXcQ",
		"https://vimeo.com/123456789",
		"dQw4w9WgXcQdQw4",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got, ok := ExtractID(in)
			assert.False(t, ok)
			assert.Empty(t, got)
		})
	}
}

func TestIDURL(t *testing.T) {
	id, ok := ExtractID("https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	assert.True(t, ok)
	assert.Equal(t, ID("dQw4w9WgXcQ"), id)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", id.URL())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00", FormatDuration(0))
	assert.Equal(t, "3:33", FormatDuration(213*time.Second))
	assert.Equal(t, "1:02:03", FormatDuration(time.Hour+2*time.Minute+3*time.Second))
}
