package video

import (
	"regexp"
	"strings"
)

const (
	idLength       = 11
	watchURLPrefix = "https://www.youtube.com/watch?v="
)

// ID is a canonical video identifier: an 11 character token of letters,
// digits, '-' and '_'.
type ID string

var (
	urlShapes = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/v/|youtube\.com/shorts/)([^&?/#]+)`)
	bareID    = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)
)

// ExtractID normalizes a URL or bare identifier. The second return value is
// false when nothing usable was found. It never touches the network.
func ExtractID(raw string) (ID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	if len(raw) == idLength && !strings.ContainsAny(raw, "/?") {
		return ID(raw), true
	}

	if m := urlShapes.FindStringSubmatch(raw); m != nil && bareID.MatchString(m[1]) {
		return ID(m[1]), true
	}

	if bareID.MatchString(raw) {
		return ID(raw), true
	}
	return "", false
}

// URL returns the canonical watch URL for the identifier.
func (id ID) URL() string {
	return watchURLPrefix + string(id)
}

func (id ID) String() string {
	return string(id)
}
