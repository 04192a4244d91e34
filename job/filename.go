package job

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

const (
	audioExt        = ".mp3"
	fallbackStem    = "audio"
	tempStemMaxRune = 50
)

// Filename derives the download name for a title: characters that are illegal
// on common filesystems and other punctuation are dropped, whitespace becomes
// '_', runs of '_' collapse, and the result including ".mp3" fits maxLen runes.
func Filename(title string, maxLen int) string {
	return sanitize(title, maxLen-len(audioExt)) + audioExt
}

func sanitize(title string, maxRunes int) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			return r
		case unicode.IsSpace(r):
			return '_'
		default:
			return -1
		}
	}, title)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range mapped {
		if r == '_' {
			if prevUnderscore {
				continue
			}
			prevUnderscore = true
		} else {
			prevUnderscore = false
		}
		b.WriteRune(r)
	}

	stem := []rune(strings.Trim(b.String(), "_-"))
	if maxRunes > 0 && len(stem) > maxRunes {
		stem = []rune(strings.TrimRight(string(stem[:maxRunes]), "_-"))
	}
	if len(stem) == 0 {
		return fallbackStem
	}
	return string(stem)
}

// contentDisposition builds the attachment header. Non-ASCII names get an
// ASCII fallback plus an RFC 5987 filename* parameter.
func contentDisposition(name string) string {
	ascii := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || r == '"' || r == '\\' || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, name)
	if ascii == name {
		return fmt.Sprintf(`attachment; filename="%s"`, name)
	}
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, ascii, url.PathEscape(name))
}
