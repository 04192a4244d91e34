package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// reservedFlags are set by the transcoder itself. Input, output, container,
// codec and bitrate follow one fixed policy and cannot be overridden.
var reservedFlags = map[string]bool{
	"-i":        true,
	"-f":        true,
	"-y":        true,
	"-n":        true,
	"-progress": true,
	"-c:a":      true,
	"-codec:a":  true,
	"-acodec":   true,
	"-b:a":      true,
	"-ab":       true,
}

// SplitArgs splits an argument string the way a shell would, without
// running one.
func SplitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("invalid argument syntax: %w", err)
	}
	return args, nil
}

// ValidateExtraArgs checks operator supplied encoder arguments. They may tune
// the encode (sample rate, channels, filters) but must not add inputs or
// outputs or touch the fixed codec and bitrate.
func ValidateExtraArgs(args []string) error {
	afterFlag := false
	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
		if strings.HasPrefix(arg, "-") {
			if reservedFlags[arg] {
				return fmt.Errorf("argument %s is managed by the transcoder", arg)
			}
			afterFlag = true
			continue
		}
		// ffmpeg treats a bare word that is not an option value as another output.
		if !afterFlag {
			return fmt.Errorf("unexpected positional argument: %s", arg)
		}
		afterFlag = false
	}
	return nil
}
