package playlist

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidSourceURL indicates that no video identifier could be extracted from a URL.
var ErrInvalidSourceURL = errors.New("playlist: could not extract video id from url")

var youtubeIDPattern = regexp.MustCompile(`(?:youtube\.com/(?:[^/]+/.+/|(?:v|e(?:mbed)?)/|.*[?&]v=)|youtu\.be/)([^"&?/\s]{11})`)

// ExtractVideoID returns the 11 character YouTube id embedded in rawURL.
func ExtractVideoID(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	match := youtubeIDPattern.FindStringSubmatch(trimmed)
	if len(match) < 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidSourceURL, trimmed)
	}
	return match[1], nil
}
