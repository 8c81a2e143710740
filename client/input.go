package client

import (
	"regexp"
	"strings"

	"github.com/famomatic/streamgate/internal/media"
)

var (
	youtubeIDPattern = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)
	watchURLPattern  = regexp.MustCompile(`(?:v=|/shorts/|/live/|/embed/|youtu\.be/)([0-9A-Za-z_-]{11})`)
)

// ParseReference accepts a raw video id, common YouTube URL shapes, a
// direct audio URL, or free text (treated as a search query).
func ParseReference(input string) (media.Reference, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return media.Reference{}, ErrInvalidInput
	}
	if youtubeIDPattern.MatchString(s) {
		return media.Reference{Platform: media.PlatformYouTube, ID: s}, nil
	}
	if m := watchURLPattern.FindStringSubmatch(s); len(m) == 2 {
		return media.Reference{Platform: media.PlatformYouTube, ID: m[1]}, nil
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		if media.IsDirectAudioURL(s) {
			return media.Reference{Platform: media.PlatformDirect, ID: s}, nil
		}
		return media.Reference{}, ErrInvalidInput
	}
	return media.Reference{Platform: media.PlatformSearch, ID: s}, nil
}
