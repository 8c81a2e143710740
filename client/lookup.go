package client

import (
	"context"
	"regexp"

	"github.com/famomatic/streamgate/internal/media"
)

// Catalog maps an external track identifier to a searchable reference.
type Catalog interface {
	Lookup(ctx context.Context, trackID string) (media.Reference, error)
}

var trackURLPattern = regexp.MustCompile(`(?:spotify:track:|open\.spotify\.com/track/)([0-9A-Za-z]+)`)

// trackID extracts a catalog track id from the input, if present.
func trackID(input string) (string, bool) {
	m := trackURLPattern.FindStringSubmatch(input)
	if len(m) != 2 {
		return "", false
	}
	return m[1], true
}
