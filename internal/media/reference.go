// Package media holds the shared domain model for the resolution and
// streaming pipeline: references, resolved formats, range requests and
// transcode profiles.
package media

import (
	"fmt"
	"net/url"
)

// Platform identifies where a reference points.
type Platform string

const (
	// PlatformYouTube references a video by its platform-native id.
	PlatformYouTube Platform = "youtube"
	// PlatformSearch references the top result of a free-text search,
	// used for catalog (track) lookups.
	PlatformSearch Platform = "search"
	// PlatformDirect references a direct media URL that needs no
	// extraction beyond format probing.
	PlatformDirect Platform = "direct"
)

// Reference is the immutable identifier of a requested media item. It is
// the cache key; equality is structural.
type Reference struct {
	Platform    Platform
	ID          string
	QualityHint string
}

// Key returns the cache/singleflight key for the reference.
func (r Reference) Key() string {
	if r.QualityHint == "" {
		return string(r.Platform) + ":" + r.ID
	}
	return string(r.Platform) + ":" + r.ID + ":" + r.QualityHint
}

func (r Reference) String() string {
	return r.Key()
}

// TargetURL is what the extractor process is pointed at.
func (r Reference) TargetURL() string {
	switch r.Platform {
	case PlatformYouTube:
		return "https://www.youtube.com/watch?v=" + url.QueryEscape(r.ID)
	case PlatformSearch:
		return "ytsearch1:" + r.ID
	default:
		return r.ID
	}
}

// Validate rejects structurally unusable references early.
func (r Reference) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("media reference has empty id")
	}
	switch r.Platform {
	case PlatformYouTube, PlatformSearch, PlatformDirect:
		return nil
	default:
		return fmt.Errorf("unknown platform %q", r.Platform)
	}
}
