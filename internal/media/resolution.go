package media

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// Format is one playable rendition from a resolution.
type Format struct {
	URL       string
	Container string
	MimeType  string
	Codec     string
	// Bitrate in bits per second; 0 when unknown.
	Bitrate int
	// Size in bytes; -1 when unknown.
	Size     int64
	HasAudio bool
	HasVideo bool
}

// Resolution is the outcome of one successful extraction. It is never
// mutated after creation; a fresh extraction produces a fresh Resolution.
type Resolution struct {
	Ref         Reference
	Title       string
	DurationSec int64
	Live        bool
	Formats     []Format
	// ExpiresAt is parsed from the signed URLs when possible, otherwise
	// conservatively estimated.
	ExpiresAt  time.Time
	ResolvedAt time.Time
}

// ExpiredBy reports whether the resolution should be considered stale at
// now, applying the safety margin before the recorded expiry.
func (r *Resolution) ExpiredBy(now time.Time, margin time.Duration) bool {
	return !now.Before(r.ExpiresAt.Add(-margin))
}

// directAudioExtensions mirrors the containers a client can play without
// transcoding.
var directAudioExtensions = []string{".mp3", ".aac", ".m4a", ".ogg", ".opus", ".flac", ".wav", ".m3u8"}

// IsDirectAudioURL reports whether the URL already points at a direct
// audio container.
func IsDirectAudioURL(raw string) bool {
	lowered := strings.ToLower(raw)
	if i := strings.IndexAny(lowered, "?#"); i >= 0 {
		lowered = lowered[:i]
	}
	return lo.SomeBy(directAudioExtensions, func(ext string) bool {
		return strings.HasSuffix(lowered, ext)
	})
}

// SelectFormat picks the delivery format: audio-only renditions first
// unless video is wanted, highest bitrate wins, quality hint narrows by
// container or codec. ok is false when nothing is usable.
func SelectFormat(formats []Format, wantVideo bool, hint string) (Format, bool) {
	usable := lo.Filter(formats, func(f Format, _ int) bool {
		return f.URL != "" && (f.HasAudio || f.HasVideo)
	})
	if hint != "" {
		hinted := lo.Filter(usable, func(f Format, _ int) bool {
			return strings.EqualFold(f.Container, hint) || strings.EqualFold(f.Codec, hint)
		})
		if len(hinted) > 0 {
			usable = hinted
		}
	}
	if len(usable) == 0 {
		return Format{}, false
	}

	pool := usable
	if wantVideo {
		withVideo := lo.Filter(usable, func(f Format, _ int) bool { return f.HasVideo })
		if len(withVideo) > 0 {
			pool = withVideo
		}
	} else {
		audioOnly := lo.Filter(usable, func(f Format, _ int) bool { return f.HasAudio && !f.HasVideo })
		if len(audioOnly) > 0 {
			pool = audioOnly
		} else {
			withAudio := lo.Filter(usable, func(f Format, _ int) bool { return f.HasAudio })
			if len(withAudio) > 0 {
				pool = withAudio
			}
		}
	}

	best := lo.MaxBy(pool, func(a Format, b Format) bool { return a.Bitrate > b.Bitrate })
	return best, true
}
