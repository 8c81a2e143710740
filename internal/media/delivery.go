package media

import "fmt"

// RangeRequest is a requested byte range. End <= 0 means open-ended.
// The zero value means "from the start, everything".
type RangeRequest struct {
	Start int64
	End   int64
}

// IsZero reports whether no range was requested.
func (r RangeRequest) IsZero() bool {
	return r.Start == 0 && r.End <= 0
}

// Header renders the HTTP Range header value.
func (r RangeRequest) Header() string {
	if r.End > 0 && r.End >= r.Start {
		return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
	}
	return fmt.Sprintf("bytes=%d-", r.Start)
}

// TranscodeProfile describes the requested output encoding. The zero
// value means pass-through (no transcode).
type TranscodeProfile struct {
	// Container/output format, e.g. "mp3", "dfpwm", "opus".
	Format string
	// BitrateK is the target audio bitrate in kbit/s; 0 uses the
	// transcoder default.
	BitrateK int
	// SampleRate in Hz; 0 uses the transcoder default.
	SampleRate int
	// Channels; 0 uses the transcoder default.
	Channels int
	// Video requests a video rendition as transcode input.
	Video bool
}

// IsZero reports whether no transcode was requested.
func (p TranscodeProfile) IsZero() bool {
	return p.Format == "" && p.BitrateK == 0 && p.SampleRate == 0 && p.Channels == 0 && !p.Video
}

// ContentType maps the output format to its media type.
func (p TranscodeProfile) ContentType() string {
	switch p.Format {
	case "mp3":
		return "audio/mpeg"
	case "opus", "ogg":
		return "audio/ogg"
	case "aac", "adts":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	case "mp4":
		return "video/mp4"
	case "webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
