package streamer

import (
	"fmt"

	"github.com/famomatic/streamgate/internal/media"
)

// transcodeArgs builds the transcoder invocation reading from stdin and
// writing the requested encoding to stdout.
func transcodeArgs(p media.TranscodeProfile) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
	}
	if !p.Video {
		args = append(args, "-vn")
	}
	if codec := outputCodec(p.Format); codec != "" {
		args = append(args, "-acodec", codec)
	}
	if p.BitrateK > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%dk", p.BitrateK))
	}
	if p.SampleRate > 0 {
		args = append(args, "-ar", fmt.Sprintf("%d", p.SampleRate))
	}
	if p.Channels > 0 {
		args = append(args, "-ac", fmt.Sprintf("%d", p.Channels))
	}
	return append(args, "-f", outputFormat(p.Format), "pipe:1")
}

func outputCodec(format string) string {
	switch format {
	case "mp3":
		return "libmp3lame"
	case "opus":
		return "libopus"
	case "aac", "adts":
		return "aac"
	case "flac":
		return "flac"
	default:
		return ""
	}
}

func outputFormat(format string) string {
	switch format {
	case "", "mp3":
		return "mp3"
	case "opus", "ogg":
		return "ogg"
	case "aac", "adts":
		return "adts"
	case "wav":
		return "wav"
	default:
		return format
	}
}
