package extraction

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/famomatic/streamgate/internal/media"
	"github.com/famomatic/streamgate/internal/procsup"
)

type fakeRunner struct {
	out   procsup.Output
	err   error
	calls int
	args  []string
}

func (f *fakeRunner) Run(_ context.Context, _ procsup.Kind, _ string, args []string, _ procsup.RunOptions) (procsup.Output, error) {
	f.calls++
	f.args = args
	return f.out, f.err
}

func testRef() media.Reference {
	return media.Reference{Platform: media.PlatformYouTube, ID: "dQw4w9WgXcQ"}
}

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestExtractParsesFormatsAndExpiry(t *testing.T) {
	expire := fixedNow().Add(6 * time.Hour).Unix()
	doc := fmt.Sprintf(`{
		"id": "dQw4w9WgXcQ",
		"title": "Test",
		"duration": 212,
		"formats": [
			{"url": "https://cdn.example/v.mp4?expire=%d", "ext": "mp4", "acodec": "aac", "vcodec": "h264", "tbr": 1200, "filesize": 12345678},
			{"url": "https://cdn.example/a.webm?expire=%d", "ext": "webm", "acodec": "opus", "vcodec": "none", "abr": 160, "filesize": 3456789}
		]
	}`, expire, expire)

	runner := &fakeRunner{out: procsup.Output{Stdout: []byte(doc)}}
	ex := New(runner, Config{Now: fixedNow})

	res, err := ex.Extract(context.Background(), testRef(), "")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(res.Formats) != 2 {
		t.Fatalf("expected 2 formats, got %d", len(res.Formats))
	}
	if got, want := res.ExpiresAt, time.Unix(expire, 0); !got.Equal(want) {
		t.Fatalf("expected expiry %v parsed from url, got %v", want, got)
	}
	audio := res.Formats[1]
	if !audio.HasAudio || audio.HasVideo {
		t.Fatalf("expected audio-only second format, got %+v", audio)
	}
	if audio.Bitrate != 160000 {
		t.Fatalf("expected 160kbit bitrate, got %d", audio.Bitrate)
	}
}

func TestExtractEstimatesExpiryWhenUnsigned(t *testing.T) {
	doc := `{"id":"x","title":"t","formats":[{"url":"https://cdn.example/a.mp3","ext":"mp3","acodec":"mp3","vcodec":"none"}]}`
	runner := &fakeRunner{out: procsup.Output{Stdout: []byte(doc)}}
	ex := New(runner, Config{Now: fixedNow})

	res, err := ex.Extract(context.Background(), testRef(), "")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got, want := res.ExpiresAt, fixedNow().Add(defaultURLLifetime); !got.Equal(want) {
		t.Fatalf("expected conservative expiry %v, got %v", want, got)
	}
}

func TestExtractZeroFormatsIsUnavailable(t *testing.T) {
	runner := &fakeRunner{out: procsup.Output{Stdout: []byte(`{"id":"x","title":"t","formats":[]}`)}}
	ex := New(runner, Config{Now: fixedNow})

	_, err := ex.Extract(context.Background(), testRef(), "")
	var exErr *Error
	if !errors.As(err, &exErr) || exErr.Kind != FailureUnavailable {
		t.Fatalf("expected FailureUnavailable, got %v", err)
	}
}

func TestExtractUndecodableOutputIsUnknown(t *testing.T) {
	runner := &fakeRunner{out: procsup.Output{Stdout: []byte("not json at all")}}
	ex := New(runner, Config{Now: fixedNow})

	_, err := ex.Extract(context.Background(), testRef(), "")
	var exErr *Error
	if !errors.As(err, &exErr) || exErr.Kind != FailureUnknown {
		t.Fatalf("expected FailureUnknown for undecodable output, got %v", err)
	}
}

func TestExtractClassifiesChallengeSignature(t *testing.T) {
	runner := &fakeRunner{err: &procsup.ExitError{
		Kind:       procsup.KindExtractor,
		ExitCode:   1,
		StderrTail: "ERROR: CHALLENGE_REQUIRED:abc123payload",
	}}
	ex := New(runner, Config{Now: fixedNow})

	_, err := ex.Extract(context.Background(), testRef(), "")
	var exErr *Error
	if !errors.As(err, &exErr) || exErr.Kind != FailureChallengeRequired {
		t.Fatalf("expected FailureChallengeRequired, got %v", err)
	}
	if exErr.ChallengePayload != "abc123payload" {
		t.Fatalf("expected challenge payload extracted, got %q", exErr.ChallengePayload)
	}
}

func TestExtractClassifiesStderrSignatures(t *testing.T) {
	cases := []struct {
		stderr string
		want   FailureKind
	}{
		{"ERROR: Video unavailable", FailureUnavailable},
		{"ERROR: HTTP Error 404: Not Found", FailureNotFound},
		{"ERROR: Connection reset by peer", FailureTransient},
		{"ERROR: HTTP Error 429: Too Many Requests", FailureTransient},
		{"something nobody has seen before", FailureUnknown},
	}
	for _, tc := range cases {
		runner := &fakeRunner{err: &procsup.ExitError{Kind: procsup.KindExtractor, ExitCode: 1, StderrTail: tc.stderr}}
		ex := New(runner, Config{Now: fixedNow})
		_, err := ex.Extract(context.Background(), testRef(), "")
		var exErr *Error
		if !errors.As(err, &exErr) || exErr.Kind != tc.want {
			t.Fatalf("stderr %q: expected kind %v, got %v", tc.stderr, tc.want, err)
		}
	}
}

func TestExtractTimeoutIsTransient(t *testing.T) {
	runner := &fakeRunner{err: procsup.ErrTimedOut}
	ex := New(runner, Config{Now: fixedNow})

	_, err := ex.Extract(context.Background(), testRef(), "")
	var exErr *Error
	if !errors.As(err, &exErr) || exErr.Kind != FailureTransient {
		t.Fatalf("expected timeout to classify as transient, got %v", err)
	}
}

func TestExtractSaturationPassesThrough(t *testing.T) {
	runner := &fakeRunner{err: procsup.ErrSaturated}
	ex := New(runner, Config{Now: fixedNow})

	_, err := ex.Extract(context.Background(), testRef(), "")
	if !errors.Is(err, procsup.ErrSaturated) {
		t.Fatalf("expected ErrSaturated to pass through, got %v", err)
	}
}

func TestExtractAttachesSolvedToken(t *testing.T) {
	runner := &fakeRunner{out: procsup.Output{Stdout: []byte(`{"id":"x","formats":[{"url":"u","acodec":"mp3","vcodec":"none"}]}`)}}
	ex := New(runner, Config{Now: fixedNow})

	if _, err := ex.Extract(context.Background(), testRef(), "tok123"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	found := false
	for _, a := range runner.args {
		if a == "youtube:po_token=tok123" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected solved token in extractor args, got %v", runner.args)
	}
}
