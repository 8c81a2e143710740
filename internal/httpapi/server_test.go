package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/famomatic/streamgate/client"
	"github.com/famomatic/streamgate/internal/media"
)

type fakeGateway struct {
	info    client.MediaInfo
	handle  *client.StreamHandle
	err     error
	lastRef string
	opts    client.DeliverOptions
}

func (f *fakeGateway) Resolve(_ context.Context, input string) (client.MediaInfo, error) {
	f.lastRef = input
	return f.info, f.err
}

func (f *fakeGateway) Deliver(_ context.Context, input string, opts client.DeliverOptions) (*client.StreamHandle, error) {
	f.lastRef = input
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.handle, nil
}

func testHandle(body string, seekable bool) *client.StreamHandle {
	return &client.StreamHandle{
		ReadCloser:  io.NopCloser(strings.NewReader(body)),
		SessionID:   "sess-1",
		Info:        client.MediaInfo{Title: "Test"},
		ContentType: "audio/webm",
		Size:        int64(len(body)),
		Seekable:    seekable,
	}
}

func doRequest(gw *fakeGateway, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	s := NewServer(gw, zerolog.Nop())
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := doRequest(&fakeGateway{}, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestResolveReturnsMetadata(t *testing.T) {
	gw := &fakeGateway{info: client.MediaInfo{
		Ref:         media.Reference{Platform: media.PlatformYouTube, ID: "abc"},
		Title:       "Test Track",
		DurationSec: 212,
		Expiry:      time.Now().Add(time.Hour),
	}}
	rec := doRequest(gw, http.MethodGet, "/api/resolve?ref=abc", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["title"] != "Test Track" {
		t.Fatalf("unexpected body %v", body)
	}
	if gw.lastRef != "abc" {
		t.Fatalf("expected ref forwarded, got %q", gw.lastRef)
	}
}

func TestResolveMissingRef(t *testing.T) {
	rec := doRequest(&fakeGateway{}, http.MethodGet, "/api/resolve", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStreamPassThrough(t *testing.T) {
	gw := &fakeGateway{handle: testHandle("stream bytes", true)}
	rec := doRequest(gw, http.MethodGet, "/stream?ref=abc", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "stream bytes" {
		t.Fatalf("expected body passthrough, got %q", rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/webm" {
		t.Fatalf("expected content type, got %q", got)
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("expected Accept-Ranges for seekable handle, got %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "12" {
		t.Fatalf("expected content length, got %q", got)
	}
}

func TestStreamRangeReturnsPartialContent(t *testing.T) {
	gw := &fakeGateway{handle: testHandle("0123456789", true)}
	rec := doRequest(gw, http.MethodGet, "/stream?ref=abc", map[string]string{"Range": "bytes=2-5"})

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Fatalf("unexpected Content-Range %q", got)
	}
	if gw.opts.Range.Start != 2 || gw.opts.Range.End != 5 {
		t.Fatalf("expected range forwarded, got %+v", gw.opts.Range)
	}
}

func TestStreamTranscodeQuery(t *testing.T) {
	gw := &fakeGateway{handle: testHandle("x", false)}
	rec := doRequest(gw, http.MethodGet, "/stream?ref=abc&format=mp3&bitrate=128&samplerate=44100&channels=2", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := media.TranscodeProfile{Format: "mp3", BitrateK: 128, SampleRate: 44100, Channels: 2}
	if gw.opts.Transcode != want {
		t.Fatalf("expected transcode profile %+v, got %+v", want, gw.opts.Transcode)
	}
}

func TestStreamErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{client.ErrInvalidInput, http.StatusBadRequest},
		{client.ErrNotFound, http.StatusNotFound},
		{client.ErrUnavailable, http.StatusForbidden},
		{client.ErrSaturated, http.StatusServiceUnavailable},
		{client.ErrUpstreamTransient, http.StatusBadGateway},
		{client.ErrChallengeUnsolvable, http.StatusBadGateway},
	}
	for _, tc := range cases {
		gw := &fakeGateway{err: tc.err}
		rec := doRequest(gw, http.MethodGet, "/stream?ref=abc", nil)
		if rec.Code != tc.status {
			t.Fatalf("error %v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
	}
}

func TestStreamHeadOmitsBody(t *testing.T) {
	gw := &fakeGateway{handle: testHandle("stream bytes", true)}
	rec := doRequest(gw, http.MethodHead, "/stream?ref=abc", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body on HEAD, got %q", rec.Body)
	}
}

func TestParseRange(t *testing.T) {
	cases := []struct {
		header string
		want   media.RangeRequest
		ok     bool
	}{
		{"bytes=0-", media.RangeRequest{}, true},
		{"bytes=100-", media.RangeRequest{Start: 100}, true},
		{"bytes=100-199", media.RangeRequest{Start: 100, End: 199}, true},
		{"", media.RangeRequest{}, false},
		{"bytes=5-2", media.RangeRequest{}, false},
		{"bytes=0-10,20-30", media.RangeRequest{}, false},
		{"items=0-10", media.RangeRequest{}, false},
	}
	for _, tc := range cases {
		got, ok := parseRange(tc.header)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("parseRange(%q) = %+v,%v want %+v,%v", tc.header, got, ok, tc.want, tc.ok)
		}
	}
}
