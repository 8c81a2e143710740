package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/famomatic/streamgate/internal/catalog"
	"github.com/famomatic/streamgate/internal/extraction"
	"github.com/famomatic/streamgate/internal/media"
	"github.com/famomatic/streamgate/internal/streamer"
)

type fakeResolver struct {
	res         *media.Resolution
	err         error
	resolves    int
	invalidates int
	lastRef     media.Reference
}

func (f *fakeResolver) Resolve(_ context.Context, ref media.Reference) (*media.Resolution, error) {
	f.resolves++
	f.lastRef = ref
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeResolver) Invalidate(media.Reference) { f.invalidates++ }

type fakeOpener struct {
	sessions []*streamer.Session
	errs     []error
	opens    int
}

func (f *fakeOpener) Open(context.Context, *media.Resolution, streamer.OpenOptions) (*streamer.Session, error) {
	i := f.opens
	f.opens++
	if i >= len(f.errs) {
		i = len(f.errs) - 1
	}
	if f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.sessions[i], nil
}

type fakeCatalog struct {
	ref media.Reference
	err error
	id  string
}

func (f *fakeCatalog) Lookup(_ context.Context, trackID string) (media.Reference, error) {
	f.id = trackID
	if f.err != nil {
		return media.Reference{}, f.err
	}
	return f.ref, nil
}

func testResolution() *media.Resolution {
	return &media.Resolution{
		Ref:         media.Reference{Platform: media.PlatformYouTube, ID: "dQw4w9WgXcQ"},
		Title:       "Test Track",
		DurationSec: 212,
		Formats:     []media.Format{{URL: "https://cdn.example/a", HasAudio: true, Size: 12345678}},
		ExpiresAt:   time.Now().Add(6 * time.Hour),
		ResolvedAt:  time.Now(),
	}
}

func testSession(body string) *streamer.Session {
	return &streamer.Session{
		ID:          "sess-1",
		Body:        io.NopCloser(strings.NewReader(body)),
		ContentType: "audio/webm",
		Size:        int64(len(body)),
		Seekable:    true,
	}
}

func newTestGateway(res *fakeResolver, open *fakeOpener, catalog Catalog) *Gateway {
	return &Gateway{
		cfg:     Config{Catalog: catalog},
		resolve: res,
		open:    open,
	}
}

func TestDeliverHappyPath(t *testing.T) {
	res := &fakeResolver{res: testResolution()}
	open := &fakeOpener{sessions: []*streamer.Session{testSession("audio bytes")}, errs: []error{nil}}
	g := newTestGateway(res, open, nil)

	handle, err := g.Deliver(context.Background(), "dQw4w9WgXcQ", DeliverOptions{})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	defer handle.Close()

	if handle.Info.Title != "Test Track" {
		t.Fatalf("expected metadata on handle, got %+v", handle.Info)
	}
	if handle.ContentType != "audio/webm" || !handle.Seekable {
		t.Fatalf("unexpected handle %+v", handle)
	}
	got, err := io.ReadAll(handle)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if string(got) != "audio bytes" {
		t.Fatalf("expected body passthrough, got %q", got)
	}
	if res.resolves != 1 || open.opens != 1 {
		t.Fatalf("expected 1 resolve and 1 open, got %d/%d", res.resolves, open.opens)
	}
}

func TestDeliverRefreshesRejectedResolutionOnce(t *testing.T) {
	res := &fakeResolver{res: testResolution()}
	open := &fakeOpener{
		sessions: []*streamer.Session{nil, testSession("fresh bytes")},
		errs:     []error{streamer.ErrNeedsReresolution, nil},
	}
	g := newTestGateway(res, open, nil)

	handle, err := g.Deliver(context.Background(), "dQw4w9WgXcQ", DeliverOptions{})
	if err != nil {
		t.Fatalf("expected success after refresh, got %v", err)
	}
	defer handle.Close()

	if res.invalidates != 1 {
		t.Fatalf("expected 1 invalidation, got %d", res.invalidates)
	}
	if res.resolves != 2 || open.opens != 2 {
		t.Fatalf("expected 2 resolves and 2 opens, got %d/%d", res.resolves, open.opens)
	}
}

func TestDeliverRejectionAfterRefreshFails(t *testing.T) {
	res := &fakeResolver{res: testResolution()}
	open := &fakeOpener{
		sessions: []*streamer.Session{nil},
		errs:     []error{streamer.ErrNeedsReresolution},
	}
	g := newTestGateway(res, open, nil)

	_, err := g.Deliver(context.Background(), "dQw4w9WgXcQ", DeliverOptions{})
	if !errors.Is(err, ErrUpstreamTransient) {
		t.Fatalf("expected ErrUpstreamTransient after second rejection, got %v", err)
	}
	if open.opens != 2 {
		t.Fatalf("expected exactly 2 opens, got %d", open.opens)
	}
	if res.invalidates != 2 {
		t.Fatalf("expected both rejected resolutions invalidated, got %d", res.invalidates)
	}
}

func TestDeliverMapsResolveFailures(t *testing.T) {
	res := &fakeResolver{err: &extraction.Error{Kind: extraction.FailureNotFound}}
	g := newTestGateway(res, &fakeOpener{errs: []error{nil}}, nil)

	_, err := g.Deliver(context.Background(), "dQw4w9WgXcQ", DeliverOptions{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeliverInvalidInput(t *testing.T) {
	g := newTestGateway(&fakeResolver{}, &fakeOpener{errs: []error{nil}}, nil)

	if _, err := g.Deliver(context.Background(), "https://example.com/page.html", DeliverOptions{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDeliverUsesCatalogForTrackLinks(t *testing.T) {
	catalog := &fakeCatalog{ref: media.Reference{Platform: media.PlatformSearch, ID: "Artist - Title"}}
	res := &fakeResolver{res: testResolution()}
	open := &fakeOpener{sessions: []*streamer.Session{testSession("x")}, errs: []error{nil}}
	g := newTestGateway(res, open, catalog)

	handle, err := g.Deliver(context.Background(), "spotify:track:4uLU6hMCjMI75M1A2tKUQC", DeliverOptions{QualityHint: "bestaudio"})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	defer handle.Close()

	if catalog.id != "4uLU6hMCjMI75M1A2tKUQC" {
		t.Fatalf("expected catalog consulted, got %q", catalog.id)
	}
	if res.lastRef.Platform != media.PlatformSearch || res.lastRef.ID != "Artist - Title" {
		t.Fatalf("expected search reference from catalog, got %v", res.lastRef)
	}
	if res.lastRef.QualityHint != "bestaudio" {
		t.Fatalf("expected quality hint carried onto catalog reference, got %q", res.lastRef.QualityHint)
	}
}

func TestDeliverMapsCatalogFailures(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{catalog.ErrTrackNotFound, ErrNotFound},
		{errors.New("connection refused"), ErrUpstreamTransient},
	}
	for _, tc := range cases {
		g := newTestGateway(&fakeResolver{}, &fakeOpener{errs: []error{nil}}, &fakeCatalog{err: tc.in})
		_, err := g.Deliver(context.Background(), "spotify:track:abc123", DeliverOptions{})
		if !errors.Is(err, tc.want) {
			t.Fatalf("catalog failure %v: got %v, want %v in chain", tc.in, err, tc.want)
		}
	}
}

func TestDeliverTrackLinkWithoutCatalog(t *testing.T) {
	g := newTestGateway(&fakeResolver{}, &fakeOpener{errs: []error{nil}}, nil)

	if _, err := g.Deliver(context.Background(), "spotify:track:abc123", DeliverOptions{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without catalog, got %v", err)
	}
}

func TestResolveReturnsMetadata(t *testing.T) {
	res := &fakeResolver{res: testResolution()}
	g := newTestGateway(res, &fakeOpener{errs: []error{nil}}, nil)

	info, err := g.Resolve(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if info.Title != "Test Track" || info.DurationSec != 212 {
		t.Fatalf("unexpected metadata %+v", info)
	}
}
