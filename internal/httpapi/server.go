// Package httpapi exposes the gateway over HTTP: metadata resolution,
// byte streaming with range support, and health.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/famomatic/streamgate/client"
	"github.com/famomatic/streamgate/internal/media"
)

// Gateway is the slice of the client façade the API serves.
type Gateway interface {
	Resolve(ctx context.Context, input string) (client.MediaInfo, error)
	Deliver(ctx context.Context, input string, opts client.DeliverOptions) (*client.StreamHandle, error)
}

// Server handles API requests.
type Server struct {
	gw  Gateway
	log zerolog.Logger
}

// NewServer creates an API server around gw.
func NewServer(gw Gateway, log zerolog.Logger) *Server {
	return &Server{gw: gw, log: log}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/resolve", s.handleResolve).Methods(http.MethodGet)
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet, http.MethodHead)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		s.writeError(w, http.StatusBadRequest, "missing ref parameter")
		return
	}

	info, err := s.gw.Resolve(r.Context(), ref)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ref":      info.Ref.Key(),
		"title":    info.Title,
		"duration": info.DurationSec,
		"live":     info.Live,
		"expiry":   info.Expiry,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := q.Get("ref")
	if ref == "" {
		s.writeError(w, http.StatusBadRequest, "missing ref parameter")
		return
	}

	opts := client.DeliverOptions{
		QualityHint: q.Get("quality"),
		WantVideo:   q.Get("video") == "true",
	}
	if format := q.Get("format"); format != "" {
		opts.Transcode = media.TranscodeProfile{
			Format:     format,
			BitrateK:   intParam(q.Get("bitrate")),
			SampleRate: intParam(q.Get("samplerate")),
			Channels:   intParam(q.Get("channels")),
			Video:      opts.WantVideo,
		}
	}

	rangeReq, rangeOK := parseRange(r.Header.Get("Range"))
	if rangeOK {
		opts.Range = rangeReq
	}

	handle, err := s.gw.Deliver(r.Context(), ref, opts)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	defer handle.Close()

	w.Header().Set("Content-Type", handle.ContentType)
	if handle.Seekable {
		w.Header().Set("Accept-Ranges", "bytes")
	}

	status := http.StatusOK
	if rangeOK && handle.Seekable && handle.Size > 0 {
		end := rangeReq.End
		if end <= 0 || end >= handle.Size {
			end = handle.Size - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rangeReq.Start, end, handle.Size))
		w.Header().Set("Content-Length", strconv.FormatInt(end-rangeReq.Start+1, 10))
		status = http.StatusPartialContent
	} else if handle.Size > 0 && !rangeOK {
		w.Header().Set("Content-Length", strconv.FormatInt(handle.Size, 10))
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, handle); err != nil {
		// Client went away mid-stream; nothing to send back.
		s.log.Debug().Str("session", handle.SessionID).Err(err).Msg("stream copy ended early")
	}
}

func (s *Server) writeMappedError(w http.ResponseWriter, err error) {
	if errors.Is(err, client.ErrClientAborted) {
		// The requester is gone; there is no one to answer.
		s.log.Debug().Err(err).Msg("request aborted by client")
		return
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, client.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, client.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, client.ErrUnavailable):
		status = http.StatusForbidden
	case errors.Is(err, client.ErrSaturated):
		status = http.StatusServiceUnavailable
	case errors.Is(err, client.ErrUpstreamTransient), errors.Is(err, client.ErrChallengeUnsolvable):
		status = http.StatusBadGateway
	}
	s.log.Warn().Int("status", status).Err(err).Msg("request failed")
	s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseRange handles the single-range form "bytes=start-end".
func parseRange(header string) (media.RangeRequest, bool) {
	if !strings.HasPrefix(header, "bytes=") {
		return media.RangeRequest{}, false
	}
	spec := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(spec, ",") {
		return media.RangeRequest{}, false
	}
	start, end, ok := strings.Cut(spec, "-")
	if !ok {
		return media.RangeRequest{}, false
	}
	req := media.RangeRequest{}
	v, err := strconv.ParseInt(start, 10, 64)
	if err != nil || v < 0 {
		return media.RangeRequest{}, false
	}
	req.Start = v
	if end != "" {
		v, err := strconv.ParseInt(end, 10, 64)
		if err != nil || v < req.Start {
			return media.RangeRequest{}, false
		}
		req.End = v
	}
	return req, true
}

func intParam(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
