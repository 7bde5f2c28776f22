package api

import (
	"errors"
	"fmt"
	"net/http"
)

var errStreamingUnsupported = errors.New("response writer does not support streaming")

// sseWriter frames payloads as Server-Sent Events and flushes after
// every write so chunks reach the client at token latency.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

// Begin commits the SSE response headers. After this point errors can
// only be reported in-band.
func (s *sseWriter) Begin() {
	header := s.w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

func (s *sseWriter) Send(payload []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
