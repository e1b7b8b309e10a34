package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter emits `data: ...` frames on a streaming HTTP response.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sets the event-stream headers and returns a writer, or an
// error when the ResponseWriter cannot stream.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher}, nil
}

// send writes one frame. Strings go out verbatim, everything else is
// JSON-encoded.
func (s *sseWriter) send(data any) error {
	var payload []byte
	switch v := data.(type) {
	case string:
		payload = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		payload = b
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// done emits the terminal sentinel frame.
func (s *sseWriter) done() error {
	return s.send("[DONE]")
}
