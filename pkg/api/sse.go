package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/clawbowl/clawbowl/pkg/proxy"
)

// sseEmitter writes shaped deltas as SSE frames, flushing after every
// event so mobile clients see progress immediately.
type sseEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (e *sseEmitter) Delta(d proxy.Delta) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

func (e *sseEmitter) Done() error {
	if _, err := fmt.Fprint(e.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
