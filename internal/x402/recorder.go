package x402

import (
	"bytes"
	"net/http"
)

// recorder buffers a handler's response so settlement can happen before
// anything reaches the client.
type recorder struct {
	header http.Header
	status int
	wrote  bool
	waived bool
	body   bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.wrote {
		return
	}
	r.status = status
	r.wrote = true
}

func (r *recorder) Write(p []byte) (int, error) {
	r.wrote = true
	return r.body.Write(p)
}

// Waive tells the gate in front of w that the response was already paid for,
// so the current payment is not settled. It is a no-op outside a gate.
func Waive(w http.ResponseWriter) {
	if rec, ok := w.(*recorder); ok {
		rec.waived = true
	}
}

func (r *recorder) ok() bool { return r.status >= 200 && r.status < 300 }

func (r *recorder) flushTo(w http.ResponseWriter) {
	for k, v := range r.header {
		w.Header()[k] = v
	}
	w.WriteHeader(r.status)
	_, _ = w.Write(r.body.Bytes())
}
