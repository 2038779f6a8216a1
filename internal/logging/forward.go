package logging

import (
	"io"
	"sync/atomic"
)

// ForwardingWriter is an io.Writer whose destination can be swapped while
// writers are active. The wrapper job's output tail keeps a single
// ForwardingWriter for the lifetime of the reservation; each adopted
// pipeline command rewires it to that command's log.
//
// Writes and rewires are lock-free: the destination is loaded fresh on
// every Write, so a tail line produced concurrently with a rewire lands in
// either the old or the new destination, never nowhere.
type ForwardingWriter struct {
	wrapped atomic.Pointer[io.Writer]
}

// NewForwardingWriter returns a ForwardingWriter pointed at w.
// A nil w discards writes until Rewire is called.
func NewForwardingWriter(w io.Writer) *ForwardingWriter {
	fw := &ForwardingWriter{}
	fw.Rewire(w)
	return fw
}

// Rewire points the writer at a new destination. Nil discards.
func (fw *ForwardingWriter) Rewire(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	fw.wrapped.Store(&w)
}

func (fw *ForwardingWriter) Write(p []byte) (int, error) {
	w := fw.wrapped.Load()
	if w == nil {
		return len(p), nil
	}
	return (*w).Write(p)
}
