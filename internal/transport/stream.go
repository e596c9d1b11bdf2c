// Package transport dials the byte streams the mux protocol runs
// over: unix sockets, TLS over TCP, ssh-proxied stdio and QUIC. It
// hands back plain streams; framing and reconnect policy live above.
package transport

import (
	"io"
	"time"
)

// Stream is a bidirectional byte stream carrying framed PDUs. All
// transports produce one.
type Stream interface {
	io.ReadWriteCloser
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// WithWriteTimeout bounds every Write on s with a deadline so a
// stalled peer cannot wedge the writer forever. Streams that do not
// support write deadlines, and non-positive timeouts, pass through
// unchanged. Reads are never bounded: an idle mux connection is
// legitimate and can stay quiet for hours.
func WithWriteTimeout(s Stream, timeout time.Duration) Stream {
	if timeout <= 0 {
		return s
	}
	d, ok := s.(writeDeadliner)
	if !ok {
		return s
	}
	return &timeoutStream{Stream: s, deadline: d.SetWriteDeadline, timeout: timeout}
}

type timeoutStream struct {
	Stream
	deadline func(time.Time) error
	timeout  time.Duration
}

func (t *timeoutStream) Write(p []byte) (int, error) {
	if err := t.deadline(time.Now().Add(t.timeout)); err != nil {
		return 0, err
	}
	n, err := t.Stream.Write(p)
	t.deadline(time.Time{})
	return n, err
}
