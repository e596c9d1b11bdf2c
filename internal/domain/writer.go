package domain

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/remux-dev/remux/internal/client"
	"github.com/remux-dev/remux/internal/coalesce"
	"github.com/remux-dev/remux/internal/codec"
)

// ErrPaneClosed rejects writes to a pane that is gone.
var ErrPaneClosed = errors.New("pane was closed")

// writeRPCTimeout bounds one batched WriteToPane call.
const writeRPCTimeout = 30 * time.Second

// paneWriter batches input bytes into WriteToPane calls on its own
// goroutine. Typing produces a byte or two per event; coalescing
// keeps the per-PDU overhead off the wire, and the dedicated
// goroutine keeps a slow link from blocking the caller's input loop.
type paneWriter struct {
	client *client.Client
	pane   codec.PaneID
	log    *slog.Logger

	in       chan []byte
	flushReq chan chan error
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

func newPaneWriter(c *client.Client, pane codec.PaneID, log *slog.Logger) *paneWriter {
	w := &paneWriter{
		client:   c,
		pane:     pane,
		log:      log,
		in:       make(chan []byte, 64),
		flushReq: make(chan chan error),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run()
	return w
}

// write queues data for batching. The slice is copied; the caller may
// reuse it.
func (w *paneWriter) write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case w.in <- buf:
		return nil
	case <-w.stopCh:
		return ErrPaneClosed
	}
}

// stop shuts the writer down without waiting. Queued bytes still
// flush before the goroutine exits.
func (w *paneWriter) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// drain forces everything queued so far onto the wire and waits for
// the server to acknowledge it. One-shot senders use this before
// exiting; interactive input never needs it.
func (w *paneWriter) drain(ctx context.Context) error {
	req := make(chan error, 1)
	select {
	case w.flushReq <- req:
	case <-w.stopCh:
		return ErrPaneClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req:
		return err
	case <-w.stopCh:
		return ErrPaneClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *paneWriter) run() {
	defer close(w.doneCh)
	coal := coalesce.New()
	defer coal.Stop()

	for {
		select {
		case data := <-w.in:
			if coal.Add(data) {
				w.send(coal.Flush())
			}
		case req := <-w.flushReq:
			drainQueue(w.in, coal)
			req <- w.send(coal.Flush())
		case <-coal.Timer():
			w.send(coal.Flush())
		case <-w.stopCh:
			drainQueue(w.in, coal)
			w.send(coal.Flush())
			return
		}
	}
}

func drainQueue(in chan []byte, coal *coalesce.Coalescer) {
	for {
		select {
		case data := <-in:
			coal.Add(data)
		default:
			return
		}
	}
}

func (w *paneWriter) send(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeRPCTimeout)
	defer cancel()
	if err := w.client.WriteToPane(ctx, w.pane, buf); err != nil {
		w.log.Warn("pane write failed", "remote_pane", w.pane, "bytes", len(buf), "err", err)
		return err
	}
	return nil
}
