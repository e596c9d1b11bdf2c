// Package client implements the mux protocol client: a connection
// engine that multiplexes RPC calls over one stream, routes
// server-initiated PDUs, and survives connection drops by redialing
// and resynchronizing.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/remux-dev/remux/internal/codec"
	"github.com/remux-dev/remux/internal/transport"
)

// discardHandler is a no-op slog handler that discards all log records.
// Used when no logger is configured, so logging has zero overhead.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// ErrClientClosed resolves every call that is in flight or arrives
// after the client is destroyed.
var ErrClientClosed = errors.New("client was destroyed")

const (
	defaultBaseBackoff    = 1 * time.Second
	defaultMaxBackoff     = 10 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// Handler receives everything that is not a direct reply to a call:
// server-initiated PDUs and connection lifecycle events. Methods are
// invoked from the client's connection goroutine and must not call
// back into the client synchronously; hand work to another goroutine.
type Handler interface {
	// Unilateral delivers a server-initiated PDU (serial 0). The
	// engine has already verified it carries a pane routing id.
	Unilateral(decoded *codec.DecodedPdu)

	// Reattached fires after a dropped connection is re-established.
	// Remote state may have changed arbitrarily while we were gone;
	// the receiver should resynchronize.
	Reattached()

	// Detached fires when the connection is gone for good: the
	// domain's policy forbids reconnecting, or the server closed on
	// purpose.
	Detached(err error)

	// Status reports human-readable connection progress for the UI.
	Status(msg string)
}

// Options tunes a Client. The zero value is usable.
type Options struct {
	// Logger receives connection events. Default: discard.
	Logger *slog.Logger

	// BaseBackoff is the delay before the first reconnect attempt,
	// doubling per failure up to MaxBackoff. Defaults: 1s and 10s.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// ConnectTimeout bounds each dial attempt. Default: 10s.
	ConnectTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.New(discardHandler{})
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = defaultBaseBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	return o
}

// rpcResult resolves one call: a decoded reply or the failure that
// ended it.
type rpcResult struct {
	decoded *codec.DecodedPdu
	err     error
}

// request is one outbound call travelling from a caller goroutine to
// the connection goroutine.
type request struct {
	pdu     codec.Pdu
	replyCh chan rpcResult // buffered(1); never blocks the engine
}

// pendingCall tracks a request that has been written and is waiting
// for its reply serial.
type pendingCall struct {
	ch    chan rpcResult
	name  string
	start time.Time
}

// Client multiplexes RPC calls over a single mux protocol stream.
// Serials are assigned per connection, starting at 1, strictly
// increasing; a reconnect resets them, which is safe because every
// call in flight fails when its connection dies.
type Client struct {
	conn    Reconnectable
	handler Handler
	log     *slog.Logger
	opts    Options

	sendCh    chan *request
	closeCh   chan struct{}
	closeOnce sync.Once
	doneCh    chan struct{}

	// pendingN mirrors the size of the pending map for tests and
	// debugging; the map itself is owned by the connection goroutine.
	pendingN atomic.Int64
}

// Dial establishes the initial connection and starts the engine.
// handler must be non-nil. Connect errors on the first attempt are
// returned directly; later drops go through the reconnect policy.
func Dial(ctx context.Context, conn Reconnectable, handler Handler, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	c := &Client{
		conn:    conn,
		handler: handler,
		log:     opts.Logger.With("domain", conn.Label()),
		opts:    opts,
		sendCh:  make(chan *request, 16),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	c.handler.Status(fmt.Sprintf("Connecting to %s...", conn.Label()))
	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	stream, err := conn.Connect(dialCtx, true)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", conn.Label(), err)
	}

	go c.run(stream)
	return c, nil
}

// Close tears the client down. In-flight and queued calls resolve
// with ErrClientClosed. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	<-c.doneCh
	return nil
}

// PendingCalls returns how many calls are waiting for replies.
func (c *Client) PendingCalls() int {
	return int(c.pendingN.Load())
}

// send queues one PDU and waits for its reply.
func (c *Client) send(ctx context.Context, pdu codec.Pdu) (*codec.DecodedPdu, error) {
	req := &request{pdu: pdu, replyCh: make(chan rpcResult, 1)}

	select {
	case c.sendCh <- req:
	case <-c.doneCh:
		return nil, ErrClientClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.replyCh:
		return res.decoded, res.err
	case <-c.doneCh:
		// The engine may have answered just before exiting.
		select {
		case res := <-req.replyCh:
			return res.decoded, res.err
		default:
			return nil, ErrClientClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run owns the connection for the client's whole life: serve one
// stream until it fails, then apply the domain's reconnect policy.
func (c *Client) run(stream transport.Stream) {
	defer c.teardown()

	for {
		err := c.serve(stream)
		stream.Close()
		if err == nil {
			// Close() requested.
			return
		}

		if deliberateClose(err) {
			c.log.Info("server closed the connection")
			c.handler.Detached(err)
			return
		}
		if !c.conn.ShouldReconnect() {
			c.log.Warn("connection lost", "err", err)
			c.handler.Detached(err)
			return
		}

		c.log.Warn("connection lost, reconnecting", "err", err)
		next, ok := c.reconnect()
		if !ok {
			return
		}
		stream = next
		c.handler.Reattached()
	}
}

// reconnect redials with exponential backoff until it succeeds or the
// client is closed.
func (c *Client) reconnect() (transport.Stream, bool) {
	backoff := c.opts.BaseBackoff
	for attempt := 1; ; attempt++ {
		c.handler.Status(fmt.Sprintf("Lost connection to %s; reconnecting (attempt %d)...", c.conn.Label(), attempt))
		select {
		case <-time.After(backoff):
		case <-c.closeCh:
			return nil, false
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
		stream, err := c.conn.Connect(ctx, false)
		cancel()
		if err == nil {
			reconnectsTotal.Inc()
			c.log.Info("reconnected", "attempts", attempt)
			c.handler.Status(fmt.Sprintf("Reconnected to %s", c.conn.Label()))
			return stream, true
		}

		c.log.Warn("reconnect attempt failed", "attempt", attempt, "err", err, "next_delay", nextBackoff(backoff, c.opts.MaxBackoff))
		backoff = nextBackoff(backoff, c.opts.MaxBackoff)
	}
}

// readResult carries one decoded PDU or the stream error that ended
// reading.
type readResult struct {
	decoded *codec.DecodedPdu
	err     error
}

// readLoop feeds decoded PDUs to ch until the stream fails. done
// unblocks the final send when serve has already moved on.
func readLoop(stream transport.Stream, ch chan<- readResult, done <-chan struct{}) {
	var buf []byte
	for {
		decoded, err := codec.TryReadAndDecode(stream, &buf)
		select {
		case ch <- readResult{decoded: decoded, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// serve pumps one connection: assigns serials, writes requests,
// routes replies and unilateral PDUs. Returns nil only when Close was
// requested; any other return is a connection failure.
func (c *Client) serve(stream transport.Stream) (err error) {
	readCh := make(chan readResult)
	readDone := make(chan struct{})
	defer close(readDone)
	go readLoop(stream, readCh, readDone)

	// Serials restart at 1 on every connection.
	nextSerial := uint64(1)
	pending := make(map[uint64]*pendingCall)
	defer func() {
		failErr := err
		if failErr == nil {
			failErr = ErrClientClosed
		}
		for serial, call := range pending {
			delete(pending, serial)
			call.ch <- rpcResult{err: failErr}
		}
		c.pendingN.Store(0)
	}()

	for {
		select {
		case req := <-c.sendCh:
			serial := nextSerial
			nextSerial++
			// Register before writing: on a fast link the reply can
			// race back before Encode returns.
			pending[serial] = &pendingCall{
				ch:    req.replyCh,
				name:  codec.PduName(req.pdu),
				start: time.Now(),
			}
			c.pendingN.Store(int64(len(pending)))

			if _, werr := codec.Encode(stream, serial, req.pdu); werr != nil {
				delete(pending, serial)
				c.pendingN.Store(int64(len(pending)))
				req.replyCh <- rpcResult{err: werr}
				return werr
			}

		case res := <-readCh:
			if res.err != nil {
				return res.err
			}
			if derr := c.dispatch(pending, res.decoded, nextSerial); derr != nil {
				return derr
			}

		case <-c.closeCh:
			return nil
		}
	}
}

// dispatch routes one inbound PDU to its waiting call or to the
// handler. A non-nil return kills the connection.
func (c *Client) dispatch(pending map[uint64]*pendingCall, decoded *codec.DecodedPdu, nextSerial uint64) error {
	serial := decoded.Serial
	if serial == 0 {
		return c.dispatchUnilateral(decoded)
	}

	call, ok := pending[serial]
	if !ok {
		if serial >= nextSerial {
			// We never issued this serial. The stream is desynced or
			// the peer is broken; nothing after this can be trusted.
			return &codec.CorruptFrameError{
				Reason: fmt.Sprintf("response serial %d was never issued (next is %d)", serial, nextSerial),
			}
		}
		// Plausible serial with nobody waiting: a reply that lost a
		// race with connection teardown. Harmless.
		c.log.Warn("dropping reply with no waiting call",
			"serial", serial, "pdu", codec.PduName(decoded.Pdu))
		return nil
	}

	delete(pending, serial)
	c.pendingN.Store(int64(len(pending)))
	rpcDuration.WithLabelValues(call.name).Observe(time.Since(call.start).Seconds())
	call.ch <- rpcResult{decoded: decoded}
	return nil
}

func (c *Client) dispatchUnilateral(decoded *codec.DecodedPdu) error {
	if inv, ok := decoded.Pdu.(*codec.Invalid); ok {
		// A newer server pushed something we do not speak yet. Losing
		// a push is recoverable; the next poll catches us up.
		c.log.Warn("ignoring unilateral pdu from newer server", "ident", inv.Ident)
		return nil
	}
	if _, ok := codec.PduPaneID(decoded.Pdu); !ok {
		return fmt.Errorf("protocol violation: unilateral %s has no pane routing", codec.PduName(decoded.Pdu))
	}
	c.handler.Unilateral(decoded)
	return nil
}

// teardown resolves everything still queued and marks the client
// dead.
func (c *Client) teardown() {
	for {
		select {
		case req := <-c.sendCh:
			req.replyCh <- rpcResult{err: ErrClientClosed}
		default:
			close(c.doneCh)
			return
		}
	}
}

// deliberateClose reports whether the error means the peer shut the
// stream down on purpose. A clean EOF between frames and a torn frame
// are indistinguishable at the codec level, so both classify as
// deliberate; a server that wants us back does not close the socket.
func deliberateClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
