// Package coalesce batches small pane writes into fewer, larger
// protocol messages.
//
// Interactive typing produces a byte or two per key event; shipping
// each one as its own WriteToPane PDU spends more bytes on framing
// than on payload and wakes the server for every keystroke. A
// Coalescer accumulates bytes and flushes when:
//
//   - the deadline expires (measured from the first byte in the
//     batch, NOT reset by later adds; a deadline, not a debounce)
//   - the threshold is exceeded (a paste can fill a batch instantly)
//   - the owner calls Flush() at connection boundaries
package coalesce

import "time"

const (
	// Delay is the default deadline from the first byte in a batch.
	// Well below perceptible latency, long enough to merge the bytes
	// of an escape sequence or a paste burst.
	Delay = 2 * time.Millisecond

	// Threshold triggers an immediate flush when reached.
	Threshold = 32 * 1024
)

// Coalescer accumulates bytes and flushes on deadline or threshold.
// All methods are used from a single goroutine (the owner's select
// loop).
type Coalescer struct {
	delay     time.Duration
	threshold int

	buf   []byte
	timer *time.Timer
	armed bool // true while the deadline timer is running
}

// New creates a Coalescer with the default tuning.
func New() *Coalescer {
	return NewWith(Delay, Threshold)
}

// NewWith creates a Coalescer with explicit tuning. Tests use short
// delays; high-latency domains may want longer ones.
func NewWith(delay time.Duration, threshold int) *Coalescer {
	t := time.NewTimer(0)
	// Drain the initial fire from NewTimer(0) so Timer() starts clean.
	if !t.Stop() {
		<-t.C
	}
	return &Coalescer{
		delay:     delay,
		threshold: threshold,
		buf:       make([]byte, 0, threshold+4096),
		timer:     t,
	}
}

// Add appends data to the batch. Returns true if the threshold was
// reached and the caller should flush immediately.
//
// The deadline timer arms on the first byte of a batch; later adds do
// not reset it.
func (c *Coalescer) Add(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if len(c.buf) == 0 && !c.armed {
		c.timer.Reset(c.delay)
		c.armed = true
	}
	c.buf = append(c.buf, data...)
	return len(c.buf) >= c.threshold
}

// Flush returns the accumulated batch and resets the buffer. Returns
// nil when nothing is pending. The returned slice is a copy the
// caller owns.
func (c *Coalescer) Flush() []byte {
	if len(c.buf) == 0 {
		return nil
	}

	if c.armed {
		if !c.timer.Stop() {
			// Already fired; drain so a stale tick cannot trigger a
			// spurious flush later.
			select {
			case <-c.timer.C:
			default:
			}
		}
		c.armed = false
	}

	out := make([]byte, len(c.buf))
	copy(out, c.buf)
	c.buf = c.buf[:0]
	return out
}

// Timer returns the channel that fires when the batch deadline
// expires, for use in a select:
//
//	case <-coal.Timer():
//	    send(coal.Flush())
//
// Returns a nil channel while no deadline is armed; a nil channel
// blocks forever in select, disabling the case.
func (c *Coalescer) Timer() <-chan time.Time {
	if !c.armed {
		return nil
	}
	return c.timer.C
}

// Stop releases the timer. Call in defer when done with the
// Coalescer.
func (c *Coalescer) Stop() {
	c.timer.Stop()
	c.armed = false
}

// Pending returns the number of buffered bytes.
func (c *Coalescer) Pending() int {
	return len(c.buf)
}
