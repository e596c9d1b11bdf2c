package domain

import (
	"context"
	"sync"
	"time"

	"github.com/remux-dev/remux/internal/codec"
	"github.com/remux-dev/remux/internal/linecache"
)

// fetchTimeout bounds one GetLines fetch for dirty rows.
const fetchTimeout = 30 * time.Second

// Pane mirrors one remote pane: metadata, a budgeted line cache in
// stable row coordinates, and a batched write path for input.
type Pane struct {
	dom      *ClientDomain
	localID  codec.PaneID
	remoteID codec.PaneID
	writer   *paneWriter
	lines    *linecache.Cache

	mu           sync.Mutex
	title        string
	workingDir   string
	cursor       codec.StableCursorPosition
	dims         codec.RenderableDimensions
	mouseGrabbed bool
	seqno        uint64
	echoSampled  bool
	echoLatency  time.Duration
	predictEcho  bool
}

func newPane(d *ClientDomain, remote codec.PaneID) *Pane {
	p := &Pane{
		dom:      d,
		localID:  d.mux.AllocPaneID(),
		remoteID: remote,
		lines:    linecache.New(linecache.DefaultBudget),
	}
	p.writer = newPaneWriter(d.client, remote, d.log)
	return p
}

// ID implements mux.Pane with the locally allocated id.
func (p *Pane) ID() codec.PaneID { return p.localID }

func (p *Pane) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title
}

// Close implements mux.Pane. It stops the write path without waiting
// for in-flight writes.
func (p *Pane) Close() { p.writer.stop() }

func (p *Pane) LocalID() codec.PaneID  { return p.localID }
func (p *Pane) RemoteID() codec.PaneID { return p.remoteID }

func (p *Pane) WorkingDir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workingDir
}

func (p *Pane) Cursor() codec.StableCursorPosition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func (p *Pane) Dimensions() codec.RenderableDimensions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims
}

func (p *Pane) MouseGrabbed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mouseGrabbed
}

// SeqNo returns the sequence number of the last applied render delta.
func (p *Pane) SeqNo() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seqno
}

// Line returns the cached text for a stable row. A miss can mean the
// row was never dirtied or that the cache evicted it.
func (p *Pane) Line(row codec.StableRowIndex) (string, bool) {
	return p.lines.Get(row)
}

// EchoLatency reports the last measured input-to-echo round trip.
// ok is false until a tagged input has echoed.
func (p *Pane) EchoLatency() (latency time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.echoLatency, p.echoSampled
}

// PredictLocalEcho reports whether the link is fast enough for local
// echo prediction, per the domain's configured threshold.
func (p *Pane) PredictLocalEcho() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.predictEcho
}

// WriteInput queues keyboard bytes for the batched write path.
func (p *Pane) WriteInput(data []byte) error {
	return p.writer.write(data)
}

// DrainInput flushes queued input and waits until the server has
// acknowledged it.
func (p *Pane) DrainInput(ctx context.Context) error {
	return p.writer.drain(ctx)
}

// SendKey delivers one key press, tagged so the echo latency can be
// measured when its effect comes back in a render delta.
func (p *Pane) SendKey(ctx context.Context, event codec.KeyEvent) error {
	return p.dom.client.SendKeyDown(ctx, p.remoteID, event, codec.InputSerialNow())
}

// PollRenderChanges asks the server to push a fresh delta for this
// pane. A pane reported dead is dropped from the local mirror.
func (p *Pane) PollRenderChanges(ctx context.Context) error {
	alive, err := p.dom.client.GetPaneRenderChanges(ctx, p.remoteID)
	if err != nil {
		return err
	}
	if !alive.IsAlive {
		p.dom.forgetPane(p.remoteID)
	}
	return nil
}

// applyEntry refreshes metadata from a full topology listing.
func (p *Pane) applyEntry(e *codec.PaneEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.title = e.Title
	if e.WorkingDir != "" {
		p.workingDir = e.WorkingDir
	}
	p.cursor = e.CursorPos
}

// applyRenderChanges folds one render delta into the mirror and
// schedules a fetch for dirty rows the delta did not carry.
func (p *Pane) applyRenderChanges(delta *codec.GetPaneRenderChangesResponse) {
	p.mu.Lock()
	p.title = delta.Title
	if delta.WorkingDir != "" {
		p.workingDir = delta.WorkingDir
	}
	p.cursor = delta.CursorPosition
	p.dims = delta.Dimensions
	p.mouseGrabbed = delta.MouseGrabbed
	p.seqno = delta.SeqNo

	covered := make(map[codec.StableRowIndex]bool, len(delta.BonusLines))
	for _, line := range delta.BonusLines {
		p.lines.Put(line.Row, line.Text)
		covered[line.Row] = true
	}
	missing := uncoveredRows(delta.DirtyLines, covered)

	if delta.InputSerial != codec.InputSerialEmpty {
		elapsed := delta.InputSerial.Elapsed()
		p.echoSampled = true
		p.echoLatency = elapsed
		thr := p.dom.echoThreshold
		p.predictEcho = thr > 0 && elapsed < thr
		echoLatency.Observe(elapsed.Seconds())
	}
	p.mu.Unlock()

	if len(missing) > 0 {
		go p.fetchLines(missing)
	}
}

// uncoveredRows subtracts covered rows from the dirty ranges,
// repacking the leftovers into maximal runs.
func uncoveredRows(dirty []codec.RowRange, covered map[codec.StableRowIndex]bool) []codec.RowRange {
	var out []codec.RowRange
	for _, r := range dirty {
		var run codec.RowRange
		inRun := false
		for row := r.Start; row < r.End; row++ {
			if covered[row] {
				if inRun {
					out = append(out, run)
					inRun = false
				}
				continue
			}
			if inRun {
				run.End = row + 1
			} else {
				run = codec.RowRange{Start: row, End: row + 1}
				inRun = true
			}
		}
		if inRun {
			out = append(out, run)
		}
	}
	return out
}

func (p *Pane) fetchLines(ranges []codec.RowRange) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	resp, err := p.dom.client.GetLines(ctx, p.remoteID, ranges)
	if err != nil {
		p.dom.log.Warn("fetching dirty rows", "remote_pane", p.remoteID, "err", err)
		return
	}
	for _, line := range resp.Lines {
		p.lines.Put(line.Row, line.Text)
	}
}
