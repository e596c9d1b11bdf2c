// Package domain mirrors a remote mux into the local topology model.
// It owns the reconciliation between the two identifier spaces: every
// remote window, tab and pane gets a locally allocated counterpart,
// and server pushes are routed to the pane they concern through the
// remote-to-local maps.
package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/remux-dev/remux/internal/client"
	"github.com/remux-dev/remux/internal/codec"
	"github.com/remux-dev/remux/internal/config"
	"github.com/remux-dev/remux/internal/mux"
)

// resyncTimeout bounds one topology fetch. Generous: a resync right
// after reconnecting may race server startup.
const resyncTimeout = 60 * time.Second

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Clipboard receives clipboard contents pushed by remote
// applications, keyed by the local pane id. data nil clears the
// selection. Called from the domain's dispatch goroutine.
type Clipboard func(pane codec.PaneID, selection codec.ClipboardSelection, data *string)

// Options tunes an Attach.
type Options struct {
	// Logger receives domain events. Default: discard.
	Logger *slog.Logger

	// Clipboard handles remote clipboard pushes. nil drops them with
	// a debug log.
	Clipboard Clipboard

	// Status receives human-readable connection progress. nil routes
	// it to the logger. Called from the connection goroutine; must
	// not block.
	Status func(msg string)

	// PrimaryWindow names an existing local window the first remote
	// window maps into, instead of creating a fresh one.
	PrimaryWindow *codec.WindowID

	// Client tunes the underlying connection engine.
	Client client.Options
}

// ClientDomain is the local mirror of one remote mux server.
type ClientDomain struct {
	name          string
	echoThreshold time.Duration
	mux           *mux.Mux
	log           *slog.Logger
	clipboard     Clipboard
	status        func(string)
	client        *client.Client

	// The maps translate between the server's ids and ours. localPanes
	// is the reverse pane index; windows and tabs are few enough that
	// reverse lookups scan.
	mu            sync.Mutex
	remoteWindows map[codec.WindowID]codec.WindowID
	remoteTabs    map[codec.TabID]codec.TabID
	remotePanes   map[codec.PaneID]*Pane
	localPanes    map[codec.PaneID]codec.PaneID
	primary       *codec.WindowID

	tasks     chan func()
	closeOnce sync.Once
	closedCh  chan struct{}
	doneCh    chan struct{}

	detachOnce sync.Once
	detachedCh chan struct{}
	detachMu   sync.Mutex
	detachErr  error
}

// Attach connects to dom's server, verifies protocol versions and
// mirrors the remote topology into m. The returned ClientDomain keeps
// the mirror current until Close or detach.
func Attach(ctx context.Context, dom config.Domain, m *mux.Mux, opts Options) (*ClientDomain, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(discardHandler{})
	}

	d := &ClientDomain{
		name:          dom.Name(),
		echoThreshold: dom.EchoThreshold(),
		mux:           m,
		log:           log.With("domain", dom.Name()),
		clipboard:     opts.Clipboard,
		status:        opts.Status,
		remoteWindows: make(map[codec.WindowID]codec.WindowID),
		remoteTabs:    make(map[codec.TabID]codec.TabID),
		remotePanes:   make(map[codec.PaneID]*Pane),
		localPanes:    make(map[codec.PaneID]codec.PaneID),
		primary:       opts.PrimaryWindow,
		tasks:         make(chan func(), 64),
		closedCh:      make(chan struct{}),
		doneCh:        make(chan struct{}),
		detachedCh:    make(chan struct{}),
	}

	connector, err := client.ForDomain(dom, log)
	if err != nil {
		return nil, err
	}

	copts := opts.Client
	if copts.Logger == nil {
		copts.Logger = log
	}
	c, err := client.Dial(ctx, connector, d, copts)
	if err != nil {
		return nil, err
	}
	d.client = c
	go d.dispatchLoop()

	if _, err := c.VerifyVersionCompat(ctx); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.Resync(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("initial sync: %w", err)
	}
	return d, nil
}

// Close tears the domain down. The local mirror is left in place; the
// caller owns the mux.
func (d *ClientDomain) Close() error {
	d.closeOnce.Do(func() { close(d.closedCh) })
	err := d.client.Close()
	<-d.doneCh
	return err
}

func (d *ClientDomain) Name() string { return d.name }

// Client exposes the underlying RPC surface for operations the domain
// does not wrap.
func (d *ClientDomain) Client() *client.Client { return d.client }

// Done is closed when the connection is gone for good; Err then
// reports why.
func (d *ClientDomain) Done() <-chan struct{} { return d.detachedCh }

func (d *ClientDomain) Err() error {
	d.detachMu.Lock()
	defer d.detachMu.Unlock()
	return d.detachErr
}

// Resync fetches the remote topology and reconciles the local mirror
// against it. Idempotent: a no-change resync leaves everything alone.
func (d *ClientDomain) Resync(ctx context.Context) error {
	resp, err := d.client.ListPanes(ctx)
	if err != nil {
		return err
	}
	d.reconcile(resp)
	resyncsTotal.Inc()
	return nil
}

// reconcile walks the remote pane trees, find-or-creating local
// counterparts, then sweeps mappings whose remote side vanished.
func (d *ClientDomain) reconcile(resp *codec.ListPanesResponse) {
	d.mu.Lock()
	seenWindows := make(map[codec.WindowID]bool)
	seenTabs := make(map[codec.TabID]bool)
	seenPanes := make(map[codec.PaneID]bool)

	for i := range resp.Tabs {
		tree := &resp.Tabs[i]
		remoteWindow, remoteTab, ok := tree.WindowAndTabIDs()
		if !ok {
			continue
		}
		localWindow := d.ensureWindowLocked(remoteWindow)
		localTab, ok := d.ensureTabLocked(remoteTab, localWindow, tree.RootSize())
		if !ok {
			continue
		}
		tree.Walk(func(e *codec.PaneEntry) {
			if p := d.ensurePaneLocked(e.PaneID, localTab); p != nil {
				p.applyEntry(e)
				seenPanes[e.PaneID] = true
			}
		})
		seenWindows[remoteWindow] = true
		seenTabs[remoteTab] = true
	}

	var dead []*Pane
	for remote, p := range d.remotePanes {
		if !seenPanes[remote] {
			delete(d.remotePanes, remote)
			delete(d.localPanes, p.localID)
			dead = append(dead, p)
		}
	}
	for remote := range d.remoteTabs {
		if !seenTabs[remote] {
			delete(d.remoteTabs, remote)
		}
	}
	for remote := range d.remoteWindows {
		if !seenWindows[remote] {
			delete(d.remoteWindows, remote)
		}
	}
	d.mu.Unlock()

	// RemovePane stops the pane's writer; keep that outside d.mu.
	for _, p := range dead {
		d.log.Info("remote pane vanished, dropping local mirror",
			"remote_pane", p.remoteID, "local_pane", p.localID)
		d.mux.RemovePane(p.localID)
	}
}

// ensureWindowLocked returns the local window for a remote one,
// healing the mapping if the local window no longer exists.
func (d *ClientDomain) ensureWindowLocked(remote codec.WindowID) codec.WindowID {
	if local, ok := d.remoteWindows[remote]; ok {
		if _, alive := d.mux.Window(local); alive {
			return local
		}
		d.log.Warn("local window vanished, recreating", "remote_window", remote)
	}
	if d.primary != nil {
		local := *d.primary
		d.primary = nil
		if _, alive := d.mux.Window(local); alive {
			d.remoteWindows[remote] = local
			return local
		}
	}
	w := d.mux.NewWindow()
	d.remoteWindows[remote] = w.ID()
	return w.ID()
}

func (d *ClientDomain) ensureTabLocked(remote codec.TabID, localWindow codec.WindowID, size *codec.TerminalSize) (codec.TabID, bool) {
	var sz codec.TerminalSize
	if size != nil {
		sz = *size
	}
	if local, ok := d.remoteTabs[remote]; ok {
		if tab, alive := d.mux.Tab(local); alive {
			tab.Resize(sz)
			return local, true
		}
		d.log.Warn("local tab vanished, recreating", "remote_tab", remote)
	}
	tab, err := d.mux.NewTab(localWindow, sz)
	if err != nil {
		// The window was pruned between lookup and use. Skip the
		// tree; the next resync recreates everything.
		d.log.Error("creating local tab", "remote_tab", remote, "err", err)
		return 0, false
	}
	d.remoteTabs[remote] = tab.ID()
	return tab.ID(), true
}

func (d *ClientDomain) ensurePaneLocked(remote codec.PaneID, localTab codec.TabID) *Pane {
	if p, ok := d.remotePanes[remote]; ok {
		if _, alive := d.mux.Pane(p.localID); alive {
			return p
		}
		d.log.Warn("local pane vanished, recreating", "remote_pane", remote)
		delete(d.remotePanes, remote)
		delete(d.localPanes, p.localID)
	}
	p := newPane(d, remote)
	if err := d.mux.AddPane(localTab, p); err != nil {
		d.log.Error("registering local pane", "remote_pane", remote, "err", err)
		p.writer.stop()
		return nil
	}
	d.remotePanes[remote] = p
	d.localPanes[p.localID] = remote
	return p
}

// paneByRemote resolves a server-side pane id.
func (d *ClientDomain) paneByRemote(remote codec.PaneID) *Pane {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remotePanes[remote]
}

// PaneByLocal resolves an app-side pane id to the domain's pane.
func (d *ClientDomain) PaneByLocal(local codec.PaneID) (*Pane, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	remote, ok := d.localPanes[local]
	if !ok {
		return nil, false
	}
	p, ok := d.remotePanes[remote]
	return p, ok
}

// Panes returns every mirrored pane.
func (d *ClientDomain) Panes() []*Pane {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Pane, 0, len(d.remotePanes))
	for _, p := range d.remotePanes {
		out = append(out, p)
	}
	return out
}

// forgetPane drops one dead remote pane from the mirror.
func (d *ClientDomain) forgetPane(remote codec.PaneID) {
	d.mu.Lock()
	p, ok := d.remotePanes[remote]
	if ok {
		delete(d.remotePanes, remote)
		delete(d.localPanes, p.localID)
	}
	d.mu.Unlock()
	if ok {
		d.mux.RemovePane(p.localID)
	}
}

// dispatchLoop serializes everything that reacts to server pushes, so
// handler callbacks never do protocol work on the connection
// goroutine.
func (d *ClientDomain) dispatchLoop() {
	defer close(d.doneCh)
	for {
		select {
		case task := <-d.tasks:
			task()
		case <-d.closedCh:
			return
		}
	}
}

func (d *ClientDomain) enqueue(task func()) {
	select {
	case d.tasks <- task:
	case <-d.closedCh:
	default:
		// Queue full. Dropping is safe: every push is re-fetchable
		// from server state.
		d.log.Warn("dispatch queue full, dropping server push")
	}
}

// Unilateral implements client.Handler. Called from the connection
// goroutine; the real work happens on the dispatch goroutine.
func (d *ClientDomain) Unilateral(decoded *codec.DecodedPdu) {
	d.enqueue(func() { d.processUnilateral(decoded) })
}

// Reattached implements client.Handler: after a reconnect the remote
// state may have changed arbitrarily, so re-verify versions and
// resync.
func (d *ClientDomain) Reattached() {
	d.enqueue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
		defer cancel()
		if _, err := d.client.VerifyVersionCompat(ctx); err != nil {
			d.log.Error("version check after reconnect failed", "err", err)
			return
		}
		if err := d.Resync(ctx); err != nil {
			d.log.Error("resync after reconnect failed", "err", err)
		}
	})
}

// Detached implements client.Handler.
func (d *ClientDomain) Detached(err error) {
	d.detachMu.Lock()
	if d.detachErr == nil {
		d.detachErr = err
	}
	d.detachMu.Unlock()
	d.detachOnce.Do(func() { close(d.detachedCh) })
}

// Status implements client.Handler.
func (d *ClientDomain) Status(msg string) {
	if d.status != nil {
		d.status(msg)
		return
	}
	d.log.Info(msg)
}

func (d *ClientDomain) processUnilateral(decoded *codec.DecodedPdu) {
	remote, _ := codec.PduPaneID(decoded.Pdu)
	p := d.paneByRemote(remote)
	if p == nil {
		// A push for a pane spawned since the last sync. Fetch the
		// topology and retry the lookup.
		ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
		err := d.Resync(ctx)
		cancel()
		if err != nil {
			d.log.Warn("resync for unknown pane failed", "remote_pane", remote, "err", err)
			return
		}
		if p = d.paneByRemote(remote); p == nil {
			d.log.Warn("dropping push for unknown pane",
				"remote_pane", remote, "pdu", codec.PduName(decoded.Pdu))
			return
		}
	}

	switch pdu := decoded.Pdu.(type) {
	case *codec.GetPaneRenderChangesResponse:
		p.applyRenderChanges(pdu)
	case *codec.SetClipboard:
		if d.clipboard == nil {
			d.log.Debug("no clipboard handler, dropping push", "remote_pane", pdu.PaneID)
			return
		}
		d.clipboard(p.localID, pdu.Selection, pdu.Clipboard)
	default:
		d.log.Warn("unhandled unilateral pdu", "pdu", codec.PduName(decoded.Pdu))
	}
}
