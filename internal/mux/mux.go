// Package mux models the local side of the terminal multiplexer:
// windows containing tabs containing panes. Client domains mirror
// remote entities into this registry under locally allocated ids.
package mux

import (
	"fmt"
	"sort"
	"sync"

	"github.com/remux-dev/remux/internal/codec"
)

// Pane is the local face of a terminal pane. The registry does not
// care how a pane is backed; client domains register panes that proxy
// a remote mux.
type Pane interface {
	ID() codec.PaneID
	Title() string
	// Close releases the pane's resources. The registry calls it when
	// the pane is removed.
	Close()
}

// Tab groups panes that render together. The layout tree stays on the
// server; locally a tab is the flat set of its panes.
type Tab struct {
	id codec.TabID

	mu    sync.Mutex
	size  codec.TerminalSize
	panes []codec.PaneID
}

func (t *Tab) ID() codec.TabID { return t.id }

func (t *Tab) Size() codec.TerminalSize {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

func (t *Tab) Resize(size codec.TerminalSize) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.size = size
}

// PaneIDs returns the panes in this tab in registration order.
func (t *Tab) PaneIDs() []codec.PaneID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]codec.PaneID, len(t.panes))
	copy(out, t.panes)
	return out
}

func (t *Tab) addPane(id codec.PaneID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.panes {
		if existing == id {
			return
		}
	}
	t.panes = append(t.panes, id)
}

func (t *Tab) removePane(id codec.PaneID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.panes {
		if existing == id {
			t.panes = append(t.panes[:i], t.panes[i+1:]...)
			return
		}
	}
}

func (t *Tab) empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.panes) == 0
}

// Window groups tabs.
type Window struct {
	id codec.WindowID

	mu   sync.Mutex
	tabs []codec.TabID
}

func (w *Window) ID() codec.WindowID { return w.id }

// TabIDs returns the window's tabs in creation order.
func (w *Window) TabIDs() []codec.TabID {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]codec.TabID, len(w.tabs))
	copy(out, w.tabs)
	return out
}

func (w *Window) addTab(id codec.TabID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tabs = append(w.tabs, id)
}

func (w *Window) removeTab(id codec.TabID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, existing := range w.tabs {
		if existing == id {
			w.tabs = append(w.tabs[:i], w.tabs[i+1:]...)
			return
		}
	}
}

func (w *Window) empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tabs) == 0
}

// Mux is the registry of local windows, tabs and panes. Ids are
// allocated here and never reused within a process.
type Mux struct {
	mu      sync.RWMutex
	windows map[codec.WindowID]*Window
	tabs    map[codec.TabID]*Tab
	panes   map[codec.PaneID]Pane

	nextWindow codec.WindowID
	nextTab    codec.TabID
	nextPane   codec.PaneID
}

func New() *Mux {
	return &Mux{
		windows: make(map[codec.WindowID]*Window),
		tabs:    make(map[codec.TabID]*Tab),
		panes:   make(map[codec.PaneID]Pane),
	}
}

// AllocPaneID reserves a pane id. The caller constructs its pane with
// the id and registers it via AddPane.
func (m *Mux) AllocPaneID() codec.PaneID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPane++
	return m.nextPane
}

// NewWindow creates and registers an empty window.
func (m *Mux) NewWindow() *Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextWindow++
	w := &Window{id: m.nextWindow}
	m.windows[w.id] = w
	return w
}

// NewTab creates a tab of the given size inside an existing window.
func (m *Mux) NewTab(windowID codec.WindowID, size codec.TerminalSize) (*Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[windowID]
	if !ok {
		return nil, fmt.Errorf("no window %d", windowID)
	}
	m.nextTab++
	t := &Tab{id: m.nextTab, size: size}
	m.tabs[t.id] = t
	w.addTab(t.id)
	return t, nil
}

// AddPane registers a pane inside an existing tab. The pane's id must
// come from AllocPaneID.
func (m *Mux) AddPane(tabID codec.TabID, pane Pane) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tabID]
	if !ok {
		return fmt.Errorf("no tab %d", tabID)
	}
	if _, dup := m.panes[pane.ID()]; dup {
		return fmt.Errorf("pane %d already registered", pane.ID())
	}
	m.panes[pane.ID()] = pane
	t.addPane(pane.ID())
	return nil
}

// RemovePane unregisters and closes a pane, pruning its tab and
// window if they end up empty.
func (m *Mux) RemovePane(id codec.PaneID) {
	m.mu.Lock()
	pane, ok := m.panes[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.panes, id)
	for _, t := range m.tabs {
		t.removePane(id)
	}
	m.pruneLocked()
	m.mu.Unlock()

	// Close outside the lock: pane teardown may block.
	pane.Close()
}

func (m *Mux) pruneLocked() {
	for id, t := range m.tabs {
		if t.empty() {
			delete(m.tabs, id)
			for _, w := range m.windows {
				w.removeTab(id)
			}
		}
	}
	for id, w := range m.windows {
		if w.empty() {
			delete(m.windows, id)
		}
	}
}

func (m *Mux) Window(id codec.WindowID) (*Window, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[id]
	return w, ok
}

func (m *Mux) Tab(id codec.TabID) (*Tab, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tabs[id]
	return t, ok
}

func (m *Mux) Pane(id codec.PaneID) (Pane, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.panes[id]
	return p, ok
}

// Windows returns all windows ordered by id.
func (m *Mux) Windows() []*Window {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Window, 0, len(m.windows))
	for _, w := range m.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Panes returns all panes ordered by id.
func (m *Mux) Panes() []Pane {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Pane, 0, len(m.panes))
	for _, p := range m.panes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
