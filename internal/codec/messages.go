package codec

// Identifier types for the three levels of mux topology, plus the
// domain a pane was spawned into. Remote and local sides both use
// these types; translation between the two id spaces happens above
// the codec.
type (
	WindowID uint64
	TabID    uint64
	PaneID   uint64
	DomainID uint64
)

// StableRowIndex addresses a row in scrollback-stable coordinates: it
// does not shift as new output scrolls the viewport.
type StableRowIndex int64

// RowRange is half open: Start is included, End is not.
type RowRange struct {
	Start StableRowIndex `cbor:"start"`
	End   StableRowIndex `cbor:"end"`
}

// TerminalSize is the cell and pixel geometry of a pane or tab.
type TerminalSize struct {
	Rows        uint32 `cbor:"rows"`
	Cols        uint32 `cbor:"cols"`
	PixelWidth  uint32 `cbor:"pixel_width"`
	PixelHeight uint32 `cbor:"pixel_height"`
}

// StableCursorPosition locates the cursor in stable row coordinates.
type StableCursorPosition struct {
	X       uint32         `cbor:"x"`
	Y       StableRowIndex `cbor:"y"`
	Visible bool           `cbor:"visible"`
}

// RenderableDimensions describes the visible window into a pane's
// scrollback.
type RenderableDimensions struct {
	Cols           uint32         `cbor:"cols"`
	ViewportRows   uint32         `cbor:"viewport_rows"`
	ScrollbackRows uint32         `cbor:"scrollback_rows"`
	PhysicalTop    StableRowIndex `cbor:"physical_top"`
	ScrollbackTop  StableRowIndex `cbor:"scrollback_top"`
}

// PaneLine is one row of pane content in stable coordinates. Cell
// attributes are the terminal model's business; the protocol moves
// rows as text.
type PaneLine struct {
	Row  StableRowIndex `cbor:"row"`
	Text string         `cbor:"text"`
}

// CommandSpec describes the program a spawned pane should run. A nil
// CommandSpec means the server's default program.
type CommandSpec struct {
	Argv []string          `cbor:"argv"`
	Env  map[string]string `cbor:"env,omitempty"`
	Cwd  string            `cbor:"cwd,omitempty"`
}

// ClipboardSelection names which selection buffer a clipboard update
// targets.
type ClipboardSelection uint8

const (
	SelectionClipboard ClipboardSelection = iota
	SelectionPrimary
)

// PatternKind selects how a scrollback search pattern matches.
type PatternKind uint8

const (
	PatternCaseSensitive PatternKind = iota
	PatternCaseInsensitive
	PatternRegex
)

type Pattern struct {
	Kind PatternKind `cbor:"kind"`
	Text string      `cbor:"text"`
}

// SearchResult is one scrollback match, inclusive of both endpoints.
type SearchResult struct {
	StartX uint32         `cbor:"start_x"`
	StartY StableRowIndex `cbor:"start_y"`
	EndX   uint32         `cbor:"end_x"`
	EndY   StableRowIndex `cbor:"end_y"`
}

// Modifier bits for key and mouse events.
const (
	ModShift uint16 = 1 << iota
	ModAlt
	ModCtrl
	ModSuper
)

// KeyEvent is a key press. Code is the key's name ("a", "Enter",
// "UpArrow", ...); interpreting it is the terminal model's concern.
type KeyEvent struct {
	Code      string `cbor:"code"`
	Modifiers uint16 `cbor:"modifiers,omitempty"`
}

type MouseEventKind uint8

const (
	MouseMove MouseEventKind = iota
	MousePress
	MouseRelease
)

type MouseButton uint8

const (
	MouseNone MouseButton = iota
	MouseLeft
	MouseMiddle
	MouseRight
	MouseWheelUp
	MouseWheelDown
)

type MouseEvent struct {
	Kind      MouseEventKind `cbor:"kind"`
	X         uint32         `cbor:"x"`
	Y         StableRowIndex `cbor:"y"`
	Button    MouseButton    `cbor:"button"`
	Modifiers uint16         `cbor:"modifiers,omitempty"`
}

// SplitDirection is the axis a split divides.
type SplitDirection uint8

const (
	SplitHorizontal SplitDirection = iota
	SplitVertical
)

// PaneNode is the binary split tree describing one tab. Exactly one
// of Split or Leaf is set; both nil is an empty tab.
type PaneNode struct {
	Split *SplitNode `cbor:"split,omitempty"`
	Leaf  *PaneEntry `cbor:"leaf,omitempty"`
}

type SplitNode struct {
	Direction SplitDirection `cbor:"direction"`
	Size      TerminalSize   `cbor:"size"`
	Left      *PaneNode      `cbor:"left"`
	Right     *PaneNode      `cbor:"right"`
}

// PaneEntry is the leaf payload: everything a client needs to mirror
// one remote pane.
type PaneEntry struct {
	WindowID     WindowID             `cbor:"window_id"`
	TabID        TabID                `cbor:"tab_id"`
	PaneID       PaneID               `cbor:"pane_id"`
	Title        string               `cbor:"title"`
	Size         TerminalSize         `cbor:"size"`
	WorkingDir   string               `cbor:"working_dir,omitempty"`
	IsActivePane bool                 `cbor:"is_active_pane"`
	IsZoomedPane bool                 `cbor:"is_zoomed_pane"`
	Workspace    string               `cbor:"workspace"`
	CursorPos    StableCursorPosition `cbor:"cursor_pos"`
	PhysicalTop  StableRowIndex       `cbor:"physical_top"`
}

// RootSize returns the size of the tab this node roots, nil for an
// empty node.
func (n *PaneNode) RootSize() *TerminalSize {
	switch {
	case n == nil:
		return nil
	case n.Split != nil:
		s := n.Split.Size
		return &s
	case n.Leaf != nil:
		s := n.Leaf.Size
		return &s
	}
	return nil
}

// WindowAndTabIDs returns the window and tab ids of the first pane
// under n. All panes in one tree share them.
func (n *PaneNode) WindowAndTabIDs() (WindowID, TabID, bool) {
	var (
		window WindowID
		tab    TabID
		found  bool
	)
	n.Walk(func(e *PaneEntry) {
		if !found {
			window, tab, found = e.WindowID, e.TabID, true
		}
	})
	return window, tab, found
}

// Walk visits every pane entry in the tree, left side before right.
func (n *PaneNode) Walk(f func(*PaneEntry)) {
	if n == nil {
		return
	}
	if n.Split != nil {
		n.Split.Left.Walk(f)
		n.Split.Right.Walk(f)
	}
	if n.Leaf != nil {
		f(n.Leaf)
	}
}

// --- PDUs ---

// ErrorResponse resolves a call with a failure instead of its usual
// response variant.
type ErrorResponse struct {
	Reason string `cbor:"reason"`
}

type Ping struct{}
type Pong struct{}

// ListPanes asks for the full topology of the remote mux: one
// PaneNode tree per tab.
type ListPanes struct{}

type ListPanesResponse struct {
	Tabs []PaneNode `cbor:"tabs"`
}

// Spawn creates a new tab (and a window for it, unless WindowID names
// an existing one) running the given command.
type Spawn struct {
	DomainID   DomainID     `cbor:"domain_id"`
	WindowID   *WindowID    `cbor:"window_id,omitempty"`
	Command    *CommandSpec `cbor:"command,omitempty"`
	CommandDir string       `cbor:"command_dir,omitempty"`
	Size       TerminalSize `cbor:"size"`
}

// SpawnResponse answers both Spawn and SplitPane.
type SpawnResponse struct {
	PaneID   PaneID       `cbor:"pane_id"`
	TabID    TabID        `cbor:"tab_id"`
	WindowID WindowID     `cbor:"window_id"`
	Size     TerminalSize `cbor:"size"`
}

// WriteToPane feeds raw bytes to the pane's input, as if typed.
type WriteToPane struct {
	PaneID PaneID `cbor:"pane_id"`
	Data   []byte `cbor:"data"`
}

// UnitResponse is the empty success answer for operations that return
// nothing.
type UnitResponse struct{}

type SendKeyDown struct {
	PaneID      PaneID      `cbor:"pane_id"`
	Event       KeyEvent    `cbor:"event"`
	InputSerial InputSerial `cbor:"input_serial,omitempty"`
}

type SendMouseEvent struct {
	PaneID PaneID     `cbor:"pane_id"`
	Event  MouseEvent `cbor:"event"`
}

// SendPaste differs from WriteToPane in that the server may wrap the
// text in bracketed paste markers.
type SendPaste struct {
	PaneID PaneID `cbor:"pane_id"`
	Data   string `cbor:"data"`
}

type Resize struct {
	ContainingTabID TabID        `cbor:"containing_tab_id"`
	PaneID          PaneID       `cbor:"pane_id"`
	Size            TerminalSize `cbor:"size"`
}

// SetClipboard is unilateral: a remote application set the clipboard
// and the client should mirror it. A nil Clipboard clears it.
type SetClipboard struct {
	PaneID    PaneID             `cbor:"pane_id"`
	Clipboard *string            `cbor:"clipboard,omitempty"`
	Selection ClipboardSelection `cbor:"selection"`
}

// GetLines fetches row content for the given stable ranges.
type GetLines struct {
	PaneID PaneID     `cbor:"pane_id"`
	Lines  []RowRange `cbor:"lines"`
}

type GetLinesResponse struct {
	PaneID PaneID     `cbor:"pane_id"`
	Lines  []PaneLine `cbor:"lines"`
}

// GetPaneRenderChanges asks the server to push a fresh render delta
// for the pane. The delta itself arrives unilaterally as a
// GetPaneRenderChangesResponse; the direct reply is a
// LivenessResponse.
type GetPaneRenderChanges struct {
	PaneID PaneID `cbor:"pane_id"`
}

// GetPaneRenderChangesResponse is the server-pushed render delta.
// DirtyLines name rows whose content changed; BonusLines carry row
// content the server chose to push along so the client may not need
// a follow-up GetLines.
type GetPaneRenderChangesResponse struct {
	PaneID         PaneID               `cbor:"pane_id"`
	MouseGrabbed   bool                 `cbor:"mouse_grabbed"`
	CursorPosition StableCursorPosition `cbor:"cursor_position"`
	Dimensions     RenderableDimensions `cbor:"dimensions"`
	DirtyLines     []RowRange           `cbor:"dirty_lines"`
	Title          string               `cbor:"title"`
	WorkingDir     string               `cbor:"working_dir,omitempty"`
	BonusLines     []PaneLine           `cbor:"bonus_lines,omitempty"`
	InputSerial    InputSerial          `cbor:"input_serial,omitempty"`
	SeqNo          uint64               `cbor:"seqno"`
}

type GetCodecVersion struct{}

type GetCodecVersionResponse struct {
	CodecVers      uint64 `cbor:"codec_vers"`
	VersionString  string `cbor:"version_string"`
	ExecutablePath string `cbor:"executable_path"`
	ConfigFilePath string `cbor:"config_file_path"`
}

type GetTlsCreds struct{}

// GetTlsCredsResponse carries a CA certificate and a client
// certificate (with its private key) in PEM form. It travels over the
// ssh bootstrap channel, never over an untrusted transport.
type GetTlsCredsResponse struct {
	CACertPEM     string `cbor:"ca_cert_pem"`
	ClientCertPEM string `cbor:"client_cert_pem"`
}

// LivenessResponse reports whether a pane still exists. IsAlive false
// means the pane is gone and the client should forget it.
type LivenessResponse struct {
	PaneID  PaneID `cbor:"pane_id"`
	IsAlive bool   `cbor:"is_alive"`
}

type SearchScrollbackRequest struct {
	PaneID  PaneID  `cbor:"pane_id"`
	Pattern Pattern `cbor:"pattern"`
}

type SearchScrollbackResponse struct {
	Results []SearchResult `cbor:"results"`
}

type SetPaneZoomed struct {
	ContainingTabID TabID  `cbor:"containing_tab_id"`
	PaneID          PaneID `cbor:"pane_id"`
	Zoomed          bool   `cbor:"zoomed"`
}

// SplitPane divides an existing pane, running a new command in the
// freshly created half. Answered by SpawnResponse.
type SplitPane struct {
	PaneID     PaneID         `cbor:"pane_id"`
	Direction  SplitDirection `cbor:"direction"`
	Command    *CommandSpec   `cbor:"command,omitempty"`
	CommandDir string         `cbor:"command_dir,omitempty"`
}

// Wire idents. Append only: never renumber, never reuse a retired
// ident (see retiredIdents in pdu.go).
func (*ErrorResponse) ident() uint64                { return 0 }
func (*Ping) ident() uint64                         { return 1 }
func (*Pong) ident() uint64                         { return 2 }
func (*ListPanes) ident() uint64                    { return 3 }
func (*ListPanesResponse) ident() uint64            { return 4 }
func (*Spawn) ident() uint64                        { return 7 }
func (*SpawnResponse) ident() uint64                { return 8 }
func (*WriteToPane) ident() uint64                  { return 9 }
func (*UnitResponse) ident() uint64                 { return 10 }
func (*SendKeyDown) ident() uint64                  { return 11 }
func (*SendMouseEvent) ident() uint64               { return 12 }
func (*SendPaste) ident() uint64                    { return 13 }
func (*Resize) ident() uint64                       { return 14 }
func (*SetClipboard) ident() uint64                 { return 20 }
func (*GetLines) ident() uint64                     { return 22 }
func (*GetLinesResponse) ident() uint64             { return 23 }
func (*GetPaneRenderChanges) ident() uint64         { return 24 }
func (*GetPaneRenderChangesResponse) ident() uint64 { return 25 }
func (*GetCodecVersion) ident() uint64              { return 26 }
func (*GetCodecVersionResponse) ident() uint64      { return 27 }
func (*GetTlsCreds) ident() uint64                  { return 28 }
func (*GetTlsCredsResponse) ident() uint64          { return 29 }
func (*LivenessResponse) ident() uint64             { return 30 }
func (*SearchScrollbackRequest) ident() uint64      { return 31 }
func (*SearchScrollbackResponse) ident() uint64     { return 32 }
func (*SetPaneZoomed) ident() uint64                { return 33 }
func (*SplitPane) ident() uint64                    { return 34 }
