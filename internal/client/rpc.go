package client

import (
	"context"
	"fmt"

	"github.com/remux-dev/remux/internal/codec"
)

// call sends req and waits for its reply, asserting the response
// variant. An ErrorResponse resolves to an error carrying the
// server's reason; an unexpected variant fails only this call, not
// the connection.
func call[Resp codec.Pdu](ctx context.Context, c *Client, req codec.Pdu) (Resp, error) {
	var zero Resp
	decoded, err := c.send(ctx, req)
	if err != nil {
		rpcErrors.WithLabelValues(codec.PduName(req)).Inc()
		return zero, err
	}
	if errResp, ok := decoded.Pdu.(*codec.ErrorResponse); ok {
		rpcErrors.WithLabelValues(codec.PduName(req)).Inc()
		return zero, fmt.Errorf("server error: %s", errResp.Reason)
	}
	resp, ok := decoded.Pdu.(Resp)
	if !ok {
		rpcErrors.WithLabelValues(codec.PduName(req)).Inc()
		return zero, fmt.Errorf("%s reply was %s, expected %T",
			codec.PduName(req), codec.PduName(decoded.Pdu), zero)
	}
	return resp, nil
}

// Ping checks connection liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := call[*codec.Pong](ctx, c, &codec.Ping{})
	return err
}

// ListPanes fetches the full remote topology: one pane tree per tab.
func (c *Client) ListPanes(ctx context.Context) (*codec.ListPanesResponse, error) {
	return call[*codec.ListPanesResponse](ctx, c, &codec.ListPanes{})
}

// Spawn creates a new tab running a command, optionally inside an
// existing remote window.
func (c *Client) Spawn(ctx context.Context, req *codec.Spawn) (*codec.SpawnResponse, error) {
	return call[*codec.SpawnResponse](ctx, c, req)
}

// SplitPane divides an existing pane, running a new command in the
// new half.
func (c *Client) SplitPane(ctx context.Context, req *codec.SplitPane) (*codec.SpawnResponse, error) {
	return call[*codec.SpawnResponse](ctx, c, req)
}

// WriteToPane feeds raw bytes to a pane's input.
func (c *Client) WriteToPane(ctx context.Context, pane codec.PaneID, data []byte) error {
	_, err := call[*codec.UnitResponse](ctx, c, &codec.WriteToPane{PaneID: pane, Data: data})
	return err
}

// SendPaste delivers pasted text; the server may bracket it.
func (c *Client) SendPaste(ctx context.Context, pane codec.PaneID, data string) error {
	_, err := call[*codec.UnitResponse](ctx, c, &codec.SendPaste{PaneID: pane, Data: data})
	return err
}

// SendKeyDown delivers one key press. serial tags the input so render
// deltas can report when its effect became visible.
func (c *Client) SendKeyDown(ctx context.Context, pane codec.PaneID, event codec.KeyEvent, serial codec.InputSerial) error {
	_, err := call[*codec.UnitResponse](ctx, c, &codec.SendKeyDown{
		PaneID:      pane,
		Event:       event,
		InputSerial: serial,
	})
	return err
}

// SendMouseEvent delivers one mouse event.
func (c *Client) SendMouseEvent(ctx context.Context, pane codec.PaneID, event codec.MouseEvent) error {
	_, err := call[*codec.UnitResponse](ctx, c, &codec.SendMouseEvent{PaneID: pane, Event: event})
	return err
}

// Resize changes a pane's size.
func (c *Client) Resize(ctx context.Context, tab codec.TabID, pane codec.PaneID, size codec.TerminalSize) error {
	_, err := call[*codec.UnitResponse](ctx, c, &codec.Resize{
		ContainingTabID: tab,
		PaneID:          pane,
		Size:            size,
	})
	return err
}

// SetPaneZoomed toggles a pane's zoomed state.
func (c *Client) SetPaneZoomed(ctx context.Context, tab codec.TabID, pane codec.PaneID, zoomed bool) error {
	_, err := call[*codec.UnitResponse](ctx, c, &codec.SetPaneZoomed{
		ContainingTabID: tab,
		PaneID:          pane,
		Zoomed:          zoomed,
	})
	return err
}

// GetLines fetches row content for stable ranges of a pane's
// scrollback.
func (c *Client) GetLines(ctx context.Context, pane codec.PaneID, lines []codec.RowRange) (*codec.GetLinesResponse, error) {
	return call[*codec.GetLinesResponse](ctx, c, &codec.GetLines{PaneID: pane, Lines: lines})
}

// GetPaneRenderChanges asks the server to push a fresh render delta.
// The delta arrives unilaterally; the direct reply only says whether
// the pane still exists.
func (c *Client) GetPaneRenderChanges(ctx context.Context, pane codec.PaneID) (*codec.LivenessResponse, error) {
	return call[*codec.LivenessResponse](ctx, c, &codec.GetPaneRenderChanges{PaneID: pane})
}

// SearchScrollback runs a pattern over a pane's scrollback.
func (c *Client) SearchScrollback(ctx context.Context, pane codec.PaneID, pattern codec.Pattern) (*codec.SearchScrollbackResponse, error) {
	return call[*codec.SearchScrollbackResponse](ctx, c, &codec.SearchScrollbackRequest{PaneID: pane, Pattern: pattern})
}

// GetCodecVersion asks what protocol version the server speaks.
func (c *Client) GetCodecVersion(ctx context.Context) (*codec.GetCodecVersionResponse, error) {
	return call[*codec.GetCodecVersionResponse](ctx, c, &codec.GetCodecVersion{})
}

// GetTlsCreds fetches TLS client credentials. Only meaningful over
// an already trusted transport (unix socket or ssh).
func (c *Client) GetTlsCreds(ctx context.Context) (*codec.GetTlsCredsResponse, error) {
	return call[*codec.GetTlsCredsResponse](ctx, c, &codec.GetTlsCreds{})
}
