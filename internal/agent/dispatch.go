package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/qubesos/sni-bridge/internal/wire"
)

// ErrUnknownIcon is returned by Dispatch when a ServerEvent names an
// IconId the agent has no bookkeeping for (the item has since vanished,
// or the daemon sent a stale id). It is logged and dropped, not fatal.
var ErrUnknownIcon = errors.New("agent: server event refers to an unknown icon id")

// Reader loops over the inbound stream reading IconServerEvent frames
// and dispatching each to the originating item, until r returns an
// error (EOF on pipe close, which ends the agent's reverse direction).
//
// Grounded on original_source/src/bin/sni-agent.rs's reader(): a single
// blocking read loop translating ServerEvent payloads back into method
// calls on the guest SNI item.
func (e *Engine) Reader(ctx context.Context, r io.Reader) error {
	for {
		evt, err := wire.ReadServerEvent(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("agent: reader: %w", err)
		}
		if err := e.Dispatch(ctx, evt); err != nil && !errors.Is(err, ErrUnknownIcon) {
			slog.Warn("dispatch failed", "id", evt.ID, "error", err)
		} else if errors.Is(err, ErrUnknownIcon) {
			slog.Debug("dispatch: unknown icon id, dropping", "id", evt.ID)
		}
	}
}

// Dispatch invokes the SNI method corresponding to one IconServerEvent
// on the item it names.
func (e *Engine) Dispatch(ctx context.Context, evt wire.IconServerEvent) error {
	busName, path, ok := e.lookupReverse(evt.ID)
	if !ok {
		return ErrUnknownIcon
	}

	proxy := newItemProxy(e.conn, busName, path)
	ev := evt.Event

	switch ev.Tag {
	case wire.ServerEventActivate:
		return proxy.Activate(ctx, ev.X, ev.Y)
	case wire.ServerEventSecondaryActivate:
		return proxy.SecondaryActivate(ctx, ev.X, ev.Y)
	case wire.ServerEventContextMenu:
		return proxy.ContextMenu(ctx, ev.X, ev.Y)
	case wire.ServerEventScroll:
		return proxy.Scroll(ctx, ev.Delta, ev.Orientation)
	default:
		return fmt.Errorf("agent: unrecognized server event tag %d", ev.Tag)
	}
}
