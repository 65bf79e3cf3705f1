package daemon

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/qubesos/sni-bridge/internal/busnames"
	"github.com/qubesos/sni-bridge/internal/display"
	"github.com/qubesos/sni-bridge/internal/pixmap"
	"github.com/qubesos/sni-bridge/internal/wire"
)

// ErrIllegalIconType is a protocol violation (spec.md §7): Title/Status
// are property-mask sentinels, not legal types for an Icon/RemoveIcon
// event - the source panics on this (Open Question 3, spec.md §9 item 3).
var ErrIllegalIconType = errors.New("daemon: guest sent Icon event with Title or Status type")

// apply mutates n's cached state per the event and emits the matching
// SNI signal, per spec.md §4.6's mutation table.
//
// Grounded on sni-daemon.rs's big match over &item.event: the
// mutation-to-signal table is transcribed field for field, including
// the fatal branch for IconType::Title|Status arriving as a pixmap.
func (n *NotifierIcon) apply(ev wire.ClientEvent, sanitize display.Sanitizer) error {
	switch ev.Tag {
	case wire.ClientEventTitle:
		n.mu.Lock()
		n.title = sanitizedText(ev.Text, sanitize)
		n.mu.Unlock()
		n.emit(busnames.NewTitleFn)

	case wire.ClientEventStatus:
		n.mu.Lock()
		n.status = sanitizedText(ev.Text, sanitize)
		emitted := "normal"
		if n.status != nil {
			emitted = *n.status
		}
		n.mu.Unlock()
		n.emit(busnames.NewStatusFn, emitted)

	case wire.ClientEventIcon:
		return n.applyIcon(ev.IconType, ev.Icons)

	case wire.ClientEventRemoveIcon:
		return n.applyRemoveIcon(ev.IconType)

	case wire.ClientEventTooltip:
		n.mu.Lock()
		n.tooltip = ev.Tooltip
		n.mu.Unlock()
		n.emit(busnames.NewToolTipFn)

	case wire.ClientEventRemoveTooltip:
		n.mu.Lock()
		n.tooltip = nil
		n.mu.Unlock()
		n.emit(busnames.NewToolTipFn)

	default:
		slog.Warn("daemon: unrecognized client event tag, ignoring", "id", n.id, "tag", ev.Tag)
	}
	return nil
}

func (n *NotifierIcon) applyIcon(typ wire.IconType, icons []wire.IconData) error {
	if typ == wire.IconTypeTitle || typ == wire.IconTypeStatus {
		return fmt.Errorf("%w: id=%d", ErrIllegalIconType, n.id)
	}

	for i := range icons {
		pixmap.ApplyTrustBorder(&icons[i])
	}

	slot, signal, ok := n.iconSlot(typ)
	if !ok {
		slog.Warn("daemon: unrecognized icon type, ignoring", "id", n.id, "type", typ)
		return nil
	}

	n.mu.Lock()
	*slot = icons
	n.mu.Unlock()

	n.emit(signal)
	return nil
}

func (n *NotifierIcon) applyRemoveIcon(typ wire.IconType) error {
	if typ == wire.IconTypeTitle || typ == wire.IconTypeStatus {
		return fmt.Errorf("%w: id=%d", ErrIllegalIconType, n.id)
	}

	slot, signal, ok := n.iconSlot(typ)
	if !ok {
		slog.Warn("daemon: unrecognized icon type, ignoring", "id", n.id, "type", typ)
		return nil
	}

	n.mu.Lock()
	*slot = nil
	n.mu.Unlock()

	n.emit(signal)
	return nil
}

// iconSlot returns the cached-pixmap field and its change signal for
// one of the three pixmap-bearing icon types.
func (n *NotifierIcon) iconSlot(typ wire.IconType) (slot *[]wire.IconData, signal string, ok bool) {
	switch typ {
	case wire.IconTypeNormal:
		return &n.icon, busnames.NewIconFn, true
	case wire.IconTypeAttention:
		return &n.attentionIcon, busnames.NewAttentionIconFn, true
	case wire.IconTypeOverlay:
		return &n.overlayIcon, busnames.NewOverlayIconFn, true
	default:
		return nil, "", false
	}
}

func sanitizedText(text *string, sanitize display.Sanitizer) *string {
	if text == nil {
		return nil
	}
	s := sanitize(*text)
	return &s
}

func (n *NotifierIcon) emit(signal string, args ...any) {
	if err := n.conn.Emit(busnames.ItemPath, busnames.ItemIface+"."+signal, args...); err != nil {
		slog.Warn("daemon: emitting signal failed", "id", n.id, "signal", signal, "error", err)
	}
}
