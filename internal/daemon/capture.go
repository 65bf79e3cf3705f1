package daemon

import (
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/qubesos/sni-bridge/internal/busnames"
	"github.com/qubesos/sni-bridge/internal/wire"
)

// pixmapTuple is the SNI wire shape for one pixmap: (width, height,
// ARGB32 bytes), mirrored from internal/agent's identical tuple (kept
// as a separate, unexported type here since the two packages read and
// write opposite ends of the same wire shape and have no reason to
// share a type across the agent/daemon boundary).
type pixmapTuple struct {
	Width, Height int32
	Data          []byte
}

// toolTip is the SNI ToolTip property shape: (icon-name, pixmaps,
// title, description). spec.md §4.7 fixes icon-name to "" since this
// repo never forwards guest icon *names*, only pixmaps.
type toolTip struct {
	IconName    string
	IconPixmap  []pixmapTuple
	Title       string
	Description string
}

// Activate, SecondaryActivate, ContextMenu, and Scroll are the daemon's
// event-capture surface (spec.md §4.7): every activation method on the
// exported synthetic item serializes the matching ServerEvent onto the
// outbound stream instead of acting on it locally.
//
// Grounded on original_source/src/bin/client.rs's trait method list for
// the exact signatures, and sni-daemon.rs's capture side for "write one
// frame, never fail the D-Bus call because of a write error" (errors
// are logged, not returned to the caller - a guest failing to receive
// an activation is not the host panel's problem).
func (n *NotifierIcon) Activate(x, y int32) *dbus.Error {
	n.writeServerEvent(wire.NewActivateEvent(x, y))
	return nil
}

func (n *NotifierIcon) SecondaryActivate(x, y int32) *dbus.Error {
	n.writeServerEvent(wire.NewSecondaryActivateEvent(x, y))
	return nil
}

func (n *NotifierIcon) ContextMenu(x, y int32) *dbus.Error {
	n.writeServerEvent(wire.NewContextMenuEvent(x, y))
	return nil
}

func (n *NotifierIcon) Scroll(delta int32, orientation string) *dbus.Error {
	n.writeServerEvent(wire.NewScrollEvent(delta, orientation))
	return nil
}

func (n *NotifierIcon) writeServerEvent(ev wire.ServerEvent) {
	if err := wire.WriteServerEvent(n.out, n.id, ev); err != nil {
		slog.Error("daemon: write server event", "id", n.id, "error", err)
	}
}

// Get implements org.freedesktop.DBus.Properties.Get for the
// synthetic item, per spec.md §4.7's exact accessor table. Written by
// hand rather than via godbus/dbus/v5/prop because several properties
// need to surface NoSuchProperty dynamically depending on whether the
// guest has ever set the underlying value - prop.Map's static value
// store has no hook for that (see the comment on export() in
// republish.go).
func (n *NotifierIcon) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	if iface != busnames.ItemIface {
		return dbus.Variant{}, dbus.NewErrorf(busnames.ErrNoSuchProperty, "no interface %s", iface)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	switch name {
	case "Category":
		return dbus.MakeVariant(n.category), nil
	case "Id":
		return dbus.MakeVariant(n.appID), nil
	case "Title":
		return n.optionalStringProp(n.title, name)
	case "Status":
		return n.optionalStringProp(n.status, name)
	case "WindowId":
		return dbus.MakeVariant(uint32(0)), nil
	case "IconName", "OverlayIconName", "AttentionIconName", "AttentionMovieName", "IconThemePath":
		// Always absent per spec.md §4.7: this repo only ever forwards
		// pixmaps, never icon-theme names.
		return dbus.Variant{}, noSuchProperty(name)
	case "IconPixmap":
		return dbus.MakeVariant(tuplesFromSlice(n.icon)), nil
	case "OverlayIconPixmap":
		return dbus.MakeVariant(tuplesFromSlice(n.overlayIcon)), nil
	case "AttentionIconPixmap":
		return dbus.MakeVariant(tuplesFromSlice(n.attentionIcon)), nil
	case "Menu":
		if !n.isMenu {
			return dbus.Variant{}, noSuchProperty(name)
		}
		return dbus.MakeVariant(busnames.MenuPath), nil
	case "ItemIsMenu":
		return dbus.MakeVariant(n.isMenu), nil
	case "ToolTip":
		if n.tooltip == nil {
			return dbus.Variant{}, noSuchProperty(name)
		}
		return dbus.MakeVariant(n.toolTipValue()), nil
	default:
		return dbus.Variant{}, noSuchProperty(name)
	}
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll, skipping
// any property that would individually return NoSuchProperty.
func (n *NotifierIcon) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != busnames.ItemIface {
		return nil, dbus.NewErrorf(busnames.ErrNoSuchProperty, "no interface %s", iface)
	}

	names := []string{
		"Category", "Id", "Title", "Status", "WindowId",
		"IconName", "OverlayIconName", "AttentionIconName", "AttentionMovieName", "IconThemePath",
		"IconPixmap", "OverlayIconPixmap", "AttentionIconPixmap",
		"Menu", "ItemIsMenu", "ToolTip",
	}
	out := make(map[string]dbus.Variant, len(names))
	for _, name := range names {
		if v, derr := n.Get(iface, name); derr == nil {
			out[name] = v
		}
	}
	return out, nil
}

// Set implements org.freedesktop.DBus.Properties.Set. Every property
// this repo exports is read-only (mutation only happens via ClientEvent
// frames from the stream), so Set always fails.
func (n *NotifierIcon) Set(iface, name string, value dbus.Variant) *dbus.Error {
	return dbus.NewErrorf(busnames.ErrNotSupported, "property %s.%s is read-only", iface, name)
}

func noSuchProperty(name string) *dbus.Error {
	return dbus.NewErrorf(busnames.ErrNoSuchProperty, "no property %s", name)
}

func (n *NotifierIcon) optionalStringProp(s *string, name string) (dbus.Variant, *dbus.Error) {
	if s == nil {
		return dbus.Variant{}, noSuchProperty(name)
	}
	return dbus.MakeVariant(*s), nil
}

// toolTipValue must be called with n.mu held.
func (n *NotifierIcon) toolTipValue() toolTip {
	return toolTip{
		IconName:    "",
		IconPixmap:  tuplesFromSlice(n.tooltip.IconData),
		Title:       n.tooltip.Title,
		Description: n.tooltip.Description,
	}
}

// tuplesFromSlice converts a cached pixmap slot (or the tooltip's
// candidate icons) into its SNI wire tuple list, empty rather than
// erroring when unset, per spec.md §4.7.
func tuplesFromSlice(data []wire.IconData) []pixmapTuple {
	out := make([]pixmapTuple, 0, len(data))
	for _, d := range data {
		out = append(out, toTuple(d))
	}
	return out
}

func toTuple(d wire.IconData) pixmapTuple {
	return pixmapTuple{Width: int32(d.Width), Height: int32(d.Height), Data: d.Data}
}
