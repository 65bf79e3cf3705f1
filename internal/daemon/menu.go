package daemon

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/qubesos/sni-bridge/internal/busnames"
)

// menuVersion is the com.canonical.dbusmenu protocol version this
// scaffold advertises; shelepuginivan/systray's menu.go/layout.go
// client-side types read this same property from real items.
const menuVersion uint32 = 3

// menuObject implements com.canonical.dbusmenu for one icon, exported
// at busnames.MenuPath on the icon's own connection when Create
// reported has_menu. DBusMenu is largely out of the steady-state
// contract here: GetLayout/Event/AboutToShow are scaffolded to the
// client-side wire shapes in menu.go/layout.go but respond with
// NotSupported rather than forwarding to the guest, since no
// ClientEvent carries menu content.
type menuObject struct {
	icon *NotifierIcon
}

func (n *NotifierIcon) exportMenu() error {
	m := &menuObject{icon: n}

	if err := n.conn.Export(m, busnames.MenuPath, busnames.MenuIface); err != nil {
		return fmt.Errorf("daemon: export %s: %w", busnames.MenuIface, err)
	}
	if err := n.conn.Export(m, busnames.MenuPath, busnames.PropertiesIface); err != nil {
		return fmt.Errorf("daemon: export %s: %w", busnames.PropertiesIface, err)
	}

	node := &introspect.Node{
		Name: string(busnames.MenuPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			menuIntrospection,
		},
	}
	if err := n.conn.Export(introspect.NewIntrospectable(node), busnames.MenuPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("daemon: export menu introspection: %w", err)
	}
	return nil
}

// GetLayout is stubbed per spec.md §9 Open Question 2: menu rendering
// is out of the steady-state contract, so this always fails rather
// than fabricating an empty layout a caller might mistake for "menu
// has no items".
func (m *menuObject) GetLayout(parentID int32, recursionDepth int32, propertyNames []string) (uint32, []any, *dbus.Error) {
	return 0, nil, dbus.NewErrorf(busnames.ErrNotSupported, "menu layout is not implemented")
}

// Event is stubbed; see GetLayout.
func (m *menuObject) Event(id int32, eventID string, data dbus.Variant, timestamp uint32) *dbus.Error {
	return dbus.NewErrorf(busnames.ErrNotSupported, "menu events are not implemented")
}

// AboutToShow is stubbed; see GetLayout.
func (m *menuObject) AboutToShow(id int32) (bool, *dbus.Error) {
	return false, dbus.NewErrorf(busnames.ErrNotSupported, "menu is not implemented")
}

func (m *menuObject) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	if iface != busnames.MenuIface {
		return dbus.Variant{}, noSuchProperty(name)
	}
	switch name {
	case "Version":
		return dbus.MakeVariant(menuVersion), nil
	case "Status":
		return dbus.MakeVariant("normal"), nil
	default:
		return dbus.Variant{}, noSuchProperty(name)
	}
}

func (m *menuObject) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != busnames.MenuIface {
		return nil, noSuchProperty(iface)
	}
	return map[string]dbus.Variant{
		"Version": dbus.MakeVariant(menuVersion),
		"Status":  dbus.MakeVariant("normal"),
	}, nil
}

func (m *menuObject) Set(iface, name string, value dbus.Variant) *dbus.Error {
	return dbus.NewErrorf(busnames.ErrNotSupported, "property %s.%s is read-only", iface, name)
}

var menuIntrospection = introspect.Interface{
	Name: busnames.MenuIface,
	Methods: []introspect.Method{
		{Name: "GetLayout", Args: []introspect.Arg{
			{Name: "parentId", Type: "i", Direction: "in"},
			{Name: "recursionDepth", Type: "i", Direction: "in"},
			{Name: "propertyNames", Type: "as", Direction: "in"},
			{Name: "revision", Type: "u", Direction: "out"},
			{Name: "layout", Type: "(ia{sv}av)", Direction: "out"},
		}},
		{Name: "Event", Args: []introspect.Arg{
			{Name: "id", Type: "i", Direction: "in"},
			{Name: "eventId", Type: "s", Direction: "in"},
			{Name: "data", Type: "v", Direction: "in"},
			{Name: "timestamp", Type: "u", Direction: "in"},
		}},
		{Name: "AboutToShow", Args: []introspect.Arg{
			{Name: "id", Type: "i", Direction: "in"},
			{Name: "needUpdate", Type: "b", Direction: "out"},
		}},
	},
}
