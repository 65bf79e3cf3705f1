// Package busnames centralizes the D-Bus names, paths, and match-rule
// builders shared by the agent and the daemon: the StatusNotifierItem,
// StatusNotifierWatcher, DBusMenu, and bus-daemon interfaces.
//
// Grounded on original_source/src/names.rs, which centralizes these the
// same way rather than inlining the equivalent literals at each call
// site, so these names get their own package here too.
package busnames

import "github.com/godbus/dbus/v5"

const (
	// StatusNotifierWatcher
	WatcherBusName  = "org.kde.StatusNotifierWatcher"
	WatcherIface    = "org.kde.StatusNotifierWatcher"
	WatcherPath     = dbus.ObjectPath("/StatusNotifierWatcher")
	RegisterItemFn  = "RegisterStatusNotifierItem"
	RegisterHostFn  = "RegisterStatusNotifierHost"
	ItemRegistered  = WatcherIface + ".StatusNotifierItemRegistered"
	ItemUnregisterd = WatcherIface + ".StatusNotifierItemUnregistered"
	HostRegistered  = WatcherIface + ".StatusNotifierHostRegistered"

	// StatusNotifierItem
	ItemIface = "org.kde.StatusNotifierItem"
	ItemPath  = dbus.ObjectPath("/StatusNotifierItem")

	NewTitleFn         = "NewTitle"
	NewStatusFn        = "NewStatus"
	NewIconFn          = "NewIcon"
	NewAttentionIconFn = "NewAttentionIcon"
	NewOverlayIconFn   = "NewOverlayIcon"
	NewToolTipFn       = "NewToolTip"

	NewTitleSignal         = ItemIface + "." + NewTitleFn
	NewStatusSignal        = ItemIface + "." + NewStatusFn
	NewIconSignal          = ItemIface + "." + NewIconFn
	NewAttentionIconSignal = ItemIface + "." + NewAttentionIconFn
	NewOverlayIconSignal   = ItemIface + "." + NewOverlayIconFn
	NewToolTipSignal       = ItemIface + "." + NewToolTipFn

	// DBusMenu
	MenuIface = "com.canonical.dbusmenu"
	MenuPath  = dbus.ObjectPath("/StatusNotifierItem/Menu")

	// org.freedesktop.DBus
	DBusIface           = "org.freedesktop.DBus"
	DBusPath            = dbus.ObjectPath("/org/freedesktop/DBus")
	DBusBusName         = "org.freedesktop.DBus"
	NameOwnerChangedFn  = "NameOwnerChanged"
	NameOwnerChangedSig = DBusIface + "." + NameOwnerChangedFn

	PropertiesIface         = "org.freedesktop.DBus.Properties"
	PropertiesChangedSignal = PropertiesIface + ".PropertiesChanged"

	// Standard D-Bus error names used on the bus.
	ErrServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	ErrNoSuchProperty = "org.freedesktop.DBus.Error.NoSuchProperty"
	ErrNotSupported   = "org.freedesktop.DBus.Error.NotSupported"

	// ReservedAppIDPrefix marks items the agent itself would re-expose;
	// discovery silently aborts on services whose Id starts with this,
	// preventing reflective loops when both halves share a session bus.
	ReservedAppIDPrefix = "org.qubes_os.vm."

	// AppIDPrefix namespaces guest-supplied app ids on the host bus.
	AppIDPrefix = "org.qubes_os.vm.app_id."

	// HashedAppIDPrefix replaces AppIDPrefix when the namespaced id is
	// not a valid D-Bus interface name fragment.
	HashedAppIDPrefix = "org.qubes_os.vm.hashed_app_id."
)

// NameOwnerChangedMatchRule returns the match options for subscribing to
// org.freedesktop.DBus.NameOwnerChanged restricted to a specific watched
// name (arg0), matching how a StatusNotifierWatcher implementation
// subscribes per-item and per-host.
func NameOwnerChangedMatchRule(watchedName string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface(DBusIface),
		dbus.WithMatchSender(DBusBusName),
		dbus.WithMatchMember(NameOwnerChangedFn),
		dbus.WithMatchArg(0, watchedName),
	}
}

// ItemSignalMatchRule returns the match options for subscribing to one
// of the six SNI change signals from a specific sender, match-all on
// path (per spec.md §6: "without sender/path filters" refers to the
// daemon's outward-facing signals; the agent filters by sender since it
// tracks many concurrently observed items).
func ItemSignalMatchRule(member, sender string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface(ItemIface),
		dbus.WithMatchMember(member),
		dbus.WithMatchSender(sender),
	}
}

// WatcherSignalMatchRule returns the match options for subscribing to a
// StatusNotifierWatcher signal (StatusNotifierItemRegistered/Unregistered).
func WatcherSignalMatchRule(member string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface(WatcherIface),
		dbus.WithMatchMember(member),
	}
}
