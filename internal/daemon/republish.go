package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5/introspect"

	"github.com/qubesos/sni-bridge/internal/busnames"
	"github.com/qubesos/sni-bridge/internal/display"
	"github.com/qubesos/sni-bridge/internal/wire"
)

// ErrNonIncreasingID is returned (and is fatal, per spec.md §3/§7) when
// a Create event's id is not strictly greater than the last Create id
// this Manager has processed.
var ErrNonIncreasingID = errors.New("daemon: icon ids must be strictly increasing")

// ConnFactory dials a new, independent session-bus connection. Exposed
// as a field so tests can substitute a fake bus; production code uses
// dbus.ConnectSessionBus.
type ConnFactory func() (BusConn, error)

// Manager is the daemon's republishing engine: it owns the table of
// live NotifierIcons and the dedicated connection each one publishes
// on, and is the single point through which ClientEvent frames are
// applied.
//
// Grounded on sni-daemon.rs's client_server() main loop (id-monotonicity
// check, Create/non-Create dispatch, per-icon connection lifecycle) and
// cpuguy83-calbar's tray.Start() for the Go-idiomatic synthetic-object
// export shape that shelepuginivan/systray's own Item/Host types never
// needed (that package only ever consumes real items).
type Manager struct {
	out         io.Writer
	connFactory ConnFactory
	sanitize    display.Sanitizer

	mu     sync.Mutex
	lastID uint64
	icons  map[uint64]*NotifierIcon
}

// NewManager returns a Manager that writes ServerEvent frames to out
// and dials new per-icon connections with connFactory.
func NewManager(out io.Writer, connFactory ConnFactory) *Manager {
	return &Manager{
		out:         out,
		connFactory: connFactory,
		sanitize:    display.Default,
		icons:       make(map[uint64]*NotifierIcon),
	}
}

// Apply routes one IconClientEvent to its handler: Create allocates a
// new icon, every other tag is routed to the existing one by id.
//
// Per spec.md §3's id-scoping invariant, Apply expects Create to
// precede any other event for an id and Destroy to be the last; errors
// returned here that wrap ErrNonIncreasingID or ErrIllegalIconType are
// protocol violations and fatal for the whole process (spec.md §7),
// everything else is logged and skipped by the caller.
func (m *Manager) Apply(ctx context.Context, evt wire.IconClientEvent) error {
	if evt.Event.Tag == wire.ClientEventCreate {
		return m.create(ctx, evt.ID, evt.Event)
	}
	return m.applyToExisting(evt.ID, evt.Event)
}

func (m *Manager) create(ctx context.Context, id uint64, ev wire.ClientEvent) error {
	m.mu.Lock()
	if id <= m.lastID {
		m.mu.Unlock()
		return fmt.Errorf("%w: got %d after %d", ErrNonIncreasingID, id, m.lastID)
	}
	if ev.Category == "" {
		m.mu.Unlock()
		slog.Warn("daemon: Create with empty category, skipping icon", "id", id)
		return nil
	}
	m.lastID = id
	m.mu.Unlock()

	appID := SanitizeAppID(ev.AppID)

	conn, err := m.connFactory()
	if err != nil {
		slog.Warn("daemon: allocating connection for icon failed, skipping", "id", id, "error", err)
		return nil
	}

	// godbus/dbus/v5 already runs its own read-dispatch goroutine per
	// *dbus.Conn internally; there is no separate driver task for this
	// repo to spawn. The "abort handle" spec.md §4.5 step 3 calls for
	// is realized as a derived context whose cancellation (via Destroy,
	// or the process-wide ctx shutting down) closes this icon's
	// connection and thereby releases its bus name.
	iconCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-iconCtx.Done()
		conn.Close()
	}()

	icon := &NotifierIcon{
		id:       id,
		conn:     conn,
		cancel:   cancel,
		out:      m.out,
		appID:    appID,
		category: ev.Category,
		isMenu:   ev.HasMenu,
	}

	if err := icon.export(); err != nil {
		slog.Warn("daemon: exporting synthetic item failed, skipping", "id", id, "error", err)
		icon.Close()
		return nil
	}

	if err := icon.registerWithWatcher(); err != nil {
		slog.Warn("daemon: registering with host watcher failed", "id", id, "error", err)
	}

	m.mu.Lock()
	m.icons[id] = icon
	m.mu.Unlock()

	slog.Info("daemon: icon created", "id", id, "app_id", appID, "category", ev.Category, "has_menu", ev.HasMenu)
	return nil
}

func (m *Manager) applyToExisting(id uint64, ev wire.ClientEvent) error {
	m.mu.Lock()
	icon, ok := m.icons[id]
	m.mu.Unlock()
	if !ok {
		slog.Debug("daemon: event for unknown icon id, dropping", "id", id, "tag", ev.Tag)
		return nil
	}

	if ev.Tag == wire.ClientEventDestroy {
		m.mu.Lock()
		delete(m.icons, id)
		m.mu.Unlock()
		icon.Close()
		slog.Info("daemon: icon destroyed", "id", id)
		return nil
	}

	return icon.apply(ev, m.sanitize)
}

// registerWithWatcher calls RegisterStatusNotifierItem on the host's
// real StatusNotifierWatcher, passing this icon's connection's unique
// name, per spec.md §4.5 step 5.
func (n *NotifierIcon) registerWithWatcher() error {
	watcher := n.conn.Object(busnames.WatcherBusName, busnames.WatcherPath)
	call := watcher.Call(busnames.WatcherIface+"."+busnames.RegisterItemFn, 0, n.BusName())
	return call.Err
}

// export installs the synthetic StatusNotifierItem (and, if isMenu,
// DBusMenu) object at its canonical path on this icon's connection,
// per spec.md §4.5 step 4.
//
// Unlike cpuguy83-calbar's tray.Start (the shape this is otherwise
// grounded on), properties aren't exported via godbus/dbus/v5/prop:
// spec.md §4.7 requires several properties to surface
// org.freedesktop.DBus.Error.NoSuchProperty when the underlying value
// is unset (Title/Status/ToolTip before first set, Menu when the icon
// has no menu), which prop.Map's static value store has no hook for.
// capture.go therefore implements org.freedesktop.DBus.Properties by
// hand, giving each accessor the exact fallback spec.md §4.7 specifies.
func (n *NotifierIcon) export() error {
	if err := n.conn.Export(n, busnames.ItemPath, busnames.ItemIface); err != nil {
		return fmt.Errorf("daemon: export %s: %w", busnames.ItemIface, err)
	}
	if err := n.conn.Export(n, busnames.ItemPath, busnames.PropertiesIface); err != nil {
		return fmt.Errorf("daemon: export %s: %w", busnames.PropertiesIface, err)
	}

	node := &introspect.Node{
		Name: string(busnames.ItemPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			itemIntrospection,
		},
	}
	if err := n.conn.Export(introspect.NewIntrospectable(node), busnames.ItemPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("daemon: export introspection: %w", err)
	}

	if n.isMenu {
		if err := n.exportMenu(); err != nil {
			return err
		}
	}

	return nil
}

var itemIntrospection = introspect.Interface{
	Name: busnames.ItemIface,
	Methods: []introspect.Method{
		{Name: "Activate", Args: []introspect.Arg{{Name: "x", Type: "i", Direction: "in"}, {Name: "y", Type: "i", Direction: "in"}}},
		{Name: "SecondaryActivate", Args: []introspect.Arg{{Name: "x", Type: "i", Direction: "in"}, {Name: "y", Type: "i", Direction: "in"}}},
		{Name: "ContextMenu", Args: []introspect.Arg{{Name: "x", Type: "i", Direction: "in"}, {Name: "y", Type: "i", Direction: "in"}}},
		{Name: "Scroll", Args: []introspect.Arg{{Name: "delta", Type: "i", Direction: "in"}, {Name: "orientation", Type: "s", Direction: "in"}}},
	},
	Signals: []introspect.Signal{
		{Name: "NewTitle"},
		{Name: "NewIcon"},
		{Name: "NewAttentionIcon"},
		{Name: "NewOverlayIcon"},
		{Name: "NewStatus", Args: []introspect.Arg{{Name: "status", Type: "s"}}},
		{Name: "NewToolTip"},
	},
}
