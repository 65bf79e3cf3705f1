package agent

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"

	"github.com/qubesos/sni-bridge/internal/busnames"
)

// Watcher impersonates org.kde.StatusNotifierWatcher on the guest bus.
// Exactly one instance should run per guest session (spec.md §4.2).
//
// Grounded on github.com/shelepuginivan/systray's Watcher (watcher.go):
// item/host sets under a mutex, RequestName with NameFlagDoNotQueue,
// prop.Export for the three read-only properties, and a NameOwnerChanged
// listener goroutine.
type Watcher struct {
	conn *dbus.Conn

	mu    sync.Mutex
	items []string
	hosts []string

	signals chan *dbus.Signal

	// OnItemRegistered and OnItemUnregistered let the agent's discovery
	// engine react to the watcher's own bookkeeping without a bus
	// round-trip; the agent plays both StatusNotifierWatcher and the
	// sole StatusNotifierHost for the guest session, so routing this
	// in-process is equivalent to, and simpler than, emitting and then
	// re-subscribing to its own signal.
	OnItemRegistered   func(service string)
	OnItemUnregistered func(service string)
}

// NewWatcher returns a Watcher bound to conn. Listen must be called to
// actually claim the well-known name and start serving.
func NewWatcher(conn *dbus.Conn) *Watcher {
	return &Watcher{conn: conn, signals: make(chan *dbus.Signal, 64)}
}

// Listen requests org.kde.StatusNotifierWatcher, exports this Watcher at
// its canonical path, and starts the NameOwnerChanged listener.
func (w *Watcher) Listen() error {
	reply, err := w.conn.RequestName(busnames.WatcherBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("agent: request name %s: %w", busnames.WatcherBusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("agent: name %s already taken", busnames.WatcherBusName)
	}

	if err := w.conn.Export(w, busnames.WatcherPath, busnames.WatcherIface); err != nil {
		return fmt.Errorf("agent: export %s: %w", busnames.WatcherIface, err)
	}

	w.exportProperties()
	w.subscribeNameOwnerChanged()
	return nil
}

// RegisterStatusNotifierItem registers service into the watcher's item
// set. The caller's service string is intentionally not validated here:
// both shelepuginivan/systray's watcher.go and original_source's
// sni-agent.rs leave this as an explicit TODO/FIXME rather than a
// specified policy.
func (w *Watcher) RegisterStatusNotifierItem(service string, sender dbus.Sender) *dbus.Error {
	w.mu.Lock()
	already := contains(w.items, service)
	if !already {
		w.items = append(w.items, service)
	}
	w.mu.Unlock()

	if already {
		return nil
	}

	w.conn.AddMatchSignal(busnames.NameOwnerChangedMatchRule(string(sender))...)
	w.conn.Emit(busnames.WatcherPath, busnames.ItemRegistered, service)
	w.invalidateRegisteredItems()
	w.exportProperties()
	slog.Debug("item registered", "service", service)

	if w.OnItemRegistered != nil {
		// Discovery issues blocking proxy RPCs (spec.md §4.3 step 3); run
		// it off the method-call goroutine so RegisterStatusNotifierItem
		// itself returns immediately, matching original_source's
		// tokio::task::spawn_local(go(...)) in its registration callback.
		go w.OnItemRegistered(service)
	}
	return nil
}

// RegisterStatusNotifierHost registers service into the watcher's host set.
func (w *Watcher) RegisterStatusNotifierHost(service string) *dbus.Error {
	w.mu.Lock()
	already := contains(w.hosts, service)
	if !already {
		w.hosts = append(w.hosts, service)
	}
	w.mu.Unlock()

	if already {
		return nil
	}

	w.conn.AddMatchSignal(busnames.NameOwnerChangedMatchRule(service)...)
	w.conn.Emit(busnames.WatcherPath, busnames.HostRegistered, service)
	w.exportProperties()
	slog.Debug("host registered", "service", service)
	return nil
}

// RegisteredStatusNotifierItems is the org.kde.StatusNotifierWatcher property.
func (w *Watcher) RegisteredStatusNotifierItems() ([]string, *dbus.Error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.items))
	copy(out, w.items)
	return out, nil
}

// IsStatusNotifierHostRegistered is the org.kde.StatusNotifierWatcher property.
func (w *Watcher) IsStatusNotifierHostRegistered() (bool, *dbus.Error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hosts) > 0, nil
}

// ProtocolVersion is the org.kde.StatusNotifierWatcher property, always 1.
func (w *Watcher) ProtocolVersion() (int32, *dbus.Error) {
	return 1, nil
}

func (w *Watcher) subscribeNameOwnerChanged() {
	w.conn.Signal(w.signals)
	go func() {
		for sig := range w.signals {
			if sig.Name != busnames.NameOwnerChangedSig || len(sig.Body) < 3 {
				continue
			}
			name, ok1 := sig.Body[0].(string)
			newOwner, ok3 := sig.Body[2].(string)
			if !ok1 || !ok3 {
				continue
			}
			w.handleNameOwnerChanged(name, newOwner)
		}
	}()
}

// handleNameOwnerChanged drops hosts unconditionally and drops items
// only when the name has vanished (new owner empty), per spec.md §4.2.
func (w *Watcher) handleNameOwnerChanged(name, newOwner string) {
	w.mu.Lock()
	w.hosts = remove(w.hosts, name)

	var removedItem bool
	if newOwner == "" {
		before := len(w.items)
		w.items = remove(w.items, name)
		removedItem = len(w.items) != before
	}
	w.mu.Unlock()

	if removedItem {
		w.conn.RemoveMatchSignal(busnames.NameOwnerChangedMatchRule(name)...)
		w.conn.Emit(busnames.WatcherPath, busnames.ItemUnregisterd, name)
		w.invalidateRegisteredItems()
		w.exportProperties()
		slog.Debug("item unregistered (name vanished)", "service", name)

		if w.OnItemUnregistered != nil {
			w.OnItemUnregistered(name)
		}
	}
}

func (w *Watcher) invalidateRegisteredItems() {
	w.conn.Emit(busnames.WatcherPath, busnames.PropertiesChangedSignal,
		busnames.WatcherIface, map[string]dbus.Variant{}, []string{"RegisteredStatusNotifierItems"})
}

func (w *Watcher) exportProperties() {
	items, _ := w.RegisteredStatusNotifierItems()
	hasHost, _ := w.IsStatusNotifierHostRegistered()

	prop.Export(w.conn, busnames.WatcherPath, prop.Map{
		busnames.WatcherIface: map[string]*prop.Prop{
			"RegisteredStatusNotifierItems": {Value: items, Writable: false, Emit: prop.EmitTrue},
			"IsStatusNotifierHostRegistered": {
				Value: hasHost, Writable: false, Emit: prop.EmitTrue,
			},
			"ProtocolVersion": {Value: int32(1), Writable: false, Emit: prop.EmitTrue},
		},
	})
}

func contains(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}

func remove(xs []string, x string) []string {
	out := xs[:0]
	for _, s := range xs {
		if s != x {
			out = append(out, s)
		}
	}
	return out
}

// splitServiceName splits "bus-name/object-path" at the first '/'. If
// there is none, the object path defaults to the canonical SNI path.
func splitServiceName(service string) (busName string, objectPath dbus.ObjectPath) {
	if idx := strings.IndexByte(service, '/'); idx >= 0 {
		return service[:idx], dbus.ObjectPath(service[idx:])
	}
	return service, busnames.ItemPath
}
