package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sync/singleflight"

	"github.com/qubesos/sni-bridge/internal/wire"
)

// iconStats is the per-observed-icon bookkeeping record from spec.md
// §4.3: an id, the bus coordinates of the item, and the in-flight
// refresh mask used by the coalescing discipline.
//
// Grounded on original_source/src/bin/sni-agent.rs's IconStats and the
// name_map/handle_cb pair. The original keys name_map by the bus-name
// alone, but handle_cb looks entries up by "{sender}{path}" - the two
// can never agree for any item using a non-default object path. That
// mismatch is treated as a bug in the source rather than behavior to
// preserve; both insertion and lookup here use the
// same flat "{sender}{path}" key.
type iconStats struct {
	id      uint64
	busName string
	path    dbus.ObjectPath

	mu   sync.Mutex
	mask wire.IconType
}

// Engine tracks discovered icons and coalesces their property refreshes.
// One Engine exists per agent process, shared by the discovery watcher
// and the six New* signal handlers.
type Engine struct {
	conn *dbus.Conn
	out  io.Writer

	nextID uint64

	mu      sync.Mutex
	forward map[string]*iconStats // "{sender}{path}" -> stats
	reverse map[uint64]string     // id -> "{sender}{path}"

	sf singleflight.Group
}

// NewEngine returns an Engine that issues observer RPCs over conn and
// writes ClientEvent frames to out.
func NewEngine(conn *dbus.Conn, out io.Writer) *Engine {
	return &Engine{
		conn:    conn,
		out:     out,
		forward: make(map[string]*iconStats),
		reverse: make(map[uint64]string),
	}
}

func flatKey(sender string, path dbus.ObjectPath) string {
	return sender + string(path)
}

// lookupReverse returns the bus coordinates recorded for id, used by
// dispatch.go to route a ServerEvent back to its originating item.
func (e *Engine) lookupReverse(id uint64) (busName string, path dbus.ObjectPath, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key, ok := e.reverse[id]
	if !ok {
		return "", "", false
	}
	st, ok := e.forward[key]
	if !ok {
		return "", "", false
	}
	return st.busName, st.path, true
}

// forget drops all bookkeeping for a vanished item, per spec.md §4.3's
// NameOwnerChanged handling (the counterpart of the daemon side's
// equivalent cleanup).
func (e *Engine) forget(sender string, path dbus.ObjectPath) (id uint64, ok bool) {
	key := flatKey(sender, path)
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.forward[key]
	if !ok {
		return 0, false
	}
	delete(e.forward, key)
	delete(e.reverse, st.id)
	return st.id, true
}

// Forget is Watcher's OnItemUnregistered hook: it resolves service back
// to the icon id Discover minted for it and emits the Destroy event that
// tells the daemon to release the synthetic item, per spec.md §4.3.
func (e *Engine) Forget(service string) {
	busName, path := splitServiceName(service)
	id, ok := e.forget(busName, path)
	if !ok {
		return
	}
	if err := wire.WriteClientEvent(e.out, id, wire.NewDestroyEvent()); err != nil {
		slog.Error("discovery: write destroy event", "error", err)
	}
}

// refreshKind identifies which icon-bearing property a signal asks to
// reread, and which wire.IconType bit guards it. nameFetch is the
// matching *IconName property, consulted only when fetch fails: spec.md
// §4.3's three-way completion treats a readable icon name as "don't tell
// the daemon anything changed" rather than as an outright removal.
type refreshKind struct {
	bit      wire.IconType
	fetch    func(ctx context.Context, p *itemProxy) ([]pixmapTuple, error)
	nameFetch func(ctx context.Context, p *itemProxy) (string, error)
	remove   func(id uint64) wire.ClientEvent
}

var (
	refreshIcon = refreshKind{
		bit:       wire.IconTypeNormal,
		fetch:     (*itemProxy).IconPixmap,
		nameFetch: (*itemProxy).IconName,
		remove:    func(id uint64) wire.ClientEvent { return wire.NewRemoveIconEvent(wire.IconTypeNormal) },
	}
	refreshAttention = refreshKind{
		bit:       wire.IconTypeAttention,
		fetch:     (*itemProxy).AttentionIconPixmap,
		nameFetch: (*itemProxy).AttentionIconName,
		remove:    func(id uint64) wire.ClientEvent { return wire.NewRemoveIconEvent(wire.IconTypeAttention) },
	}
	refreshOverlay = refreshKind{
		bit:       wire.IconTypeOverlay,
		fetch:     (*itemProxy).OverlayIconPixmap,
		nameFetch: (*itemProxy).OverlayIconName,
		remove:    func(id uint64) wire.ClientEvent { return wire.NewRemoveIconEvent(wire.IconTypeOverlay) },
	}
)

// onIconSignal implements the coalescing discipline of spec.md §4.3 for
// one of NewIcon/NewAttentionIcon/NewOverlayIcon: acquire the entry's
// mask; if the bit is already set, a refresh is in flight and this
// signal is dropped (no rerun is queued). Otherwise set the bit and
// spawn exactly one refresh.
//
// The refresh itself is additionally routed through a singleflight
// group keyed by (entry, bit), which collapses overlapping refresh
// requests for the same key into a single outbound RPC. onIconSignal is
// refresh's only caller, so the mask already keeps such requests from
// overlapping.
func (e *Engine) onIconSignal(sender string, path dbus.ObjectPath, kind refreshKind) {
	key := flatKey(sender, path)
	e.mu.Lock()
	st, ok := e.forward[key]
	e.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	if st.mask&kind.bit != 0 {
		st.mu.Unlock()
		return
	}
	st.mask |= kind.bit
	st.mu.Unlock()

	go e.refresh(st, kind)
}

func (e *Engine) refresh(st *iconStats, kind refreshKind) {
	sfKey := fmt.Sprintf("%s|%d", flatKey(st.busName, st.path), kind.bit)
	proxy := newItemProxy(e.conn, st.busName, st.path)

	v, err, _ := e.sf.Do(sfKey, func() (any, error) {
		return kind.fetch(context.Background(), proxy)
	})

	st.mu.Lock()
	st.mask &^= kind.bit
	st.mu.Unlock()

	if err != nil {
		slog.Warn("icon pixmap refresh failed", "bus", st.busName, "path", st.path, "type", kind.bit, "error", err)
		if name, nameErr := kind.nameFetch(context.Background(), proxy); nameErr == nil && name != "" {
			// Pixmap unreadable but the item still advertises an icon
			// name: spec.md §4.3 calls for no event here, leaving the
			// daemon's last-known pixmap in place.
			return
		}
		if werr := wire.WriteClientEvent(e.out, st.id, kind.remove(st.id)); werr != nil {
			slog.Error("write remove-icon event", "error", werr)
		}
		return
	}

	tuples := v.([]pixmapTuple)
	icons := make([]wire.IconData, 0, len(tuples))
	for _, t := range tuples {
		icons = append(icons, wire.IconData{Width: uint32(t.Width), Height: uint32(t.Height), Data: t.Data})
	}

	event := wire.NewIconEvent(kind.bit, icons)
	if werr := wire.WriteClientEvent(e.out, st.id, event); werr != nil {
		slog.Error("write icon event", "error", werr)
	}
}
