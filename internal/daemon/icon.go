package daemon

import (
	"context"
	"io"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/qubesos/sni-bridge/internal/wire"
)

// BusConn is the subset of *dbus.Conn that this package depends on,
// broken out so the event-application and lifecycle logic (apply.go,
// capture.go, this file) can be driven against an in-memory fake in
// tests instead of a live session bus. *dbus.Conn satisfies this
// directly; production code never constructs anything else.
type BusConn interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
	Names() []string
	Close() error
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// NotifierIcon is the daemon's per-icon record: cached SNI state plus
// the dedicated bus connection that publishes it.
//
// Grounded on sni-daemon.rs's NotifierIcon (id, app_id, category,
// is_menu, a cached title/status/three pixmap slots/tooltip, and the
// owned connection + its driver abort handle). Because spec.md §4.5
// step 3 already gives each icon its own bus connection, this repo
// doesn't need the Rust source's thread-local "current icon id" cell
// (spec.md §9): NotifierIcon itself is the object exported onto its
// own connection, so its id is an ordinary field, not something a
// filter has to stash ahead of dispatch.
type NotifierIcon struct {
	id uint64

	conn   BusConn
	cancel context.CancelFunc
	out    io.Writer

	mu sync.Mutex

	appID    string
	category string
	isMenu   bool

	// title/status are nil until the guest ever sends one, which is the
	// "or NoProperty" case of spec.md §4.7's Title/Status accessors.
	title  *string
	status *string

	icon          []wire.IconData
	attentionIcon []wire.IconData
	overlayIcon   []wire.IconData
	tooltip       *wire.Tooltip
}

// BusName returns the unique name this icon's connection owns, which
// is what gets passed to RegisterStatusNotifierItem.
func (n *NotifierIcon) BusName() string {
	names := n.conn.Names()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// Close aborts this icon's connection driver, which releases the bus
// name it held (spec.md §4.5: "dropping the icon aborts the driver,
// which releases the name implicitly"). Close is synchronous: the name
// is released before Close returns, satisfying spec.md §8 invariant 9.
// Calling cancel also wakes the goroutine Manager.create started for
// this connection, which closes the connection as well; that second
// close runs concurrently with this one and its result is ignored.
func (n *NotifierIcon) Close() {
	n.cancel()
	n.conn.Close()
}
