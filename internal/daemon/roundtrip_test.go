package daemon

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/qubesos/sni-bridge/internal/busnames"
	"github.com/qubesos/sni-bridge/internal/wire"
)

// fakeConn is an in-memory BusConn: it never touches a real session
// bus, so NotifierIcon's event-application, capture, and lifecycle
// logic can be driven deterministically in a unit test, per
// SPEC_FULL.md §8's fake dbus-shaped collaborator. Its Object()
// panics, since nothing under test calls it: Manager's full Create
// path (export + registerWithWatcher, which calls
// conn.Object(...).Call(...) against the real dbus.BusObject returned
// by a live watcher) is bypassed below by building icons directly, so
// a fake dbus.BusObject's exact method set - which cannot be verified
// without the toolchain - never needs guessing at.
type fakeConn struct {
	mu      sync.Mutex
	name    string
	emitted []emittedSignal
	closed  bool
}

type emittedSignal struct {
	path   dbus.ObjectPath
	signal string
	args   []interface{}
}

func newFakeConn(name string) *fakeConn {
	return &fakeConn{name: name}
}

func (f *fakeConn) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	return nil
}

func (f *fakeConn) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, emittedSignal{path: path, signal: name, args: values})
	return nil
}

func (f *fakeConn) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []string{f.name}
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	panic("fakeConn: Object is not used by this test's icons")
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) signalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emitted)
}

// newFakeIcon builds a NotifierIcon the way Manager.create would, minus
// the export()/registerWithWatcher() calls that need a real watcher
// object - those are not exercised by these tests.
func newFakeIcon(id uint64, out *bytes.Buffer, conn *fakeConn) *NotifierIcon {
	return &NotifierIcon{
		id:       id,
		conn:     conn,
		cancel:   func() {},
		out:      out,
		appID:    "org.qubes_os.vm.app_id.my_app",
		category: "ApplicationStatus",
	}
}

// TestManagerApplyIconThenActivateRoundTrip plays S1's steady-state
// half (spec.md §4.6/§4.7): once an icon exists, an Icon ClientEvent
// routed through Manager.Apply is captured in the matching pixmap slot
// and readable back via Get, emits the matching SNI signal, and a
// subsequent Activate call writes a ServerEvent frame addressed to the
// right id.
func TestManagerApplyIconThenActivateRoundTrip(t *testing.T) {
	var out bytes.Buffer
	conn := newFakeConn("guest.icon.1")
	icon := newFakeIcon(1, &out, conn)

	m := NewManager(&out, failingConnFactory)
	m.mu.Lock()
	m.icons[1] = icon
	m.lastID = 1
	m.mu.Unlock()

	ctx := context.Background()
	icons := []wire.IconData{{Width: 16, Height: 16, Data: make([]byte, 16*16*4)}}
	if err := m.Apply(ctx, wire.IconClientEvent{
		ID:    1,
		Event: wire.NewIconEvent(wire.IconTypeNormal, icons),
	}); err != nil {
		t.Fatalf("Apply(Icon): %v", err)
	}

	v, derr := icon.Get(busnames.ItemIface, "IconPixmap")
	if derr != nil {
		t.Fatalf("Get(IconPixmap): %v", derr)
	}
	if got := v.Value().([]pixmapTuple); len(got) != 1 || got[0].Width != 16 {
		t.Errorf("IconPixmap = %+v, want one 16x16 entry", got)
	}
	if conn.signalCount() != 1 {
		t.Errorf("Icon event produced %d signals, want 1", conn.signalCount())
	}

	if derr := icon.Activate(10, 20); derr != nil {
		t.Fatalf("Activate: %v", derr)
	}
	evt, err := wire.ReadServerEvent(&out)
	if err != nil {
		t.Fatalf("ReadServerEvent: %v", err)
	}
	if evt.ID != 1 || evt.Event.Tag != wire.ServerEventActivate || evt.Event.X != 10 || evt.Event.Y != 20 {
		t.Errorf("got %+v, want Activate{1,10,20}", evt)
	}
}

// TestManagerApplyDestroyReleasesConnectionAndForgetsIcon plays S3:
// Destroy removes the icon from Manager's table and closes its
// connection, which is how spec.md §4.5/§8 says the held bus name is
// released.
func TestManagerApplyDestroyReleasesConnectionAndForgetsIcon(t *testing.T) {
	var out bytes.Buffer
	conn := newFakeConn("guest.icon.2")
	icon := newFakeIcon(2, &out, conn)

	m := NewManager(&out, failingConnFactory)
	m.mu.Lock()
	m.icons[2] = icon
	m.lastID = 2
	m.mu.Unlock()

	if err := m.Apply(context.Background(), wire.IconClientEvent{ID: 2, Event: wire.NewDestroyEvent()}); err != nil {
		t.Fatalf("Apply(Destroy): %v", err)
	}

	m.mu.Lock()
	_, stillPresent := m.icons[2]
	m.mu.Unlock()
	if stillPresent {
		t.Error("icon 2 still present in Manager after Destroy")
	}
	if !conn.isClosed() {
		t.Error("Destroy did not close the icon's connection")
	}
}
