package agent

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/qubesos/sni-bridge/internal/wire"
)

func TestFlatKeyCombinesSenderAndPath(t *testing.T) {
	got := flatKey("org.example.App", dbus.ObjectPath("/StatusNotifierItem"))
	want := "org.example.App/StatusNotifierItem"
	if got != want {
		t.Errorf("flatKey = %q, want %q", got, want)
	}
}

func newTestEngine(out *bytes.Buffer) *Engine {
	return &Engine{
		out:     out,
		forward: make(map[string]*iconStats),
		reverse: make(map[uint64]string),
	}
}

func TestEngineForgetDropsBothMaps(t *testing.T) {
	e := newTestEngine(&bytes.Buffer{})
	st := &iconStats{id: 1, busName: "org.example.App", path: "/StatusNotifierItem"}
	key := flatKey(st.busName, st.path)
	e.forward[key] = st
	e.reverse[st.id] = key

	id, ok := e.forget(st.busName, st.path)
	if !ok || id != 1 {
		t.Fatalf("forget = (%d, %v), want (1, true)", id, ok)
	}
	if _, ok := e.forward[key]; ok {
		t.Error("forward map still has entry after forget")
	}
	if _, ok := e.reverse[st.id]; ok {
		t.Error("reverse map still has entry after forget")
	}

	if _, ok := e.forget(st.busName, st.path); ok {
		t.Error("forget on an already-forgotten item returned ok=true")
	}
}

func TestEngineLookupReverse(t *testing.T) {
	e := newTestEngine(&bytes.Buffer{})
	st := &iconStats{id: 42, busName: "org.example.App", path: "/StatusNotifierItem"}
	key := flatKey(st.busName, st.path)
	e.forward[key] = st
	e.reverse[st.id] = key

	busName, path, ok := e.lookupReverse(42)
	if !ok || busName != st.busName || path != st.path {
		t.Errorf("lookupReverse(42) = (%q, %q, %v), want (%q, %q, true)", busName, path, ok, st.busName, st.path)
	}

	if _, _, ok := e.lookupReverse(999); ok {
		t.Error("lookupReverse(999) = true, want false for unknown id")
	}
}

func TestEngineForgetWritesDestroyEvent(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(&buf)
	st := &iconStats{id: 7, busName: "org.example.App", path: "/StatusNotifierItem"}
	key := flatKey(st.busName, st.path)
	e.forward[key] = st
	e.reverse[st.id] = key

	e.Forget("org.example.App/StatusNotifierItem")

	evt, err := wire.ReadClientEvent(&buf)
	if err != nil {
		t.Fatalf("ReadClientEvent: %v", err)
	}
	if evt.ID != 7 || evt.Event.Tag != wire.ClientEventDestroy {
		t.Errorf("got %+v, want Destroy{7}", evt)
	}
}

func TestEngineForgetOnUnknownServiceIsNoop(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(&buf)

	e.Forget("org.example.Unknown")

	if buf.Len() != 0 {
		t.Error("Forget on unknown service wrote a frame, want none")
	}
}

// signalingWriter wraps an io.Writer and reports every completed Write
// on a channel, giving a test a happens-before edge onto "the refresh
// goroutine reached the point just after it cleared the mask bit"
// without sleeping.
type signalingWriter struct {
	buf   bytes.Buffer
	wrote chan struct{}
}

func (w *signalingWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	w.wrote <- struct{}{}
	return n, err
}

// TestOnIconSignalCoalescesBurstToOneRefresh drives spec.md §4.3's
// at-most-one-in-flight-refresh-per-bit discipline directly: since
// onIconSignal's mask check-and-set runs synchronously in the caller
// before any goroutine is spawned, a burst of calls on the same
// (sender, path, bit) is provably collapsed to a single refresh - this
// is the "at most 2 RPCs per burst" invariant SPEC_FULL.md §8 calls
// out (one in flight, one more after it completes and the bit clears).
func TestOnIconSignalCoalescesBurstToOneRefresh(t *testing.T) {
	sw := &signalingWriter{wrote: make(chan struct{}, 8)}
	e := newTestEngine(nil)
	e.out = sw

	st := &iconStats{id: 1, busName: "org.example.App", path: "/StatusNotifierItem"}
	key := flatKey(st.busName, st.path)
	e.forward[key] = st
	e.reverse[st.id] = key

	var calls int32
	entered := make(chan struct{}, 8)
	gate := make(chan struct{})
	kind := refreshKind{
		bit: wire.IconTypeNormal,
		fetch: func(ctx context.Context, p *itemProxy) ([]pixmapTuple, error) {
			atomic.AddInt32(&calls, 1)
			entered <- struct{}{}
			<-gate
			return []pixmapTuple{{Width: 1, Height: 1, Data: []byte{1}}}, nil
		},
		nameFetch: func(ctx context.Context, p *itemProxy) (string, error) { return "", nil },
		remove:    func(id uint64) wire.ClientEvent { return wire.NewRemoveIconEvent(wire.IconTypeNormal) },
	}

	const burst = 5
	for i := 0; i < burst; i++ {
		e.onIconSignal(st.busName, st.path, kind)
	}

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("refresh never reached fetch")
	}
	select {
	case <-entered:
		t.Fatal("fetch entered more than once for a single burst")
	default:
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("fetch called %d times for a burst of %d signals, want 1", got, burst)
	}

	close(gate)
	select {
	case <-sw.wrote:
	case <-time.After(time.Second):
		t.Fatal("refresh never wrote its completion event")
	}

	st.mu.Lock()
	mask := st.mask
	st.mu.Unlock()
	if mask&wire.IconTypeNormal != 0 {
		t.Error("mask bit still set after refresh completed")
	}

	// A fresh signal after the bit clears must spawn a second refresh -
	// coalescing drops redundant work within a burst, it does not
	// suppress the feature forever.
	done2 := make(chan struct{})
	kind.fetch = func(ctx context.Context, p *itemProxy) ([]pixmapTuple, error) {
		atomic.AddInt32(&calls, 1)
		close(done2)
		return nil, nil
	}
	e.onIconSignal(st.busName, st.path, kind)

	select {
	case <-done2:
	case <-time.After(time.Second):
		t.Fatal("second refresh never called fetch")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("fetch called %d times after bit cleared, want 2", got)
	}
}
