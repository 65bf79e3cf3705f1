package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/qubesos/sni-bridge/internal/busnames"
)

// callTimeout is the per-RPC budget from spec.md §5: every outbound
// bus RPC uses a 1-second method-call timeout, treated as a
// recoverable, logged error on expiry.
const callTimeout = time.Second

// itemProxy is a minimal hand-written client binding for the
// StatusNotifierItem interface. The SNI/DBusMenu IDL itself is out of
// scope (spec.md §1: "code-gen is assumed available"); this is the
// small amount of call-shape plumbing that assumption still leaves for
// us to write, grounded on item.go's property/method call shape
// (obj.GetProperty(iface+".Name"), obj.Call(iface+".Method", flags, args...)).
type itemProxy struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	busName string
	path    dbus.ObjectPath
}

func newItemProxy(conn *dbus.Conn, busName string, path dbus.ObjectPath) *itemProxy {
	return &itemProxy{conn: conn, obj: conn.Object(busName, path), busName: busName, path: path}
}

// pixmapTuple mirrors the SNI wire representation of a single pixmap:
// (width int32, height int32, data []byte).
type pixmapTuple struct {
	Width, Height int32
	Data          []byte
}

func (p *itemProxy) getProperty(ctx context.Context, name string) (dbus.Variant, error) {
	type result struct {
		v   dbus.Variant
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := p.obj.GetProperty(busnames.ItemIface + "." + name)
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		return dbus.Variant{}, fmt.Errorf("agent: get %s: %w", name, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return dbus.Variant{}, fmt.Errorf("agent: get %s: %w", name, r.err)
		}
		return r.v, nil
	}
}

func (p *itemProxy) call(ctx context.Context, method string, args ...any) ([]any, error) {
	type result struct {
		body []any
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		call := p.obj.Call(busnames.ItemIface+"."+method, 0, args...)
		ch <- result{call.Body, call.Err}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("agent: call %s: %w", method, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("agent: call %s: %w", method, r.err)
		}
		return r.body, nil
	}
}

func withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, callTimeout)
}

func (p *itemProxy) Id(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	v, err := p.getProperty(ctx, "Id")
	if err != nil {
		return "", err
	}
	return asString(v)
}

func (p *itemProxy) Category(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	v, err := p.getProperty(ctx, "Category")
	if err != nil {
		return "", err
	}
	return asString(v)
}

func (p *itemProxy) ItemIsMenu(ctx context.Context) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	v, err := p.getProperty(ctx, "ItemIsMenu")
	if err != nil {
		return false, err
	}
	b, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("agent: ItemIsMenu: unexpected type %T", v.Value())
	}
	return b, nil
}

func (p *itemProxy) Status(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	v, err := p.getProperty(ctx, "Status")
	if err != nil {
		return "", err
	}
	return asString(v)
}

func (p *itemProxy) Title(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	v, err := p.getProperty(ctx, "Title")
	if err != nil {
		return "", err
	}
	return asString(v)
}

func (p *itemProxy) IconName(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	v, err := p.getProperty(ctx, "IconName")
	if err != nil {
		return "", err
	}
	return asString(v)
}

func (p *itemProxy) AttentionIconName(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	v, err := p.getProperty(ctx, "AttentionIconName")
	if err != nil {
		return "", err
	}
	return asString(v)
}

func (p *itemProxy) OverlayIconName(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	v, err := p.getProperty(ctx, "OverlayIconName")
	if err != nil {
		return "", err
	}
	return asString(v)
}

func (p *itemProxy) IconPixmap(ctx context.Context) ([]pixmapTuple, error) {
	return p.pixmapProperty(ctx, "IconPixmap")
}

func (p *itemProxy) AttentionIconPixmap(ctx context.Context) ([]pixmapTuple, error) {
	return p.pixmapProperty(ctx, "AttentionIconPixmap")
}

func (p *itemProxy) OverlayIconPixmap(ctx context.Context) ([]pixmapTuple, error) {
	return p.pixmapProperty(ctx, "OverlayIconPixmap")
}

func (p *itemProxy) pixmapProperty(ctx context.Context, name string) ([]pixmapTuple, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	v, err := p.getProperty(ctx, name)
	if err != nil {
		return nil, err
	}
	return asPixmaps(v)
}

func (p *itemProxy) Activate(ctx context.Context, x, y int32) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := p.call(ctx, "Activate", x, y)
	return err
}

func (p *itemProxy) SecondaryActivate(ctx context.Context, x, y int32) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := p.call(ctx, "SecondaryActivate", x, y)
	return err
}

func (p *itemProxy) ContextMenu(ctx context.Context, x, y int32) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := p.call(ctx, "ContextMenu", x, y)
	return err
}

func (p *itemProxy) Scroll(ctx context.Context, delta int32, orientation string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := p.call(ctx, "Scroll", delta, orientation)
	return err
}

func asString(v dbus.Variant) (string, error) {
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("agent: expected string, got %T", v.Value())
	}
	return s, nil
}

// asPixmaps converts the SNI wire representation - a slice of
// (i32, i32, []byte) tuples - into pixmapTuple, rejecting negative
// dimensions per spec.md §4.3.
func asPixmaps(v dbus.Variant) ([]pixmapTuple, error) {
	raw, ok := v.Value().([][]any)
	if !ok {
		// godbus may also decode as []interface{} of []interface{}.
		rawAny, ok2 := v.Value().([]any)
		if !ok2 {
			return nil, fmt.Errorf("agent: unexpected pixmap property type %T", v.Value())
		}
		out := make([]pixmapTuple, 0, len(rawAny))
		for _, item := range rawAny {
			tuple, ok3 := item.([]any)
			if !ok3 {
				return nil, fmt.Errorf("agent: unexpected pixmap tuple type %T", item)
			}
			t, err := decodePixmapTuple(tuple)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}

	out := make([]pixmapTuple, 0, len(raw))
	for _, tuple := range raw {
		t, err := decodePixmapTuple(tuple)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func decodePixmapTuple(tuple []any) (pixmapTuple, error) {
	if len(tuple) != 3 {
		return pixmapTuple{}, fmt.Errorf("agent: pixmap tuple has %d elements, want 3", len(tuple))
	}
	w, ok := tuple[0].(int32)
	if !ok {
		return pixmapTuple{}, fmt.Errorf("agent: pixmap width: expected int32, got %T", tuple[0])
	}
	h, ok := tuple[1].(int32)
	if !ok {
		return pixmapTuple{}, fmt.Errorf("agent: pixmap height: expected int32, got %T", tuple[1])
	}
	data, ok := tuple[2].([]byte)
	if !ok {
		return pixmapTuple{}, fmt.Errorf("agent: pixmap data: expected []byte, got %T", tuple[2])
	}
	if w < 0 || h < 0 {
		return pixmapTuple{}, fmt.Errorf("agent: pixmap has negative dimension %dx%d", w, h)
	}
	return pixmapTuple{Width: w, Height: h, Data: data}, nil
}
