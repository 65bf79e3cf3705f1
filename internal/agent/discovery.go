package agent

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sync/errgroup"

	"github.com/qubesos/sni-bridge/internal/busnames"
	"github.com/qubesos/sni-bridge/internal/wire"
)

// idCounter mints IconIds. A single monotonic uint64 counter shared by
// one agent process is sufficient (spec.md §3: IconId is unique within
// one agent-daemon session, never reused).
var idCounter uint64

func nextIconID() uint64 {
	return atomic.AddUint64(&idCounter, 1)
}

// Discover runs the per-service discovery task of spec.md §4.3 for a
// service string newly reported by RegisterStatusNotifierItem.
//
// Grounded on original_source/src/bin/sni-agent.rs's go(): validate,
// build a proxy, read Id/Category/ItemIsMenu/Status concurrently,
// reject the reserved app-id namespace, mint an id, emit Create and
// Status, then read and emit the three pixmap slots.
func (e *Engine) Discover(service string) {
	busName, path := splitServiceName(service)

	if !validateBusName(busName) || !validateObjectPath(path) {
		slog.Warn("discovery: service string is not a valid bus name/path", "service", service)
		return
	}

	proxy := newItemProxy(e.conn, busName, path)

	var appID, category, status string
	var isMenu bool

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() (err error) {
		appID, err = proxy.Id(ctx)
		return
	})
	g.Go(func() (err error) {
		category, err = proxy.Category(ctx)
		return
	})
	g.Go(func() (err error) {
		isMenu, err = proxy.ItemIsMenu(ctx)
		return
	})
	g.Go(func() (err error) {
		status, err = proxy.Status(ctx)
		return
	})
	if err := g.Wait(); err != nil {
		slog.Warn("discovery: reading item properties failed", "service", service, "error", err)
		return
	}

	if len(appID) >= len(busnames.ReservedAppIDPrefix) && appID[:len(busnames.ReservedAppIDPrefix)] == busnames.ReservedAppIDPrefix {
		slog.Warn("discovery: item's app id collides with the reserved namespace, dropping", "service", service, "app_id", appID)
		return
	}

	id := nextIconID()
	st := &iconStats{id: id, busName: busName, path: path}
	key := flatKey(busName, path)
	e.mu.Lock()
	e.forward[key] = st
	e.reverse[id] = key
	e.mu.Unlock()

	if err := wire.WriteClientEvent(e.out, id, wire.NewCreateEvent(category, appID, isMenu)); err != nil {
		slog.Error("discovery: write create event", "error", err)
		return
	}

	var statusText *string
	if status != "" {
		statusText = &status
	}
	if err := wire.WriteClientEvent(e.out, id, wire.NewStatusEvent(statusText)); err != nil {
		slog.Error("discovery: write status event", "error", err)
	}

	e.refreshAllIcons(st, proxy)
	e.subscribeItemSignals(busName, path)
}

// refreshAllIcons performs the initial concurrent read of all three
// pixmap slots for a freshly discovered item, emitting one Icon event
// per slot that reads successfully. Per spec.md §4.3 step 7 ("for each
// that succeeds, emit an Icon{type,data} frame") and
// original_source/src/bin/sni-agent.rs's go() - whose `if let Ok(...)`
// over each property emits nothing at all for a failed/absent slot - a
// read failure here is silent, not a RemoveIcon: there is nothing to
// remove yet, since the daemon has no icon for this id until its first
// Icon event arrives.
func (e *Engine) refreshAllIcons(st *iconStats, proxy *itemProxy) {
	kinds := []refreshKind{refreshIcon, refreshAttention, refreshOverlay}

	var g errgroup.Group
	for _, k := range kinds {
		k := k
		g.Go(func() error {
			tuples, err := k.fetch(context.Background(), proxy)
			if err != nil {
				slog.Warn("discovery: initial pixmap read failed", "bus", st.busName, "path", st.path, "type", k.bit, "error", err)
				return nil
			}

			icons := make([]wire.IconData, 0, len(tuples))
			for _, t := range tuples {
				icons = append(icons, wire.IconData{Width: uint32(t.Width), Height: uint32(t.Height), Data: t.Data})
			}
			return wire.WriteClientEvent(e.out, st.id, wire.NewIconEvent(k.bit, icons))
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("discovery: writing initial icon events", "error", err)
	}
}

// subscribeItemSignals adds match rules for the six per-item signals
// this item's refresh handlers react to: the five of spec.md §4.3 plus
// NewToolTip.
func (e *Engine) subscribeItemSignals(busName string, path dbus.ObjectPath) {
	for _, member := range []string{
		busnames.NewTitleFn,
		busnames.NewStatusFn,
		busnames.NewIconFn,
		busnames.NewAttentionIconFn,
		busnames.NewOverlayIconFn,
		busnames.NewToolTipFn,
	} {
		e.conn.AddMatchSignal(busnames.ItemSignalMatchRule(member, busName)...)
	}
}

// HandleItemSignal dispatches a signal observed on the item interface
// to the matching coalescing/refresh handler. sender/path identify the
// originating item; member is the bare signal name.
func (e *Engine) HandleItemSignal(sender string, path dbus.ObjectPath, member string) {
	switch member {
	case "NewIcon":
		e.onIconSignal(sender, path, refreshIcon)
	case "NewAttentionIcon":
		e.onIconSignal(sender, path, refreshAttention)
	case "NewOverlayIcon":
		e.onIconSignal(sender, path, refreshOverlay)
	case "NewTitle":
		e.onTextSignal(sender, path, wire.IconTypeTitle)
	case "NewStatus":
		e.onTextSignal(sender, path, wire.IconTypeStatus)
	case "NewToolTip":
		e.onTooltipSignal(sender, path)
	default:
		slog.Debug("discovery: unhandled item signal", "member", member)
	}
}

func (e *Engine) onTextSignal(sender string, path dbus.ObjectPath, bit wire.IconType) {
	key := flatKey(sender, path)
	e.mu.Lock()
	st, ok := e.forward[key]
	e.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	if st.mask&bit != 0 {
		st.mu.Unlock()
		return
	}
	st.mask |= bit
	st.mu.Unlock()

	go e.refreshText(st, bit)
}

func (e *Engine) refreshText(st *iconStats, bit wire.IconType) {
	proxy := newItemProxy(e.conn, st.busName, st.path)

	var text string
	var err error
	switch bit {
	case wire.IconTypeTitle:
		text, err = proxy.Title(context.Background())
	case wire.IconTypeStatus:
		text, err = proxy.Status(context.Background())
	default:
		return
	}

	st.mu.Lock()
	st.mask &^= bit
	st.mu.Unlock()

	var event wire.ClientEvent
	if err != nil {
		slog.Warn("discovery: text refresh failed", "bus", st.busName, "path", st.path, "type", bit, "error", err)
		event = textEvent(bit, nil)
	} else if text == "" {
		event = textEvent(bit, nil)
	} else {
		event = textEvent(bit, &text)
	}

	if werr := wire.WriteClientEvent(e.out, st.id, event); werr != nil {
		slog.Error("discovery: write text event", "error", werr)
	}
}

func textEvent(bit wire.IconType, text *string) wire.ClientEvent {
	if bit == wire.IconTypeTitle {
		return wire.NewTitleEvent(text)
	}
	return wire.NewStatusEvent(text)
}

func (e *Engine) onTooltipSignal(sender string, path dbus.ObjectPath) {
	key := flatKey(sender, path)
	e.mu.Lock()
	st, ok := e.forward[key]
	e.mu.Unlock()
	if !ok {
		return
	}

	go func() {
		proxy := newItemProxy(e.conn, st.busName, st.path)
		ctx := context.Background()

		title, err1 := proxy.Title(ctx)
		tuples, err2 := proxy.IconPixmap(ctx)
		if err1 != nil && err2 != nil {
			if werr := wire.WriteClientEvent(e.out, st.id, wire.NewRemoveTooltipEvent()); werr != nil {
				slog.Error("discovery: write remove-tooltip event", "error", werr)
			}
			return
		}

		icons := make([]wire.IconData, 0, len(tuples))
		for _, t := range tuples {
			icons = append(icons, wire.IconData{Width: uint32(t.Width), Height: uint32(t.Height), Data: t.Data})
		}

		tip := wire.Tooltip{Title: title, Description: "", IconData: icons}
		if werr := wire.WriteClientEvent(e.out, st.id, wire.NewTooltipEvent(tip)); werr != nil {
			slog.Error("discovery: write tooltip event", "error", werr)
		}
	}()
}
