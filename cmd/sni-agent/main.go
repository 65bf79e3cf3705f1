// Command sni-agent runs the guest-side half of the cross-domain
// StatusNotifierItem bridge: it watches the guest session bus for real
// tray icons and mirrors their state out as ClientEvent frames on
// stdout, applying ServerEvent frames read from stdin back onto the
// originating items.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/qubesos/sni-bridge/internal/agent"
	"github.com/qubesos/sni-bridge/internal/busnames"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("sni-agent: fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("sni-agent: received signal, shutting down")
		cancel()
	}()

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return err
	}
	defer conn.Close()

	engine := agent.NewEngine(conn, os.Stdout)

	watcher := agent.NewWatcher(conn)
	watcher.OnItemRegistered = engine.Discover
	watcher.OnItemUnregistered = engine.Forget
	if err := watcher.Listen(); err != nil {
		return err
	}
	slog.Info("sni-agent: watcher listening", "name", busnames.WatcherBusName)

	// spec.md §4.3: discovery also runs "on agent start" over whatever
	// is already registered, not only for items that register after.
	// Grounded on original_source/src/bin/sni-agent.rs's main(), which
	// spawns go() for every watcher.registered_status_notifier_items()
	// entry before ever installing the registration-signal match rule.
	if items, err := watcher.RegisteredStatusNotifierItems(); err == nil {
		for _, item := range items {
			go engine.Discover(item)
		}
	}

	signals := make(chan *dbus.Signal, 64)
	conn.Signal(signals)
	go func() {
		for sig := range signals {
			member := memberOf(sig.Name)
			if member == "" {
				continue
			}
			engine.HandleItemSignal(sig.Sender, sig.Path, member)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Reader(ctx, os.Stdin)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func memberOf(fullName string) string {
	prefix := busnames.ItemIface + "."
	if len(fullName) <= len(prefix) || fullName[:len(prefix)] != prefix {
		return ""
	}
	return fullName[len(prefix):]
}
