// Command sni-daemon runs the host-side half of the cross-domain
// StatusNotifierItem bridge: it reads ClientEvent frames from stdin,
// republishes each guest item as a synthetic StatusNotifierItem on the
// host session bus, and writes the resulting activation ServerEvent
// frames back out on stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/qubesos/sni-bridge/internal/daemon"
	"github.com/qubesos/sni-bridge/internal/wire"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("sni-daemon: fatal", "error", err)
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
		slog.Info("sni-daemon: received signal, shutting down")
		cancel()
	}()

	mgr := daemon.NewManager(os.Stdout, func() (daemon.BusConn, error) {
		return dbus.ConnectSessionBus()
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- readLoop(ctx, os.Stdin, mgr)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// readLoop decodes IconClientEvent frames one at a time and applies
// each to the Manager. Protocol violations (ErrNonIncreasingID,
// ErrIllegalIconType) are fatal for the whole process, per spec.md §7;
// everything else Apply returns is logged and the loop continues.
func readLoop(ctx context.Context, r io.Reader, mgr *daemon.Manager) error {
	for {
		evt, err := wire.ReadClientEvent(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("sni-daemon: read client event: %w", err)
		}

		if err := mgr.Apply(ctx, evt); err != nil {
			if errors.Is(err, daemon.ErrNonIncreasingID) || errors.Is(err, daemon.ErrIllegalIconType) {
				return fmt.Errorf("sni-daemon: protocol violation: %w", err)
			}
			slog.Warn("sni-daemon: applying event failed", "id", evt.ID, "error", err)
		}
	}
}
