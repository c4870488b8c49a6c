package sleep

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/nugget/hostreporter/internal/buildinfo"
)

const (
	logindDest      = "org.freedesktop.login1"
	logindPath      = dbus.ObjectPath("/org/freedesktop/login1")
	logindManager   = "org.freedesktop.login1.Manager"
	prepareForSleep = "PrepareForSleep"
	inhibitWhy      = "Need to report unavailability before sleep"
)

// Logind watches systemd-logind on the system bus.
type Logind struct {
	conn   *dbus.Conn
	logger *slog.Logger
}

// NewLogind connects to the system bus.
func NewLogind(logger *slog.Logger) (*Logind, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &Logind{conn: conn, logger: logger}, nil
}

// Close closes the bus connection.
func (l *Logind) Close() error {
	return l.conn.Close()
}

// Events subscribes to PrepareForSleep. The returned channel closes when
// ctx is done or the bus connection drops.
func (l *Logind) Events(ctx context.Context) (<-chan Event, error) {
	if err := l.conn.AddMatchSignalContext(ctx,
		dbus.WithMatchInterface(logindManager),
		dbus.WithMatchMember(prepareForSleep),
	); err != nil {
		return nil, fmt.Errorf("match %s: %w", prepareForSleep, err)
	}

	signals := make(chan *dbus.Signal, 4)
	l.conn.Signal(signals)

	out := make(chan Event)
	go func() {
		defer close(out)
		defer l.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					l.logger.Warn("system bus signal channel closed")
					return
				}
				ev, ok := parseSignal(sig)
				if !ok {
					continue
				}
				l.logger.Debug("logind power event", "event", ev.String())
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func parseSignal(sig *dbus.Signal) (Event, bool) {
	if sig == nil || sig.Name != logindManager+"."+prepareForSleep || len(sig.Body) != 1 {
		return 0, false
	}
	start, ok := sig.Body[0].(bool)
	if !ok {
		return 0, false
	}
	if start {
		return PreparingSleep, true
	}
	return WakingUp, true
}

// Inhibit takes a "delay" sleep lock held by the returned file descriptor.
func (l *Logind) Inhibit(ctx context.Context) (io.Closer, error) {
	var fd dbus.UnixFD
	obj := l.conn.Object(logindDest, logindPath)
	call := obj.CallWithContext(ctx, logindManager+".Inhibit", 0,
		"sleep", buildinfo.Name, inhibitWhy, "delay")
	if err := call.Store(&fd); err != nil {
		return nil, fmt.Errorf("logind inhibit: %w", err)
	}
	return &fdLock{fd: int(fd)}, nil
}

// fdLock releases an inhibitor lock by closing its descriptor.
type fdLock struct {
	fd   int
	once sync.Once
	err  error
}

func (f *fdLock) Close() error {
	f.once.Do(func() { f.err = unix.Close(f.fd) })
	return f.err
}
