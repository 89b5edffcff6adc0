package packages

import (
	"context"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	pkService     = "org.freedesktop.PackageKit"
	pkPath        = dbus.ObjectPath("/org/freedesktop/PackageKit")
	pkIface       = "org.freedesktop.PackageKit"
	pkTxIface     = "org.freedesktop.PackageKit.Transaction"
	signalBufSize = 64
)

type systemBus struct {
	conn *dbus.Conn
}

// DialSystemBus connects to the system bus PackageKit lives on
func DialSystemBus() (Bus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	return &systemBus{conn: conn}, nil
}

func (s *systemBus) Ping(ctx context.Context) error {
	return s.conn.Object(pkService, pkPath).
		CallWithContext(ctx, "org.freedesktop.DBus.Peer.Ping", 0).Err
}

func (s *systemBus) CreateTransaction(ctx context.Context) (BusTransaction, error) {
	var path dbus.ObjectPath
	if err := s.conn.Object(pkService, pkPath).
		CallWithContext(ctx, pkIface+".CreateTransaction", 0).Store(&path); err != nil {
		return nil, err
	}

	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(pkTxIface),
	}
	if err := s.conn.AddMatchSignal(match...); err != nil {
		return nil, err
	}

	raw := make(chan *dbus.Signal, signalBufSize)
	s.conn.Signal(raw)

	tx := &busTransaction{
		conn:    s.conn,
		path:    path,
		match:   match,
		raw:     raw,
		signals: make(chan Signal, signalBufSize),
		done:    make(chan struct{}),
	}
	go tx.forward()
	return tx, nil
}

func (s *systemBus) Close() error {
	return s.conn.Close()
}

type busTransaction struct {
	conn    *dbus.Conn
	path    dbus.ObjectPath
	match   []dbus.MatchOption
	raw     chan *dbus.Signal
	signals chan Signal
	done    chan struct{}
}

// forward passes on signals emitted by this transaction object only
func (t *busTransaction) forward() {
	defer close(t.signals)
	for {
		select {
		case <-t.done:
			return
		case sig, ok := <-t.raw:
			if !ok {
				return
			}
			if sig.Path != t.path || !strings.HasPrefix(sig.Name, pkTxIface+".") {
				continue
			}
			select {
			case t.signals <- Signal{Name: strings.TrimPrefix(sig.Name, pkTxIface+"."), Body: sig.Body}:
			case <-t.done:
				return
			}
		}
	}
}

func (t *busTransaction) Call(ctx context.Context, method string, args ...interface{}) error {
	return t.conn.Object(pkService, t.path).CallWithContext(ctx, pkTxIface+"."+method, 0, args...).Err
}

func (t *busTransaction) Signals() <-chan Signal {
	return t.signals
}

func (t *busTransaction) Close() {
	t.conn.RemoveSignal(t.raw)
	_ = t.conn.RemoveMatchSignal(t.match...)
	close(t.done)
}
