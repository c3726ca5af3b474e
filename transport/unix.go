// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// UnixTransport is a local datagram socket endpoint.
type UnixTransport struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	conn *net.UnixConn
	wg   sync.WaitGroup
}

// NewUnixClient binds a uniquely named socket in the temporary directory so
// that responses can be received.
func NewUnixClient(logger *slog.Logger) *UnixTransport {
	path := filepath.Join(os.TempDir(), "snmp-"+uuid.NewString()+".sock")
	return newUnix(path, logger)
}

// NewUnixServer binds path; a stale socket file left by a previous run is
// removed first.
func NewUnixServer(path string, logger *slog.Logger) *UnixTransport {
	return newUnix(path, logger)
}

func newUnix(path string, logger *slog.Logger) *UnixTransport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &UnixTransport{path: path, logger: logger}
}

func (t *UnixTransport) Domain() string { return DomainUnix }

func (t *UnixTransport) Open(deliver DeliverFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	if fi, err := os.Lstat(t.path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		_ = os.Remove(t.path)
	}
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: t.path, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("unix listen %s: %w", t.path, err)
	}
	t.conn = conn
	t.wg.Add(1)
	go t.readLoop(conn, deliver)
	t.logger.Debug("unix transport open", "path", t.path)
	return nil
}

func (t *UnixTransport) readLoop(conn *net.UnixConn, deliver DeliverFunc) {
	defer t.wg.Done()
	buf := make([]byte, DefaultBufferSize)
	for {
		n, addr, err := conn.ReadFromUnix(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("unix read", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		var remote net.Addr
		if addr != nil {
			remote = addr
		}
		deliver(Datagram{Domain: DomainUnix, Remote: remote, Local: conn.LocalAddr(), Data: data})
	}
}

func (t *UnixTransport) SendTo(data []byte, addr net.Addr) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	ua, ok := addr.(*net.UnixAddr)
	if !ok {
		return fmt.Errorf("%w: %T", ErrAddressType, addr)
	}
	_, err := conn.WriteToUnix(data, ua)
	return err
}

func (t *UnixTransport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

func (t *UnixTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	t.wg.Wait()
	_ = os.Remove(t.path)
	return err
}
