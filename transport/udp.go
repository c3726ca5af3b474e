// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

// UDPTransport is a UDP/IPv4 or UDP/IPv6 endpoint.
type UDPTransport struct {
	network    string
	bind       string
	reuseAddr  bool
	bufferSize int
	logger     *slog.Logger

	mu   sync.Mutex
	conn net.PacketConn
	wg   sync.WaitGroup
}

// NewUDPClient returns a client-mode transport bound to an ephemeral port.
// network is "udp4" or "udp6".
func NewUDPClient(network string, logger *slog.Logger) *UDPTransport {
	bind := "0.0.0.0:0"
	if network == "udp6" {
		bind = "[::]:0"
	}
	return newUDP(network, bind, false, logger)
}

// NewUDPServer returns a server-mode transport bound to address, optionally
// with SO_REUSEADDR.
func NewUDPServer(network, address string, reuseAddr bool, logger *slog.Logger) *UDPTransport {
	return newUDP(network, address, reuseAddr, logger)
}

func newUDP(network, bind string, reuseAddr bool, logger *slog.Logger) *UDPTransport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &UDPTransport{
		network:    network,
		bind:       bind,
		reuseAddr:  reuseAddr,
		bufferSize: DefaultBufferSize,
		logger:     logger,
	}
}

func (t *UDPTransport) Domain() string {
	if t.network == "udp6" {
		return DomainUDPv6
	}
	return DomainUDPv4
}

func (t *UDPTransport) Open(deliver DeliverFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	lc := net.ListenConfig{}
	if t.reuseAddr {
		lc.Control = reuseAddrControl
	}
	conn, err := lc.ListenPacket(context.Background(), t.network, t.bind)
	if err != nil {
		return fmt.Errorf("udp listen %s: %w", t.bind, err)
	}
	t.conn = conn
	t.wg.Add(1)
	go t.readLoop(conn, deliver)
	t.logger.Debug("udp transport open", "local", conn.LocalAddr().String())
	return nil
}

func (t *UDPTransport) readLoop(conn net.PacketConn, deliver DeliverFunc) {
	defer t.wg.Done()
	buf := make([]byte, t.bufferSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("udp read", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		deliver(Datagram{Domain: t.Domain(), Remote: addr, Local: conn.LocalAddr(), Data: data})
	}
}

func (t *UDPTransport) SendTo(data []byte, addr net.Addr) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	if _, ok := addr.(*net.UDPAddr); !ok {
		return fmt.Errorf("%w: %T", ErrAddressType, addr)
	}
	_, err := conn.WriteTo(data, addr)
	return err
}

func (t *UDPTransport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

func (t *UDPTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	t.wg.Wait()
	return err
}
