//go:build !integration

// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMP

import (
	"bytes"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OlegPowerC/powersnmpengine/transport"
	"github.com/stretchr/testify/require"
)

// memNet connects memTransports by address without touching the network.
type memNet struct {
	mu    sync.Mutex
	nodes map[string]*memTransport
	// drop, when set, discards the datagrams it returns true for
	drop func(from, to net.Addr, data []byte) bool
}

func newMemNet() *memNet {
	return &memNet{nodes: make(map[string]*memTransport)}
}

func (n *memNet) setDrop(fn func(from, to net.Addr, data []byte) bool) {
	n.mu.Lock()
	n.drop = fn
	n.mu.Unlock()
}

func (n *memNet) endpoint(port int) *memTransport {
	return &memTransport{net: n, addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}}
}

type memTransport struct {
	net  *memNet
	addr *net.UDPAddr
	sent atomic.Int32

	mu      sync.Mutex
	deliver transport.DeliverFunc
	closed  bool
}

func (t *memTransport) Domain() string { return transport.DomainUDPv4 }

func (t *memTransport) Open(deliver transport.DeliverFunc) error {
	t.mu.Lock()
	t.deliver = deliver
	t.mu.Unlock()
	t.net.mu.Lock()
	t.net.nodes[t.addr.String()] = t
	t.net.mu.Unlock()
	return nil
}

func (t *memTransport) SendTo(data []byte, addr net.Addr) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	t.sent.Add(1)
	t.net.mu.Lock()
	dst := t.net.nodes[addr.String()]
	drop := t.net.drop
	t.net.mu.Unlock()
	if dst == nil || (drop != nil && drop(t.addr, addr, data)) {
		return nil
	}
	dst.mu.Lock()
	deliver := dst.deliver
	dst.mu.Unlock()
	if deliver != nil {
		deliver(transport.Datagram{Domain: transport.DomainUDPv4, Remote: t.addr, Local: dst.addr, Data: bytes.Clone(data)})
	}
	return nil
}

func (t *memTransport) LocalAddr() net.Addr { return t.addr }

func (t *memTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.deliver = nil
	t.mu.Unlock()
	t.net.mu.Lock()
	delete(t.net.nodes, t.addr.String())
	t.net.mu.Unlock()
	return nil
}

// newTestEngine creates an engine on the memNet endpoint port. It is closed
// with the test.
func newTestEngine(t *testing.T, n *memNet, port int, cfg Config) (*Engine, *memTransport) {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 100 * time.Millisecond
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	tr := n.endpoint(port)
	require.NoError(t, e.AddTransport(tr))
	t.Cleanup(func() { _ = e.Close() })
	return e, tr
}

// startAgent runs the loop of e until the test ends.
func startAgent(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	e.Start(ctx)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
