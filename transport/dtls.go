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
	"sync"

	"github.com/pion/dtls/v3"
)

// DTLSTransport carries SNMP messages over DTLS/UDP (RFC 6353). A client
// dials one session per peer on first send; a server accepts sessions and
// answers each peer over the session it came in on.
type DTLSTransport struct {
	config *dtls.Config
	listen string
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	sessions map[string]net.Conn
	deliver  DeliverFunc
	open     bool
	wg       sync.WaitGroup
}

// NewDTLSClient returns a client-mode DTLS transport.
func NewDTLSClient(config *dtls.Config, logger *slog.Logger) *DTLSTransport {
	return newDTLS("", config, logger)
}

// NewDTLSServer returns a DTLS transport listening on address. Without a
// PSK callback, peers must present a certificate.
func NewDTLSServer(address string, config *dtls.Config, logger *slog.Logger) *DTLSTransport {
	return newDTLS(address, config, logger)
}

func newDTLS(listen string, config *dtls.Config, logger *slog.Logger) *DTLSTransport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config == nil {
		config = &dtls.Config{}
	}
	return &DTLSTransport{config: config, listen: listen, logger: logger, sessions: make(map[string]net.Conn)}
}

func (t *DTLSTransport) Domain() string { return DomainDTLS }

func (t *DTLSTransport) Open(deliver DeliverFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		return nil
	}
	t.deliver = deliver
	if t.listen != "" {
		udpAddr, err := net.ResolveUDPAddr("udp", t.listen)
		if err != nil {
			return err
		}
		if t.config.PSK == nil && t.config.ClientAuth == dtls.NoClientCert {
			t.config.ClientAuth = dtls.RequireAndVerifyClientCert
		}
		listener, err := dtls.Listen("udp", udpAddr, t.config)
		if err != nil {
			return fmt.Errorf("dtls listen %s: %w", t.listen, err)
		}
		t.listener = listener
		t.wg.Add(1)
		go t.acceptLoop(listener)
		t.logger.Debug("dtls transport open", "local", listener.Addr().String())
	}
	t.open = true
	return nil
}

func (t *DTLSTransport) acceptLoop(listener net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !t.isOpen() {
				return
			}
			t.logger.Warn("dtls accept", "error", err)
			continue
		}
		t.addSession(conn)
	}
}

func (t *DTLSTransport) isOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *DTLSTransport) addSession(conn net.Conn) {
	t.mu.Lock()
	if old, ok := t.sessions[conn.RemoteAddr().String()]; ok {
		_ = old.Close()
	}
	t.sessions[conn.RemoteAddr().String()] = conn
	deliver := t.deliver
	t.mu.Unlock()
	t.wg.Add(1)
	go t.readSession(conn, deliver)
}

func (t *DTLSTransport) readSession(conn net.Conn, deliver DeliverFunc) {
	defer t.wg.Done()
	key := conn.RemoteAddr().String()
	defer func() {
		t.mu.Lock()
		if t.sessions[key] == conn {
			delete(t.sessions, key)
		}
		t.mu.Unlock()
		_ = conn.Close()
	}()
	buf := make([]byte, DefaultBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				t.logger.Debug("dtls session ended", "peer", key, "error", err)
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		deliver(Datagram{Domain: DomainDTLS, Remote: conn.RemoteAddr(), Local: conn.LocalAddr(), Data: data})
	}
}

func (t *DTLSTransport) SendTo(data []byte, addr net.Addr) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("%w: %T", ErrAddressType, addr)
	}
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return ErrNotOpen
	}
	conn := t.sessions[udpAddr.String()]
	server := t.listener != nil
	t.mu.Unlock()

	if conn == nil {
		if server {
			return fmt.Errorf("dtls: no session with %s", udpAddr)
		}
		c, err := dtls.Dial("udp", udpAddr, t.config)
		if err != nil {
			return fmt.Errorf("dtls dial %s: %w", udpAddr, err)
		}
		t.addSession(c)
		conn = c
	}
	_, err := conn.Write(data)
	return err
}

// LocalAddr returns the listening address of a server, nil for clients.
func (t *DTLSTransport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *DTLSTransport) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	listener := t.listener
	t.listener = nil
	sessions := t.sessions
	t.sessions = make(map[string]net.Conn)
	t.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	for _, c := range sessions {
		_ = c.Close()
	}
	t.wg.Wait()
	return err
}
