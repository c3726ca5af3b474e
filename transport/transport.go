// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

// Package transport moves SNMP datagrams between the network and the engine.
// A Dispatcher owns the registered transports and runs the single event loop
// that delivers received messages and fires timer callbacks.
package transport

//go:generate mockgen -destination=transportmock/transport.go -package=transportmock github.com/OlegPowerC/powersnmpengine/transport Transport

import (
	"errors"
	"net"
)

// Transport domains (SNMPv2-TM, TRANSPORT-ADDRESS-MIB, RFC 6353).
const (
	DomainUDPv4 = "1.3.6.1.6.1.1"
	DomainUDPv6 = "1.3.6.1.2.1.100.1.2"
	DomainUnix  = "1.3.6.1.2.1.100.1.13"
	DomainDTLS  = "1.3.6.1.6.1.9"
)

// DefaultBufferSize fits the largest UDP payload.
const DefaultBufferSize = 65535

var (
	ErrClosed           = errors.New("transport closed")
	ErrNotOpen          = errors.New("transport not open")
	ErrUnknownDomain    = errors.New("no transport for domain")
	ErrDomainRegistered = errors.New("domain already registered")
	ErrAlreadyRunning   = errors.New("dispatcher loop already running")
	ErrAddressType      = errors.New("address type does not match transport")
)

// Datagram is one message received by a transport.
type Datagram struct {
	Domain string
	Remote net.Addr
	Local  net.Addr
	Data   []byte
}

// DeliverFunc receives datagrams from a transport's reader goroutine. It must
// not keep Data beyond the call unless it owns a copy; transports hand over a
// fresh slice per datagram.
type DeliverFunc func(Datagram)

// Transport is one network endpoint of a transport domain.
type Transport interface {
	// Domain returns the transport domain OID string.
	Domain() string
	// Open binds the endpoint and starts delivering received datagrams.
	Open(deliver DeliverFunc) error
	// SendTo sends one datagram.
	SendTo(data []byte, addr net.Addr) error
	// LocalAddr returns the bound address, nil before Open.
	LocalAddr() net.Addr
	// Close releases the endpoint; pending reads end.
	Close() error
}

// ResolveAddr parses host:port (or a socket path for the Unix domain) into
// the net.Addr a transport of domain accepts.
func ResolveAddr(domain, address string) (net.Addr, error) {
	switch domain {
	case DomainUDPv4:
		return net.ResolveUDPAddr("udp4", address)
	case DomainDTLS:
		return net.ResolveUDPAddr("udp", address)
	case DomainUDPv6:
		return net.ResolveUDPAddr("udp6", address)
	case DomainUnix:
		return net.ResolveUnixAddr("unixgram", address)
	}
	return nil, ErrUnknownDomain
}
