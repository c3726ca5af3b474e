// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package config

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	PowerSNMP "github.com/OlegPowerC/powersnmpengine"
	"github.com/OlegPowerC/powersnmpengine/codec"
	"github.com/OlegPowerC/powersnmpengine/logging"
	"github.com/OlegPowerC/powersnmpengine/transport"
	"github.com/OlegPowerC/powersnmpengine/usm"
	"github.com/pion/dtls/v3"
)

// Default ports per domain.
const (
	DefaultPort     = "161"
	DefaultDTLSPort = "10161"
)

// Domain maps a configuration domain name to its transport domain OID.
func Domain(name string) (string, error) {
	switch name {
	case "", "udp4":
		return transport.DomainUDPv4, nil
	case "udp6":
		return transport.DomainUDPv6, nil
	case "unix":
		return transport.DomainUnix, nil
	case "dtls":
		return transport.DomainDTLS, nil
	}
	return "", fmt.Errorf("%w: %q", transport.ErrUnknownDomain, name)
}

func decodeHex(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(strings.TrimPrefix(strings.ToLower(s), "0x"))
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// EngineConfig converts the engine section into the NewEngine configuration.
func (c *Config) EngineConfig(logger *slog.Logger) (PowerSNMP.Config, error) {
	s := c.Engine
	engineID, err := decodeHex(s.EngineID)
	if err != nil {
		return PowerSNMP.Config{}, fmt.Errorf("engine.engineID: %w", err)
	}
	poll, err := parseDuration(s.PollInterval)
	if err != nil {
		return PowerSNMP.Config{}, fmt.Errorf("engine.pollInterval: %w", err)
	}
	ttl, err := parseDuration(s.TimelineTTL)
	if err != nil {
		return PowerSNMP.Config{}, fmt.Errorf("engine.timelineTTL: %w", err)
	}
	timeout, err := parseDuration(s.DefaultTimeout)
	if err != nil {
		return PowerSNMP.Config{}, fmt.Errorf("engine.defaultTimeout: %w", err)
	}
	retries := s.DefaultRetries
	if retries == 0 {
		// zero means "no retries" in the file, "default" in PowerSNMP.Config
		retries = -1
	}
	return PowerSNMP.Config{
		EngineID:         engineID,
		BootsFile:        s.BootsFile,
		PollInterval:     poll,
		DisableDiscovery: s.DisableDiscovery,
		TimelineTTL:      ttl,
		TimelineCapacity: s.TimelineCapacity,
		DefaultTimeout:   timeout,
		DefaultRetries:   retries,
		MaxMsgSize:       s.MaxMsgSize,
		Logger:           logger,
	}, nil
}

// LoggingConfig returns the logging section.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		Output:    c.Logging.Output,
		AddSource: c.Logging.AddSource,
	}
}

// USM converts the user entry.
func (u UserConfig) USM() (usm.UserConfig, error) {
	auth, err := usm.ParseAuthProtocol(u.AuthProtocol)
	if err != nil {
		return usm.UserConfig{}, fmt.Errorf("user %s: %w", u.Name, err)
	}
	priv, err := usm.ParsePrivProtocol(u.PrivProtocol)
	if err != nil {
		return usm.UserConfig{}, fmt.Errorf("user %s: %w", u.Name, err)
	}
	engineID, err := decodeHex(u.EngineID)
	if err != nil {
		return usm.UserConfig{}, fmt.Errorf("user %s: engineID: %w", u.Name, err)
	}
	return usm.UserConfig{
		Name:           u.Name,
		EngineID:       engineID,
		AuthProtocol:   auth,
		AuthPassphrase: u.AuthPassphrase,
		PrivProtocol:   priv,
		PrivPassphrase: u.PrivPassphrase,
	}, nil
}

// Community converts the community entry. The name defaults to the
// community string.
func (cc CommunityConfig) Community() PowerSNMP.Community {
	if cc.Name == "" {
		cc.Name = cc.Community
	}
	access := PowerSNMP.ACCESS_READONLY
	if cc.Access == "rw" {
		access = PowerSNMP.ACCESS_READWRITE
	}
	return PowerSNMP.Community{
		Name:         cc.Name,
		Community:    cc.Community,
		SecurityName: cc.SecurityName,
		Access:       access,
		ContextName:  cc.ContextName,
	}
}

func (t TargetConfig) version() string {
	if t.Version == nil {
		return "2c"
	}
	return fmt.Sprint(t.Version)
}

// Target resolves the target address and converts the entry.
func (t TargetConfig) Target() (PowerSNMP.Target, error) {
	domain, err := Domain(t.Domain)
	if err != nil {
		return PowerSNMP.Target{}, fmt.Errorf("target %s: %w", t.Name, err)
	}
	addr, err := ResolveAddress(domain, t.Address)
	if err != nil {
		return PowerSNMP.Target{}, fmt.Errorf("target %s: %w", t.Name, err)
	}
	out := PowerSNMP.Target{
		Domain:      domain,
		Address:     addr,
		Community:   t.Community,
		ContextName: t.ContextName,
		Retries:     t.Retries,
		MaxMsgSize:  t.MaxMsgSize,
	}
	switch t.version() {
	case "1":
		out.Version = codec.SNMP_VERSION_1
	case "2c":
		out.Version = codec.SNMP_VERSION_2C
	case "3":
		out.Version = codec.SNMP_VERSION_3
		out.SecurityName = t.SecurityName
		switch t.SecurityLevel {
		case "authPriv":
			out.SecurityLevel = usm.SECLEVEL_AUTHPRIV
		case "authNoPriv":
			out.SecurityLevel = usm.SECLEVEL_AUTHNOPRIV
		default:
			out.SecurityLevel = usm.SECLEVEL_NOAUTH_NOPRIV
		}
	default:
		return PowerSNMP.Target{}, fmt.Errorf("target %s: %w: %s", t.Name, PowerSNMP.ErrUnsupportedVersion, t.version())
	}
	if out.EngineID, err = decodeHex(t.EngineID); err != nil {
		return PowerSNMP.Target{}, fmt.Errorf("target %s: engineID: %w", t.Name, err)
	}
	if out.Timeout, err = parseDuration(t.Timeout); err != nil {
		return PowerSNMP.Target{}, fmt.Errorf("target %s: timeout: %w", t.Name, err)
	}
	if out.Version != codec.SNMP_VERSION_3 && out.Community == "" {
		out.Community = "public"
	}
	return out, nil
}

// ResolveAddress parses address for a transport domain. UDP and DTLS
// addresses without a port get the default one.
func ResolveAddress(domain, address string) (net.Addr, error) {
	switch domain {
	case transport.DomainUnix:
		return &net.UnixAddr{Name: address, Net: "unixgram"}, nil
	case transport.DomainUDPv4, transport.DomainUDPv6, transport.DomainDTLS:
		port := DefaultPort
		if domain == transport.DomainDTLS {
			port = DefaultDTLSPort
		}
		if _, _, err := net.SplitHostPort(address); err != nil {
			address = net.JoinHostPort(strings.Trim(address, "[]"), port)
		}
		network := "udp4"
		switch domain {
		case transport.DomainUDPv6:
			network = "udp6"
		case transport.DomainDTLS:
			network = "udp"
		}
		return net.ResolveUDPAddr(network, address)
	}
	return nil, fmt.Errorf("%w: %s", transport.ErrUnknownDomain, domain)
}

// Transport builds the transport described by tc. It is not opened.
func (tc TransportConfig) Transport(logger *slog.Logger) (transport.Transport, error) {
	logger = logging.Component(logger, logging.ComponentTransport)
	switch tc.Domain {
	case "udp4", "udp6":
		if tc.Address == "" {
			return transport.NewUDPClient(tc.Domain, logger), nil
		}
		return transport.NewUDPServer(tc.Domain, tc.Address, tc.ReuseAddr, logger), nil
	case "unix":
		if tc.Address == "" {
			return transport.NewUnixClient(logger), nil
		}
		return transport.NewUnixServer(tc.Address, logger), nil
	case "dtls":
		cfg, err := tc.DTLS.dtlsConfig()
		if err != nil {
			return nil, fmt.Errorf("transport dtls: %w", err)
		}
		if tc.Address == "" {
			return transport.NewDTLSClient(cfg, logger), nil
		}
		return transport.NewDTLSServer(tc.Address, cfg, logger), nil
	}
	return nil, fmt.Errorf("%w: %q", transport.ErrUnknownDomain, tc.Domain)
}

func (d *DTLSConfig) dtlsConfig() (*dtls.Config, error) {
	cfg := &dtls.Config{ExtendedMasterSecret: dtls.RequireExtendedMasterSecret}
	if d == nil {
		return cfg, nil
	}
	if d.PSK != "" {
		key, err := decodeHex(d.PSK)
		if err != nil {
			return nil, fmt.Errorf("psk: %w", err)
		}
		cfg.PSK = func([]byte) ([]byte, error) { return key, nil }
		cfg.PSKIdentityHint = []byte(d.PSKIdentity)
		cfg.CipherSuites = []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256, dtls.TLS_PSK_WITH_AES_128_CCM_8}
	}
	if d.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(d.CertFile, d.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if d.CAFile != "" {
		pem, err := os.ReadFile(d.CAFile)
		if err != nil {
			return nil, fmt.Errorf("ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("ca: no certificates found")
		}
		cfg.RootCAs = pool
		cfg.ClientCAs = pool
		cfg.ClientAuth = dtls.RequireAndVerifyClientCert
	}
	cfg.InsecureSkipVerify = d.InsecureSkipVerify
	return cfg, nil
}

// Var converts the object value according to its type.
func (o ObjectConfig) Var() (codec.SNMPVar, error) {
	raw := fmt.Sprint(o.Value)
	switch o.Type {
	case "", "octetstring":
		return codec.SetSNMPVar_OctetString(raw), nil
	case "integer":
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return codec.SNMPVar{}, err
		}
		return codec.SetSNMPVar_Int(int32(v)), nil
	case "counter32", "gauge32", "timeticks":
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return codec.SNMPVar{}, err
		}
		switch o.Type {
		case "counter32":
			return codec.SetSNMPVar_Counter32(uint32(v)), nil
		case "gauge32":
			return codec.SetSNMPVar_Gauge32(uint32(v)), nil
		}
		return codec.SetSNMPVar_TimeTicks(uint32(v)), nil
	case "counter64":
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return codec.SNMPVar{}, err
		}
		return codec.SetSNMPVar_Counter64(v), nil
	case "oid":
		oid, err := codec.Convert_OID_StringToIntArray_RAW(raw)
		if err != nil {
			return codec.SNMPVar{}, err
		}
		return codec.SetSNMPVar_OID(oid)
	case "ipaddress":
		ip := net.ParseIP(raw)
		if ip == nil {
			return codec.SNMPVar{}, fmt.Errorf("bad IP address %q", raw)
		}
		return codec.SetSNMPVar_IpAddr(ip)
	}
	return codec.SNMPVar{}, fmt.Errorf("unknown type %q", o.Type)
}

// MIB builds the responder's object store.
func (r ResponderSection) MIB() (*PowerSNMP.MemoryMIB, error) {
	mib := PowerSNMP.NewMemoryMIB()
	for _, o := range r.Objects {
		oid, err := codec.Convert_OID_StringToIntArray_RAW(o.OID)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", o.OID, err)
		}
		v, err := o.Var()
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", o.OID, err)
		}
		if o.ReadOnly {
			mib.SetReadOnly(oid, v)
		} else {
			mib.Set(oid, v)
		}
	}
	return mib, nil
}
