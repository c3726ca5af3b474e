// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

// Package capture writes the datagrams seen by a transport dispatcher to a
// pcap file, so engine traffic can be inspected with Wireshark or tcpdump.
// DTLS traffic is recorded as the decrypted SNMP payload.
package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/OlegPowerC/powersnmpengine/transport"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const snapLen = 65536

// Recorder is a transport.Observer writing raw-IP pcap records.
type Recorder struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	closer  io.Closer
	now     func() time.Time
	logger  *slog.Logger
	written int
	skipped int
}

// NewRecorder writes the pcap file header to w.
func NewRecorder(w io.Writer, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeRaw); err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	r := &Recorder{w: pw, now: time.Now, logger: logger}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r, nil
}

// Create truncates path and records into it.
func Create(path string, logger *slog.Logger) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	r, err := NewRecorder(f, logger)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

var errNotIP = errors.New("address is not UDP")

// Observe implements transport.Observer. Datagrams of non-IP domains are
// counted as skipped.
func (r *Recorder) Observe(dir transport.Direction, domain string, local, remote net.Addr, data []byte) {
	src, dst := local, remote
	if dir == transport.Inbound {
		src, dst = remote, local
	}
	pkt, err := encodeUDP(src, dst, data)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.skipped++
		return
	}
	ts := r.now()
	if err := r.w.WritePacket(gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(pkt), Length: len(pkt)}, pkt); err != nil {
		r.logger.Warn("pcap write", "error", err)
		r.skipped++
		return
	}
	r.written++
}

// Stats returns the number of written and skipped datagrams.
func (r *Recorder) Stats() (written, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written, r.skipped
}

// Close closes the underlying writer when it is an io.Closer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

func udpEndpoint(a net.Addr) (net.IP, int, bool) {
	ua, ok := a.(*net.UDPAddr)
	if !ok || ua == nil {
		return nil, 0, false
	}
	return ua.IP, ua.Port, true
}

func encodeUDP(src, dst net.Addr, data []byte) ([]byte, error) {
	sip, sport, ok1 := udpEndpoint(src)
	dip, dport, ok2 := udpEndpoint(dst)
	if !ok1 && !ok2 {
		return nil, errNotIP
	}
	v6 := (sip != nil && sip.To4() == nil) || (dip != nil && dip.To4() == nil)
	if sip == nil || sip.IsUnspecified() {
		sip = loopback(v6)
	}
	if dip == nil || dip.IsUnspecified() {
		dip = loopback(v6)
	}
	if len(data) > 65535-8-40 {
		return nil, fmt.Errorf("payload of %d bytes", len(data))
	}

	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	var network gopacket.SerializableLayer
	if v6 {
		ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP, SrcIP: sip.To16(), DstIP: dip.To16()}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		network = ip
	} else {
		ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: sip.To4(), DstIP: dip.To4()}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		network = ip
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, network, udp, gopacket.Payload(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func loopback(v6 bool) net.IP {
	if v6 {
		return net.IPv6loopback
	}
	return net.IPv4(127, 0, 0, 1)
}
