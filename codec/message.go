// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

// Package codec encodes and decodes SNMP messages (v1, v2c, v3) on top of the
// asn1modsnmp BER codec.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

var (
	// ErrMalformed is returned when a message or PDU cannot be decoded.
	ErrMalformed = errors.New("malformed SNMP message")
	// ErrUnknownPDUType is returned for PDU tags outside 0..8.
	ErrUnknownPDUType = errors.New("unknown PDU type")
)

// DecodeVersion reads only the msgVersion field of a message.
func DecodeVersion(b []byte) (int, error) {
	var pkt SNMP_UnknownVersionPacket
	if _, err := ASNber.Unmarshal(b, &pkt); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return pkt.Version, nil
}

// EncodePDU marshals p into the context-specific PDU TLV.
//
// The body is marshalled as a plain SEQUENCE and re-wrapped with the PDU tag,
// which asn1modsnmp cannot express through struct tags.
func EncodePDU(p *PDU) (ASNber.RawValue, error) {
	var raw ASNber.RawValue
	if p == nil {
		return raw, fmt.Errorf("%w: nil PDU", ErrMalformed)
	}
	if p.Type < PDU_GET || p.Type > PDU_REPORT {
		return raw, fmt.Errorf("%w: %d", ErrUnknownPDUType, p.Type)
	}

	vbl := make([]SNMP_Packet_V2_VarBind, len(p.VarBinds))
	for i, vb := range p.VarBinds {
		vbl[i] = SNMP_Packet_V2_VarBind{RSnmpOID: vb.OID, RSnmpVar: Convert_setvar_toasn1raw(vb.Value)}
	}

	var body []byte
	var err error
	if p.Type == PDU_TRAPV1 {
		t := p.Trap
		if t == nil {
			return raw, fmt.Errorf("%w: v1 trap without header", ErrMalformed)
		}
		ts := make([]byte, 4)
		binary.BigEndian.PutUint32(ts, t.TimeStamp)
		body, err = ASNber.Marshal(SNMP_Packet_V1_Trap{
			Enterprise:   t.Enterprise,
			AgentAddr:    ASNber.RawValue{Class: ASNber.ClassApplication, Tag: SNMP_type_IPADDR, Bytes: agentAddr(t.AgentAddr)},
			GenericTrap:  t.GenericTrap,
			SpecificTrap: t.SpecificTrap,
			TimeStamp:    ASNber.RawValue{Class: ASNber.ClassApplication, Tag: SNMP_type_TIMETICKS, Bytes: minimalUnsigned(ts)},
			VarBinds:     vbl,
		})
	} else {
		body, err = ASNber.Marshal(SNMP_Packet_V2_PDU{
			RequestID:      p.RequestID,
			ErrorStatusRaw: p.ErrorStatus,
			ErrorIndexRaw:  p.ErrorIndex,
			VarBinds:       vbl,
		})
	}
	if err != nil {
		return raw, err
	}

	pure, err := ASNber.ExtractDataWOTagAndLen(body)
	if err != nil {
		return raw, err
	}
	raw.Class = ASNber.ClassContextSpecific
	raw.IsCompound = true
	raw.Tag = p.Type
	raw.Bytes = pure
	return raw, nil
}

// DecodePDU decodes a context-specific PDU TLV.
func DecodePDU(raw ASNber.RawValue) (*PDU, error) {
	if raw.Class != ASNber.ClassContextSpecific || len(raw.FullBytes) == 0 {
		return nil, fmt.Errorf("%w: PDU not found", ErrMalformed)
	}
	if raw.Tag < PDU_GET || raw.Tag > PDU_REPORT {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPDUType, raw.Tag)
	}

	// The PDU tag is not understood by Unmarshal; the body is a plain SEQUENCE.
	seq := append([]byte(nil), raw.FullBytes...)
	seq[0] = 0x30

	p := &PDU{Type: raw.Tag}
	var vbl []SNMP_Packet_V2_VarBind
	if raw.Tag == PDU_TRAPV1 {
		var t SNMP_Packet_V1_Trap
		if _, err := ASNber.Unmarshal(seq, &t); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		p.Trap = &TrapV1{
			Enterprise:   t.Enterprise,
			AgentAddr:    append([]byte(nil), t.AgentAddr.Bytes...),
			GenericTrap:  t.GenericTrap,
			SpecificTrap: t.SpecificTrap,
			TimeStamp:    Convert_snmpint_to_uint32(t.TimeStamp.Bytes),
		}
		vbl = t.VarBinds
	} else {
		var pdu SNMP_Packet_V2_PDU
		if _, err := ASNber.Unmarshal(seq, &pdu); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		p.RequestID = pdu.RequestID
		p.ErrorStatus = pdu.ErrorStatusRaw
		p.ErrorIndex = pdu.ErrorIndexRaw
		vbl = pdu.VarBinds
	}

	p.VarBinds = make([]VarBind, len(vbl))
	for i, vb := range vbl {
		p.VarBinds[i] = VarBind{OID: vb.RSnmpOID, Value: rawToVar(vb.RSnmpVar)}
	}
	return p, nil
}

// EncodeCommunityMessage builds a complete v1 or v2c message.
func EncodeCommunityMessage(version int, community []byte, p *PDU) ([]byte, error) {
	if version != SNMP_VERSION_1 && version != SNMP_VERSION_2C {
		return nil, fmt.Errorf("%w: community message version %d", ErrMalformed, version)
	}
	raw, err := EncodePDU(p)
	if err != nil {
		return nil, err
	}
	return ASNber.Marshal(SNMP_Packet_V2{Version: version, V2CcommunityString: community, V2VarBind: raw})
}

// DecodeCommunityMessage decodes a v1 or v2c message.
func DecodeCommunityMessage(b []byte) (*CommunityMessage, error) {
	var pkt SNMP_Packet_V2
	if _, err := ASNber.Unmarshal(b, &pkt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if pkt.Version != SNMP_VERSION_1 && pkt.Version != SNMP_VERSION_2C {
		return nil, fmt.Errorf("%w: community message version %d", ErrMalformed, pkt.Version)
	}
	p, err := DecodePDU(pkt.V2VarBind)
	if err != nil {
		return nil, err
	}
	return &CommunityMessage{Version: pkt.Version, Community: pkt.V2CcommunityString, PDU: p}, nil
}

// EncodeScopedPDU marshals a ScopedPDU; the result is the plaintext that priv
// protocols encrypt.
func EncodeScopedPDU(sp *ScopedPDU) ([]byte, error) {
	raw, err := EncodePDU(sp.PDU)
	if err != nil {
		return nil, err
	}
	return ASNber.Marshal(SNMPv3_PDU{
		ContextEngineId: nonNil(sp.ContextEngineID),
		ContextName:     nonNil(sp.ContextName),
		V2VarBind:       raw,
	})
}

// DecodeScopedPDU decodes a ScopedPDU. Trailing bytes (priv padding) are
// ignored.
func DecodeScopedPDU(b []byte) (*ScopedPDU, error) {
	var sp SNMPv3_PDU
	if _, err := ASNber.Unmarshal(b, &sp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p, err := DecodePDU(sp.V2VarBind)
	if err != nil {
		return nil, err
	}
	return &ScopedPDU{ContextEngineID: sp.ContextEngineId, ContextName: sp.ContextName, PDU: p}, nil
}

// PeekScopedPDUContext returns the context fields and the request-id of a
// plaintext ScopedPDU without requiring a well formed varbind list.
func PeekScopedPDUContext(b []byte) (ctxEngineID, ctxName []byte, requestID int32, ok bool) {
	var sp SNMPv3_PDU
	if _, err := ASNber.Unmarshal(b, &sp); err != nil {
		return nil, nil, 0, false
	}
	ctxEngineID, ctxName = sp.ContextEngineId, sp.ContextName
	if len(sp.V2VarBind.FullBytes) == 0 {
		return ctxEngineID, ctxName, 0, true
	}
	// request-id is the first INTEGER of the PDU body
	var hdr struct {
		RequestID int32
	}
	seq := append([]byte(nil), sp.V2VarBind.FullBytes...)
	seq[0] = 0x30
	if _, err := ASNber.Unmarshal(seq, &hdr); err == nil {
		requestID = hdr.RequestID
	}
	return ctxEngineID, ctxName, requestID, true
}

// EncodeSecurityParameters marshals UsmSecurityParameters.
func EncodeSecurityParameters(sp SNMPv3_SecSeq) ([]byte, error) {
	sp.AuthEng = nonNil(sp.AuthEng)
	sp.User = nonNil(sp.User)
	sp.AuthParams = nonNil(sp.AuthParams)
	sp.PrivParams = nonNil(sp.PrivParams)
	return ASNber.Marshal(sp)
}

// DecodeSecurityParameters unmarshals UsmSecurityParameters.
func DecodeSecurityParameters(b []byte) (SNMPv3_SecSeq, error) {
	var sp SNMPv3_SecSeq
	if _, err := ASNber.Unmarshal(b, &sp); err != nil {
		return sp, fmt.Errorf("%w: security parameters: %v", ErrMalformed, err)
	}
	return sp, nil
}

// EncodeV3Message assembles an SNMPv3 message. When m.Encrypted is set
// ScopedPDUData is carried as an OCTET STRING, otherwise it must already be a
// complete ScopedPDU TLV.
func EncodeV3Message(m *V3Message) ([]byte, error) {
	gd, err := ASNber.Marshal(SNMPv3_GlobalData{
		MsgID:            m.Header.MsgID,
		MsgMaxSize:       m.Header.MaxSize,
		MsgFlag:          []byte{m.Header.Flags},
		MsgSecurityModel: m.Header.SecurityModel,
	})
	if err != nil {
		return nil, err
	}

	var pkt SNMPv3_Packet
	pkt.Version = SNMP_VERSION_3
	pkt.GlobalData.FullBytes = gd
	pkt.SecuritySettings = m.SecurityParameters
	if m.Encrypted {
		pkt.PtData.Tag = ASNber.TagOctetString
		pkt.PtData.Bytes = nonNil(m.ScopedPDUData)
	} else {
		if len(m.ScopedPDUData) == 0 {
			return nil, fmt.Errorf("%w: empty scoped PDU", ErrMalformed)
		}
		pkt.PtData.FullBytes = m.ScopedPDUData
	}
	return ASNber.Marshal(pkt)
}

// DecodeV3Message splits an SNMPv3 message into its envelope parts. msgFlags
// must be exactly one octet (RFC 3412 §7.2 step 3 treats anything else as an
// invalid message).
func DecodeV3Message(b []byte) (*V3Message, error) {
	var pkt SNMPv3_Packet
	if _, err := ASNber.Unmarshal(b, &pkt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if pkt.Version != SNMP_VERSION_3 {
		return nil, fmt.Errorf("%w: version %d", ErrMalformed, pkt.Version)
	}
	var gd SNMPv3_GlobalData
	if _, err := ASNber.Unmarshal(pkt.GlobalData.FullBytes, &gd); err != nil {
		return nil, fmt.Errorf("%w: global data: %v", ErrMalformed, err)
	}
	if len(gd.MsgFlag) != 1 {
		return nil, fmt.Errorf("%w: msgFlags length %d", ErrMalformed, len(gd.MsgFlag))
	}
	if gd.MsgID < 0 || gd.MsgMaxSize < 484 {
		return nil, fmt.Errorf("%w: msgID %d msgMaxSize %d", ErrMalformed, gd.MsgID, gd.MsgMaxSize)
	}

	m := &V3Message{
		Header: HeaderData{
			MsgID:         gd.MsgID,
			MaxSize:       gd.MsgMaxSize,
			Flags:         gd.MsgFlag[0],
			SecurityModel: gd.MsgSecurityModel,
		},
		SecurityParameters: pkt.SecuritySettings,
	}
	switch {
	case pkt.PtData.Class == ASNber.ClassUniversal && pkt.PtData.Tag == ASNber.TagOctetString:
		m.Encrypted = true
		m.ScopedPDUData = pkt.PtData.Bytes
	case pkt.PtData.Class == ASNber.ClassUniversal && pkt.PtData.Tag == ASNber.TagSequence:
		m.ScopedPDUData = pkt.PtData.FullBytes
	default:
		return nil, fmt.Errorf("%w: msgData tag %d", ErrMalformed, pkt.PtData.Tag)
	}
	return m, nil
}

func rawToVar(r ASNber.RawValue) SNMPVar {
	v := SNMPVar{ValueType: r.Tag, ValueClass: r.Class, IsCompound: r.IsCompound}
	if len(r.Bytes) > 0 {
		v.Value = r.Bytes
	}
	return v
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func agentAddr(a []byte) []byte {
	if len(a) == 4 {
		return a
	}
	return []byte{0, 0, 0, 0}
}

// minimalUnsigned strips redundant leading zero octets of a big-endian
// unsigned value, keeping one zero when the high bit would read as a sign.
func minimalUnsigned(b []byte) []byte {
	for len(b) > 1 && b[0] == 0 && b[1]&0x80 == 0 {
		b = b[1:]
	}
	if b[0]&0x80 != 0 {
		b = append([]byte{0}, b...)
	}
	return b
}
