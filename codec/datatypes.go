// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package codec

import (
	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

// Wire structures. Field order follows the ASN.1 SEQUENCE definitions of
// RFC 1157, RFC 3416 and RFC 3412; asn1modsnmp maps them positionally.

type SNMP_UnknownVersionPacket struct {
	Version int
	PtData  ASNber.RawValue
}

type SNMP_Packet_V2 struct {
	Version            int
	V2CcommunityString []byte
	V2VarBind          ASNber.RawValue
}

type SNMPv3_Packet struct {
	Version          int
	GlobalData       ASNber.RawValue
	SecuritySettings []byte
	PtData           ASNber.RawValue
}

type SNMPv3_GlobalData struct {
	MsgID            int32
	MsgMaxSize       int
	MsgFlag          []byte
	MsgSecurityModel int
}

// SNMPv3_SecSeq is UsmSecurityParameters (RFC 3414 §2.4).
type SNMPv3_SecSeq struct {
	AuthEng    []byte
	Boots      int32
	Time       int32
	User       []byte
	AuthParams []byte
	PrivParams []byte
}

type SNMPv3_PDU struct {
	ContextEngineId []byte
	ContextName     []byte
	V2VarBind       ASNber.RawValue
}

type SNMP_Packet_V2_PDU struct {
	RequestID      int32
	ErrorStatusRaw int32
	ErrorIndexRaw  int32
	VarBinds       []SNMP_Packet_V2_VarBind
}

// SNMP_Packet_V1_Trap is the RFC 1157 Trap-PDU body.
type SNMP_Packet_V1_Trap struct {
	Enterprise   ASNber.ObjectIdentifier
	AgentAddr    ASNber.RawValue
	GenericTrap  int
	SpecificTrap int
	TimeStamp    ASNber.RawValue
	VarBinds     []SNMP_Packet_V2_VarBind
}

type SNMP_Packet_V2_VarBind struct {
	RSnmpOID ASNber.ObjectIdentifier
	RSnmpVar ASNber.RawValue
}

// SNMPVar represents a decoded VarBind value.
//
// Fields:
//
//	ValueType  - Tag Number: INTEGER=2, OCTET STRING=4, OID=6, COUNTER32=1
//	ValueClass - Class: 0=Universal, 1=Application, 2=ContextSpecific (exceptions)
//	IsCompound - Constructed flag
//	Value      - raw BER content octets, no TLV wrapper
//
// BER: 41 04 C0 A8 01 01 → SNMPVar{ValueType:0, ValueClass:1, Value:[192 168 1 1]}
type SNMPVar struct {
	ValueType  int
	ValueClass int
	IsCompound bool
	Value      []byte
}

var SNMPvbNullValue = SNMPVar{ValueType: ASNber.TagNull}

// VarBind is one decoded (OID, value) pair.
type VarBind struct {
	OID   ASNber.ObjectIdentifier
	Value SNMPVar
}

// TrapV1 carries the RFC 1157 specific fields of a v1 Trap-PDU.
type TrapV1 struct {
	Enterprise   ASNber.ObjectIdentifier
	AgentAddr    []byte
	GenericTrap  int
	SpecificTrap int
	TimeStamp    uint32
}

// PDU is the version independent decoded form of every PDU type.
//
// For GETBULK the ErrorStatus and ErrorIndex fields carry non-repeaters and
// max-repetitions (RFC 3416 §4.2.3); use NonRepeaters/MaxRepetitions.
type PDU struct {
	Type        int
	RequestID   int32
	ErrorStatus int32
	ErrorIndex  int32
	VarBinds    []VarBind
	Trap        *TrapV1
}

// NewBulkPDU builds a GETBULK request.
func NewBulkPDU(nonRepeaters, maxRepetitions int32, oids ...ASNber.ObjectIdentifier) *PDU {
	p := &PDU{Type: PDU_GETBULK, ErrorStatus: nonRepeaters, ErrorIndex: maxRepetitions}
	for _, o := range oids {
		p.VarBinds = append(p.VarBinds, VarBind{OID: o, Value: SNMPvbNullValue})
	}
	return p
}

// NewPDU builds a request of type pduType with NULL values for every OID.
func NewPDU(pduType int, oids ...ASNber.ObjectIdentifier) *PDU {
	p := &PDU{Type: pduType}
	for _, o := range oids {
		p.VarBinds = append(p.VarBinds, VarBind{OID: o, Value: SNMPvbNullValue})
	}
	return p
}

func (p *PDU) NonRepeaters() int32   { return p.ErrorStatus }
func (p *PDU) MaxRepetitions() int32 { return p.ErrorIndex }

// IsConfirmed reports whether the PDU class expects a Response (RFC 3411 §2.8).
func (p *PDU) IsConfirmed() bool {
	switch p.Type {
	case PDU_GET, PDU_GETNEXT, PDU_GETBULK, PDU_SET, PDU_INFORM:
		return true
	}
	return false
}

// IsResponseClass reports whether the PDU is a Response or Report.
func (p *PDU) IsResponseClass() bool {
	return p.Type == PDU_RESPONSE || p.Type == PDU_REPORT
}

// Clone returns a deep copy that may be modified independently.
func (p *PDU) Clone() *PDU {
	c := *p
	c.VarBinds = make([]VarBind, len(p.VarBinds))
	for i, vb := range p.VarBinds {
		c.VarBinds[i] = VarBind{
			OID:   append(ASNber.ObjectIdentifier(nil), vb.OID...),
			Value: SNMPVar{ValueType: vb.Value.ValueType, ValueClass: vb.Value.ValueClass, IsCompound: vb.Value.IsCompound, Value: append([]byte(nil), vb.Value.Value...)},
		}
	}
	if p.Trap != nil {
		t := *p.Trap
		c.Trap = &t
	}
	return &c
}

// ScopedPDU is the decoded ScopedPDU of RFC 3412 §6.
type ScopedPDU struct {
	ContextEngineID []byte
	ContextName     []byte
	PDU             *PDU
}

// HeaderData is the decoded msgGlobalData of an SNMPv3 message.
type HeaderData struct {
	MsgID         int32
	MaxSize       int
	Flags         byte
	SecurityModel int
}

func (h HeaderData) Authenticated() bool { return h.Flags&MsgFlag_Authenticated != 0 }
func (h HeaderData) Encrypted() bool     { return h.Flags&MsgFlag_Encrypted != 0 }
func (h HeaderData) Reportable() bool    { return h.Flags&MsgFlag_Reportable != 0 }

// V3Message is an SNMPv3 message split into its envelope parts. ScopedPDUData
// holds either the plaintext ScopedPDU TLV or the encrypted OCTET STRING
// content, depending on Encrypted.
type V3Message struct {
	Header             HeaderData
	SecurityParameters []byte
	ScopedPDUData      []byte
	Encrypted          bool
}

// CommunityMessage is a decoded v1 or v2c message.
type CommunityMessage struct {
	Version   int
	Community []byte
	PDU       *PDU
}
