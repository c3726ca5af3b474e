//go:build !integration

// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package codec

import (
	"testing"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
	"github.com/google/go-cmp/cmp"
	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sysDescr0 = ASNber.ObjectIdentifier{1, 3, 6, 1, 2, 1, 1, 1, 0}

func TestEncodeCommunityMessageBytes(t *testing.T) {
	p := NewPDU(PDU_GET, sysDescr0)
	p.RequestID = 1

	got, err := EncodeCommunityMessage(SNMP_VERSION_2C, []byte("public"), p)
	require.NoError(t, err)

	want := []byte{
		0x30, 0x26,
		0x02, 0x01, 0x01,
		0x04, 0x06, 'p', 'u', 'b', 'l', 'i', 'c',
		0xa0, 0x19,
		0x02, 0x01, 0x01,
		0x02, 0x01, 0x00,
		0x02, 0x01, 0x00,
		0x30, 0x0e, 0x30, 0x0c,
		0x06, 0x08, 0x2b, 0x06, 0x01, 0x02, 0x01, 0x01, 0x01, 0x00,
		0x05, 0x00,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("encoded message mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeGosnmpResponse(t *testing.T) {
	pkt := &gosnmp.SnmpPacket{
		Version:   gosnmp.Version2c,
		Community: "private",
		PDUType:   gosnmp.GetResponse,
		RequestID: 4242,
		Variables: []gosnmp.SnmpPDU{
			{Name: ".1.3.6.1.2.1.1.1.0", Type: gosnmp.OctetString, Value: []byte("PowerC router")},
		},
	}
	raw, err := pkt.MarshalMsg()
	require.NoError(t, err)

	version, err := DecodeVersion(raw)
	require.NoError(t, err)
	assert.Equal(t, SNMP_VERSION_2C, version)

	msg, err := DecodeCommunityMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte("private"), msg.Community)
	assert.Equal(t, PDU_RESPONSE, msg.PDU.Type)
	assert.Equal(t, int32(4242), msg.PDU.RequestID)
	require.Len(t, msg.PDU.VarBinds, 1)
	assert.True(t, sysDescr0.Equal(msg.PDU.VarBinds[0].OID))
	assert.Equal(t, "PowerC router", Convert_Variable_To_String(msg.PDU.VarBinds[0].Value))
}

func TestCommunityMessageRoundTrip(t *testing.T) {
	p := &PDU{
		Type:        PDU_RESPONSE,
		RequestID:   77,
		ErrorStatus: ErrStatus_NoSuchName,
		ErrorIndex:  2,
		VarBinds: []VarBind{
			{OID: sysDescr0, Value: SetSNMPVar_OctetString("hello")},
			{OID: ASNber.ObjectIdentifier{1, 3, 6, 1, 2, 1, 2, 2, 1, 10, 1}, Value: SetSNMPVar_Counter32(1234567)},
			{OID: ASNber.ObjectIdentifier{1, 3, 6, 1, 2, 1, 1, 9, 0}, Value: SNMPvbEndOfMibView},
		},
	}
	b, err := EncodeCommunityMessage(SNMP_VERSION_1, []byte("c"), p)
	require.NoError(t, err)

	msg, err := DecodeCommunityMessage(b)
	require.NoError(t, err)
	assert.Equal(t, SNMP_VERSION_1, msg.Version)
	if diff := cmp.Diff(p, msg.PDU); diff != "" {
		t.Errorf("PDU mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, IsEndOfMibView(msg.PDU.VarBinds[2].Value))
	assert.True(t, IsException(msg.PDU.VarBinds[2].Value))
	assert.False(t, IsException(msg.PDU.VarBinds[0].Value))
}

func TestGetBulkFields(t *testing.T) {
	p := NewBulkPDU(1, 25, sysDescr0, ASNber.ObjectIdentifier{1, 3, 6, 1, 2, 1, 2, 2, 1, 2})
	p.RequestID = 9
	raw, err := EncodePDU(p)
	require.NoError(t, err)
	assert.Equal(t, PDU_GETBULK, raw.Tag)

	b, err := ASNber.Marshal(raw)
	require.NoError(t, err)
	assert.Equal(t, byte(0xa5), b[0])

	var back ASNber.RawValue
	_, err = ASNber.Unmarshal(b, &back)
	require.NoError(t, err)
	got, err := DecodePDU(back)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.NonRepeaters())
	assert.Equal(t, int32(25), got.MaxRepetitions())
	assert.Len(t, got.VarBinds, 2)
	assert.True(t, got.IsConfirmed())
}

func TestTrapV1RoundTrip(t *testing.T) {
	p := &PDU{
		Type: PDU_TRAPV1,
		Trap: &TrapV1{
			Enterprise:   ASNber.ObjectIdentifier{1, 3, 6, 1, 4, 1, 9},
			AgentAddr:    []byte{10, 0, 0, 1},
			GenericTrap:  2,
			SpecificTrap: 0,
			TimeStamp:    0x80000000,
		},
		VarBinds: []VarBind{{OID: ASNber.ObjectIdentifier{1, 3, 6, 1, 2, 1, 2, 2, 1, 1, 3}, Value: SetSNMPVar_Int(3)}},
	}
	b, err := EncodeCommunityMessage(SNMP_VERSION_1, []byte("public"), p)
	require.NoError(t, err)

	msg, err := DecodeCommunityMessage(b)
	require.NoError(t, err)
	require.NotNil(t, msg.PDU.Trap)
	assert.Equal(t, *p.Trap, *msg.PDU.Trap)
	assert.False(t, msg.PDU.IsConfirmed())
	require.Len(t, msg.PDU.VarBinds, 1)
	assert.Equal(t, "3", Convert_Variable_To_String(msg.PDU.VarBinds[0].Value))
}

func TestScopedPDURoundTrip(t *testing.T) {
	sp := &ScopedPDU{
		ContextEngineID: []byte{0x80, 0x00, 0x1f, 0x88, 0x05, 1, 2, 3},
		ContextName:     []byte("vrf-a"),
		PDU:             &PDU{Type: PDU_REPORT, RequestID: 31337, VarBinds: []VarBind{{OID: MustOID("1.3.6.1.6.3.15.1.1.4.0"), Value: SetSNMPVar_Counter32(7)}}},
	}
	b, err := EncodeScopedPDU(sp)
	require.NoError(t, err)

	// priv padding after the TLV is ignored
	got, err := DecodeScopedPDU(append(b, 0, 0, 0))
	require.NoError(t, err)
	if diff := cmp.Diff(sp, got); diff != "" {
		t.Errorf("scoped PDU mismatch (-want +got):\n%s", diff)
	}

	ce, cn, rid, ok := PeekScopedPDUContext(b)
	require.True(t, ok)
	assert.Equal(t, sp.ContextEngineID, ce)
	assert.Equal(t, []byte("vrf-a"), cn)
	assert.Equal(t, int32(31337), rid)
}

func TestV3MessageRoundTrip(t *testing.T) {
	secParams, err := EncodeSecurityParameters(SNMPv3_SecSeq{
		AuthEng:    []byte{0x80, 0x00, 0x1f, 0x88, 0x05, 0xaa},
		Boots:      3,
		Time:       1200,
		User:       []byte("admin"),
		AuthParams: make([]byte, 12),
		PrivParams: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	})
	require.NoError(t, err)

	for _, encrypted := range []bool{false, true} {
		data := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01, 0x02, 0x03}
		if !encrypted {
			data, err = EncodeScopedPDU(&ScopedPDU{PDU: NewPDU(PDU_GET, sysDescr0)})
			require.NoError(t, err)
		}
		m := &V3Message{
			Header:             HeaderData{MsgID: 100, MaxSize: 65507, Flags: MsgFlag_Authenticated | MsgFlag_Reportable, SecurityModel: SecurityModel_USM},
			SecurityParameters: secParams,
			ScopedPDUData:      data,
			Encrypted:          encrypted,
		}
		if encrypted {
			m.Header.Flags |= MsgFlag_Encrypted
		}
		b, err := EncodeV3Message(m)
		require.NoError(t, err)

		version, err := DecodeVersion(b)
		require.NoError(t, err)
		assert.Equal(t, SNMP_VERSION_3, version)

		got, err := DecodeV3Message(b)
		require.NoError(t, err)
		if diff := cmp.Diff(m, got); diff != "" {
			t.Errorf("encrypted=%v mismatch (-want +got):\n%s", encrypted, diff)
		}
		assert.True(t, got.Header.Authenticated())
		assert.True(t, got.Header.Reportable())
		assert.Equal(t, encrypted, got.Header.Encrypted())

		sp, err := DecodeSecurityParameters(got.SecurityParameters)
		require.NoError(t, err)
		assert.Equal(t, int32(1200), sp.Time)
		assert.Equal(t, []byte("admin"), sp.User)
	}
}

func TestDecodeV3MessageRejectsBadFlags(t *testing.T) {
	gd, err := ASNber.Marshal(SNMPv3_GlobalData{MsgID: 1, MsgMaxSize: 1500, MsgFlag: []byte{0x04, 0x00}, MsgSecurityModel: 3})
	require.NoError(t, err)
	var pkt SNMPv3_Packet
	pkt.Version = 3
	pkt.GlobalData.FullBytes = gd
	pkt.SecuritySettings = []byte{}
	pkt.PtData.Tag = ASNber.TagOctetString
	pkt.PtData.Bytes = []byte{1}
	b, err := ASNber.Marshal(pkt)
	require.NoError(t, err)

	_, err = DecodeV3Message(b)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeGarbage(t *testing.T) {
	for _, b := range [][]byte{nil, {0x30}, {0x30, 0x03, 0x02, 0x01}, {0x04, 0x01, 0x00}} {
		_, err := DecodeVersion(b)
		assert.ErrorIs(t, err, ErrMalformed, "%x", b)
		_, err = DecodeCommunityMessage(b)
		assert.ErrorIs(t, err, ErrMalformed, "%x", b)
	}
	_, err := DecodePDU(ASNber.RawValue{Class: ASNber.ClassContextSpecific, Tag: 12, FullBytes: []byte{0xac, 0x00}})
	assert.ErrorIs(t, err, ErrUnknownPDUType)
	_, err = EncodePDU(&PDU{Type: 42})
	assert.ErrorIs(t, err, ErrUnknownPDUType)
}
