// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package codec

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

// Convert_snmpint_to_int32 converts INTEGER content octets (1-4 bytes) to int32
// with sign extension.
func Convert_snmpint_to_int32(bytearray []byte) int32 {
	bytearray32 := []byte{0, 0, 0, 0}
	switch len(bytearray) {
	case 1:
		return int32(int8(bytearray[0]))
	case 2:
		return int32(int16(binary.BigEndian.Uint16(bytearray)))
	case 3:
		if bytearray[0]&0x80 != 0 {
			bytearray32[0] = 0xff
		}
		copy(bytearray32[1:], bytearray)
		return int32(binary.BigEndian.Uint32(bytearray32))
	case 4:
		return int32(binary.BigEndian.Uint32(bytearray))
	default:
		return 0
	}
}

// Convert_snmpint_to_uint32 converts Counter32/Gauge32/TimeTicks content
// octets to uint32. A leading zero octet (up to 5 bytes) is accepted.
//
// Usage: ifInOctets → [0x00,0xFF,0xFF,0xFF] → 16777215
func Convert_snmpint_to_uint32(bytearray []byte) uint32 {
	if len(bytearray) == 5 && bytearray[0] == 0 {
		bytearray = bytearray[1:]
	}
	if len(bytearray) > 4 {
		return 0
	}
	return uint32(Convert_bytearray_to_uint(bytearray))
}

// Convert_bytearray_to_int converts signed INTEGER content octets (1-8 bytes)
// to int64.
func Convert_bytearray_to_int(bytearray []byte) int64 {
	if len(bytearray) == 0 || len(bytearray) > 8 {
		return 0
	}
	var v int64
	if bytearray[0]&0x80 != 0 {
		v = -1
	}
	for _, b := range bytearray {
		v = v<<8 | int64(b)
	}
	return v
}

// Convert_bytearray_to_uint converts unsigned content octets to uint64.
// Counter64 values may carry a ninth leading zero octet.
//
// Usage: ifHCInOctets → [0x00,0x00,0x00,0x01,0xFF,0xFF,0xFF,0xFF] → 8589934591
func Convert_bytearray_to_uint(bytearray []byte) uint64 {
	if len(bytearray) == 9 && bytearray[0] == 0 {
		bytearray = bytearray[1:]
	}
	if len(bytearray) > 8 {
		return 0
	}
	var v uint64
	for _, b := range bytearray {
		v = v<<8 | uint64(b)
	}
	return v
}

func isAscii(datab []byte) (AsciiString bool, LastAsciSymbolIndex int) {
	FirstZeroPos := -1
	LastAscipos := 0
	hasPrintable := false
	for i := 0; i < len(datab); i++ {
		if datab[i] < 0x20 || datab[i] > 0x7e {
			if datab[i] == 0x09 || datab[i] == 0x0a || datab[i] == 0x0d {
				continue
			}
			if datab[i] == 0x00 {
				if FirstZeroPos == -1 {
					FirstZeroPos = i
				}
				continue
			}
			return false, LastAscipos
		} else {
			LastAscipos = i
			hasPrintable = true
		}
	}
	if FirstZeroPos > -1 && FirstZeroPos < LastAscipos {
		return false, LastAscipos
	}
	return hasPrintable, LastAscipos
}

// Convert_ClassTag_to_String converts SNMPVar to human-readable ASN.1/SNMP type string.
//
// Parameters:
//
//	Var - SNMP variable with Class, Type, IsCompound, Value bytes
//
// Returns:
//
//	StringType - Descriptive type name ("Universal OID", "COUNTER32", "IP ADDRESS")
func Convert_ClassTag_to_String(Var SNMPVar) string {
	StringType := "Unknown"
	switch Var.ValueClass {
	case ASNber.ClassUniversal:
		switch Var.ValueType {
		case ASNber.TagBoolean:
			StringType = "Universal BOOLEAN"
		case ASNber.TagInteger:
			StringType = "Universal INTEGER"
		case ASNber.TagBitString:
			StringType = "Universal BITSTRING"
		case ASNber.TagOctetString:
			AsVal, _ := isAscii(Var.Value)
			if AsVal {
				StringType = "Universal OCTET STRING"
			} else {
				StringType = "Universal HEX STRING"
			}
		case ASNber.TagNull:
			StringType = "Universal NULL"
		case ASNber.TagOID:
			StringType = "Universal OID"
		case ASNber.TagSequence:
			if Var.IsCompound {
				StringType = "Universal SEQUENCE"
			}
		case ASNber.TagSet:
			if Var.IsCompound {
				StringType = "Universal SET"
			}
		default:
			StringType = "Unknown Universal"
		}

	case ASNber.ClassApplication:
		switch Var.ValueType {
		case SNMP_type_IPADDR:
			StringType = "IP ADDRESS"
		case SNMP_type_COUNTER32:
			StringType = "COUNTER32"
		case SNMP_type_GAUGE32:
			StringType = "GAUGE32"
		case SNMP_type_COUNTER64:
			StringType = "COUNTER64"
		case SNMP_type_TIMETICKS:
			StringType = "TIMETICKS"
		case SNMP_type_OPAQUE:
			StringType = "OPAQUE"
		default:
			StringType = "Unknown APPLICATION"
		}

	case ASNber.ClassContextSpecific:
		if name, ok := errorStatusNames[0x80|Var.ValueType]; ok && Var.ValueType <= TagERR_EndOfMib {
			StringType = name
		}
	}
	return StringType
}

// SetSNMPVar_OctetString creates an OCTET STRING value.
//
//	sysName := SetSNMPVar_OctetString("my-router")
func SetSNMPVar_OctetString(str string) SNMPVar {
	return SNMPVar{ValueClass: ASNber.ClassUniversal, ValueType: ASNber.TagOctetString, Value: []byte(str)}
}

// SetSNMPVar_Int creates an INTEGER value in minimal two's complement form.
//
//	ifUp := SetSNMPVar_Int(1)  // ifAdminStatus up
func SetSNMPVar_Int(ival int32) SNMPVar {
	Bval := make([]byte, 4)
	binary.BigEndian.PutUint32(Bval, uint32(ival))
	for len(Bval) > 1 && ((Bval[0] == 0 && Bval[1]&0x80 == 0) || (Bval[0] == 0xff && Bval[1]&0x80 != 0)) {
		Bval = Bval[1:]
	}
	return SNMPVar{ValueClass: ASNber.ClassUniversal, ValueType: ASNber.TagInteger, Value: Bval}
}

// SetSNMPVar_IpAddr creates an IpAddress value (RFC 2578, APPLICATION 0).
func SetSNMPVar_IpAddr(ipval net.IP) (SNMPVar, error) {
	Bval := ipval.To4()
	if Bval == nil {
		return SNMPVar{}, errors.New("cannot convert IP to 4x bytes")
	}
	return SNMPVar{ValueClass: ASNber.ClassApplication, ValueType: SNMP_type_IPADDR, Value: []byte(Bval)}, nil
}

func setUnsigned(tag int, v uint64) SNMPVar {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return SNMPVar{ValueClass: ASNber.ClassApplication, ValueType: tag, Value: minimalUnsigned(b)}
}

func SetSNMPVar_Counter32(v uint32) SNMPVar { return setUnsigned(SNMP_type_COUNTER32, uint64(v)) }
func SetSNMPVar_Gauge32(v uint32) SNMPVar   { return setUnsigned(SNMP_type_GAUGE32, uint64(v)) }
func SetSNMPVar_TimeTicks(v uint32) SNMPVar { return setUnsigned(SNMP_type_TIMETICKS, uint64(v)) }
func SetSNMPVar_Counter64(v uint64) SNMPVar { return setUnsigned(SNMP_type_COUNTER64, v) }

// SetSNMPVar_OID creates an OBJECT IDENTIFIER value.
func SetSNMPVar_OID(oid []int) (SNMPVar, error) {
	b, err := encodeOIDContent(oid)
	if err != nil {
		return SNMPVar{}, err
	}
	return SNMPVar{ValueClass: ASNber.ClassUniversal, ValueType: ASNber.TagOID, Value: b}, nil
}

// OIDValue decodes an OBJECT IDENTIFIER value.
func OIDValue(v SNMPVar) (ASNber.ObjectIdentifier, error) {
	if v.ValueClass != ASNber.ClassUniversal || v.ValueType != ASNber.TagOID {
		return nil, fmt.Errorf("%w: not an OID value", ErrMalformed)
	}
	return decodeOIDContent(v.Value)
}

// Exception values of RFC 3416 §3.
var (
	SNMPvbNoSuchObject   = SNMPVar{ValueClass: ASNber.ClassContextSpecific, ValueType: TagERR_noSuchObject}
	SNMPvbNoSuchInstance = SNMPVar{ValueClass: ASNber.ClassContextSpecific, ValueType: TagERR_noSuchInstance}
	SNMPvbEndOfMibView   = SNMPVar{ValueClass: ASNber.ClassContextSpecific, ValueType: TagERR_EndOfMib}
)

// IsException reports noSuchObject, noSuchInstance or endOfMibView.
func IsException(v SNMPVar) bool {
	return v.ValueClass == ASNber.ClassContextSpecific && v.ValueType <= TagERR_EndOfMib && !v.IsCompound
}

func IsEndOfMibView(v SNMPVar) bool {
	return v.ValueClass == ASNber.ClassContextSpecific && v.ValueType == TagERR_EndOfMib && !v.IsCompound
}

// Convert_setvar_toasn1raw converts SNMPVar to ASN.1 RawValue for marshaling.
//
// Direct field mapping: ValueType→Tag, ValueClass→Class, Value→Bytes
func Convert_setvar_toasn1raw(invar SNMPVar) ASNber.RawValue {
	Retvar := ASNber.NullRawValue
	Retvar.Tag = invar.ValueType
	Retvar.Class = invar.ValueClass
	Retvar.IsCompound = invar.IsCompound
	Retvar.Bytes = invar.Value
	return Retvar
}

// Convert_Variable_To_String formats SNMPVar value as human-readable string.
//
// Parameters:
//
//	Var - SNMP variable with decoded Class/Type/Value
//
// Algorithm:
// **Universal Types**: INTEGER→decimal, OCTET_STRING→ASCII/HEX, OID→dotted notation
// **Application Types**:
//   - IPADDR→"x.x.x.x"
//   - TIMETICKS→time.Duration (×10ms)
//   - COUNTER32/GAUGE32/COUNTER64→decimal
//   - OPAQUE→hex
//
// **Compound** (SEQUENCE/SET)→hex dump
//
// Returns:
//
//	Formatted string for logging/display ("123", "1.3.6.1...", "192.168.1.1")
func Convert_Variable_To_String(Var SNMPVar) string {
	if Var.IsCompound {
		//Это SEQUENCE или SET, выводим HEX строку
		return hex.EncodeToString(Var.Value)
	}
	switch Var.ValueClass {
	case ASNber.ClassUniversal:
		switch Var.ValueType {
		case ASNber.TagInteger:
			if len(Var.Value) <= 4 {
				return fmt.Sprintf("%d", Convert_snmpint_to_int32(Var.Value))
			}
			return fmt.Sprintf("%d", Convert_bytearray_to_int(Var.Value))
		case ASNber.TagBitString:
			return hex.EncodeToString(Var.Value)
		case ASNber.TagOctetString:
			return formatOctetString(Var.Value)
		case ASNber.TagOID:
			oid, err := decodeOIDContent(Var.Value)
			if err != nil {
				return hex.EncodeToString(Var.Value)
			}
			return Convert_OID_IntArrayToString_RAW(oid)
		case ASNber.TagNull:
			return ""
		default:
			return string(Var.Value)
		}
	case ASNber.ClassApplication:
		switch Var.ValueType {
		case SNMP_type_IPADDR:
			return formatIPAddress(Var.Value)
		case SNMP_type_TIMETICKS:
			ticks := Convert_snmpint_to_uint32(Var.Value)
			return (time.Duration(ticks) * 10 * time.Millisecond).String()
		case SNMP_type_COUNTER32, SNMP_type_GAUGE32:
			return fmt.Sprintf("%d", Convert_snmpint_to_uint32(Var.Value))
		case SNMP_type_COUNTER64:
			return fmt.Sprintf("%d", Convert_bytearray_to_uint(Var.Value))
		case SNMP_type_OPAQUE:
			//Бинарные данные
			return hex.EncodeToString(Var.Value)
		}
	case ASNber.ClassContextSpecific:
		return Convert_ClassTag_to_String(Var)
	}
	return ""
}

// formatIPAddress formats an IpAddress value as dotted decimal; any other
// length yields a hex diagnostic.
func formatIPAddress(data []byte) string {
	// Проверяем длину, если это не ipv4 то вернем HEX строку
	if len(data) != 4 {
		return fmt.Sprintf("Invalid IP (len=%d): %s", len(data), hex.EncodeToString(data))
	}
	return net.IP(data).String()
}

// formatOctetString formats an OCTET STRING as ASCII (trailing NULs trimmed)
// or as a lowercase hex dump.
func formatOctetString(data []byte) string {
	// Проверяем, это ASCII текст?
	if isAsciiFl, lastIndex := isAscii(data); isAsciiFl {
		if lastIndex < len(data)-1 {
			return string(data[:lastIndex+1])
		}
		return string(data)
	}
	// Иначе выводим как HEX строку
	return hex.EncodeToString(data)
}

// SNMPErrorName returns the RFC 3416 name of a PDU error-status.
func SNMPErrorName(code int) string {
	if code >= 0x80 {
		return fmt.Sprintf("Unknown(%d)", code)
	}
	if name, ok := errorStatusNames[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", code)
}

// PDUTypeName returns the RFC 3416 name of a PDU tag.
func PDUTypeName(t int) string {
	if name, ok := pduNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PDU(%d)", t)
}
