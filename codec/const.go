// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package codec

// ASN.1/BER tag encoding constants.
// Bits 7-6: Class (Universal=00, Application=01, Context=10, Private=11)
// Bit 5: Constructed flag (0=primitive, 1=constructed/compound like SEQUENCE)
// Bits 4-0: Tag Number
//
// Example: Class=0x01 (Application), Tag=0x03 → 0x43 (APPLICATION 3 = SNMP TIMETICKS)

const (
	// SNMP Application Types (Class=1)
	SNMP_type_IPADDR    = 0
	SNMP_type_COUNTER32 = 1
	SNMP_type_GAUGE32   = 2
	SNMP_type_TIMETICKS = 3
	SNMP_type_OPAQUE    = 4
	SNMP_type_COUNTER64 = 6

	// SNMPv2 Exception Tags (ContextSpecific)
	TagERR_noSuchObject           = 0
	tagandclassERR_noSuchObject   = 0x80
	TagERR_noSuchInstance         = 1
	tagandclassERR_noSuchInstance = 0x81
	TagERR_EndOfMib               = 2
	tagandclassERR_EndOfMib       = 0x82
)

const (
	// Message versions as carried on the wire
	SNMP_VERSION_1  = 0
	SNMP_VERSION_2C = 1
	SNMP_VERSION_3  = 3
)

const (
	// PDU tags (ContextSpecific, constructed), RFC 3416 §3 and RFC 1157 §4.1
	PDU_GET      = 0
	PDU_GETNEXT  = 1
	PDU_RESPONSE = 2
	PDU_SET      = 3
	PDU_TRAPV1   = 4
	PDU_GETBULK  = 5
	PDU_INFORM   = 6
	PDU_TRAPV2   = 7
	PDU_REPORT   = 8
)

const (
	// SNMPv3 Message Flags (msgFlags byte)
	MsgFlag_Authenticated = 0x01
	MsgFlag_Encrypted     = 0x02
	MsgFlag_Reportable    = 0x04
)

const (
	// Security models (RFC 3411)
	SecurityModel_SNMPv1 = 1
	SecurityModel_SNMPv2 = 2
	SecurityModel_USM    = 3
)

const (
	// SNMP Error Status Codes (RFC3416 §4.1.2.1)
	ErrStatus_NoError             = 0
	ErrStatus_TooBig              = 1
	ErrStatus_NoSuchName          = 2
	ErrStatus_BadValue            = 3
	ErrStatus_ReadOnly            = 4
	ErrStatus_GenErr              = 5
	ErrStatus_NoAccess            = 6
	ErrStatus_WrongType           = 7
	ErrStatus_WrongLength         = 8
	ErrStatus_WrongEncoding       = 9
	ErrStatus_WrongValue          = 10
	ErrStatus_NoCreation          = 11
	ErrStatus_InconsistentValue   = 12
	ErrStatus_ResourceUnavailable = 13
	ErrStatus_CommitFailed        = 14
	ErrStatus_UndoFailed          = 15
	ErrStatus_AuthorizationError  = 16
	ErrStatus_NotWritable         = 17
	ErrStatus_InconsistentName    = 18
)

var pduNames = map[int]string{
	PDU_GET:      "GetRequest",
	PDU_GETNEXT:  "GetNextRequest",
	PDU_RESPONSE: "Response",
	PDU_SET:      "SetRequest",
	PDU_TRAPV1:   "Trap",
	PDU_GETBULK:  "GetBulkRequest",
	PDU_INFORM:   "InformRequest",
	PDU_TRAPV2:   "SNMPv2-Trap",
	PDU_REPORT:   "Report",
}

var errorStatusNames = map[int]string{
	ErrStatus_NoError:             "NoError",
	ErrStatus_TooBig:              "TooBig",
	ErrStatus_NoSuchName:          "NoSuchName",
	ErrStatus_BadValue:            "BadValue",
	ErrStatus_ReadOnly:            "ReadOnly",
	ErrStatus_GenErr:              "GenErr",
	ErrStatus_NoAccess:            "NoAccess",
	ErrStatus_WrongType:           "WrongType",
	ErrStatus_WrongLength:         "WrongLength",
	ErrStatus_WrongEncoding:       "WrongEncoding",
	ErrStatus_WrongValue:          "WrongValue",
	ErrStatus_NoCreation:          "NoCreation",
	ErrStatus_InconsistentValue:   "InconsistentValue",
	ErrStatus_ResourceUnavailable: "ResourceUnavailable",
	ErrStatus_CommitFailed:        "CommitFailed",
	ErrStatus_UndoFailed:          "UndoFailed",
	ErrStatus_AuthorizationError:  "AuthorizationError",
	ErrStatus_NotWritable:         "NotWritable",
	ErrStatus_InconsistentName:    "InconsistentName",

	//Error in VarBind
	tagandclassERR_noSuchObject:   "NoSuchObject",
	tagandclassERR_noSuchInstance: "NoSuchInstance",
	tagandclassERR_EndOfMib:       "EndOfMibView",
}
