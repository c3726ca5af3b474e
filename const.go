// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMP

import (
	"time"

	"github.com/OlegPowerC/powersnmpengine/codec"
)

const (
	// Limits & Defaults
	SNMP_DEFAULTTIMEOUT    = time.Second
	SNMP_MAXIMUM_RETRY     = 10
	SNMP_DEFAULTRETRY      = 3
	SNMP_MAXMSGSIZE        = 65507
	SNMP_MINMSGSIZE        = 484
	SNMP_DEFAULTMSGSIZE    = 65507
	SNMP_DEFAULTREPETITION = 25

	// HandleWindow is the number of recent handles a new handle must not
	// repeat.
	HandleWindow = 65536

	// resyncLimit bounds the notInTimeWindow resends of one request.
	resyncLimit = 1
)

// Notification kinds delivered to a NotificationHandler.
const (
	TRAP_MESSAGE   = 2
	INFORM_MESSAGE = 3
)

// Access modes of a community.
const (
	ACCESS_READONLY  = 1
	ACCESS_READWRITE = 2
)

// ViewType selects the MIB view an access check is made against.
type ViewType int

const (
	ViewRead ViewType = iota
	ViewWrite
	ViewNotify
)

func (v ViewType) String() string {
	switch v {
	case ViewRead:
		return "read"
	case ViewWrite:
		return "write"
	case ViewNotify:
		return "notify"
	}
	return "unknown"
}

// SNMPv2-MIB snmp group and SNMP-MPD-MIB counters.
var (
	OID_snmpInPkts                = codec.MustOID("1.3.6.1.2.1.11.1.0")
	OID_snmpInBadVersions         = codec.MustOID("1.3.6.1.2.1.11.3.0")
	OID_snmpInBadCommunityNames   = codec.MustOID("1.3.6.1.2.1.11.4.0")
	OID_snmpInASNParseErrs        = codec.MustOID("1.3.6.1.2.1.11.6.0")
	OID_snmpUnknownSecurityModels = codec.MustOID("1.3.6.1.6.3.11.2.1.1.0")
	OID_snmpInvalidMsgs           = codec.MustOID("1.3.6.1.6.3.11.2.1.2.0")
	OID_snmpUnknownPDUHandlers    = codec.MustOID("1.3.6.1.6.3.11.2.1.3.0")

	OID_sysUpTime   = codec.MustOID("1.3.6.1.2.1.1.3.0")
	OID_snmpTrapOID = codec.MustOID("1.3.6.1.6.3.1.1.4.1.0")
)
