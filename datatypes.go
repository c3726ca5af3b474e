// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMP

import (
	"net"
	"time"

	"github.com/OlegPowerC/powersnmpengine/codec"
)

// Handle identifies one outstanding request. It is also the msgID (v3) or
// request-id (v1/v2c) of the message on the wire.
type Handle int32

// Target is the destination and the security parameters of a request.
//
// Fields:
//
//	Domain        - transport domain, transport.DomainUDPv4 when empty
//	Address       - agent address accepted by the domain's transport
//	Version       - codec.SNMP_VERSION_1, SNMP_VERSION_2C or SNMP_VERSION_3
//	Community     - v1/v2c community string
//	SecurityName  - v3 user name
//	SecurityLevel - usm.SECLEVEL_*; noAuthNoPriv when zero
//	EngineID      - authoritative engine ID; discovered when empty
//	Timeout       - per attempt, SNMP_DEFAULTTIMEOUT when zero
//	Retries       - resends after the first attempt, negative means none
//
// Example:
//
//	t := PowerSNMP.Target{
//	    Address:       &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 161},
//	    Version:       codec.SNMP_VERSION_3,
//	    SecurityName:  "monitor",
//	    SecurityLevel: usm.SECLEVEL_AUTHPRIV,
//	}
type Target struct {
	Domain          string
	Address         net.Addr
	Version         int
	Community       string
	SecurityName    string
	SecurityLevel   int
	EngineID        []byte
	ContextEngineID []byte
	ContextName     string
	Timeout         time.Duration
	Retries         int
	MaxMsgSize      int
}

// Result is the tri-state outcome of a request: ErrorIndication is set for
// transport and security failures, ErrorStatus/ErrorIndex carry the PDU-level
// error of a valid response.
type Result struct {
	ErrorIndication error
	ErrorStatus     int32
	ErrorIndex      int32
	VarBinds        []codec.VarBind
	PDU             *codec.PDU
}

// Callback receives the result of a request exactly once. It runs on the
// dispatcher loop and must not block.
type Callback func(h Handle, r Result)

// Community maps a v1/v2c community string to a security name and access
// mode.
type Community struct {
	Name         string `json:"name"`
	Community    string `json:"-"`
	SecurityName string `json:"securityName"`
	Access       int    `json:"access"`
	ContextName  string `json:"contextName,omitempty"`
}

// Notification is a received trap or inform.
type Notification struct {
	Kind             int
	Version          int
	Domain           string
	Source           net.Addr
	Community        string
	SecurityEngineID []byte
	SecurityName     string
	SecurityLevel    int
	ContextEngineID  []byte
	ContextName      string
	PDU              *codec.PDU
}

// NotificationHandler runs on the dispatcher loop for every accepted
// notification.
type NotificationHandler func(n Notification)

// RequestInfo describes an incoming command to the command responder.
type RequestInfo struct {
	Version         int
	SecurityModel   int
	SecurityName    string
	SecurityLevel   int
	ContextEngineID []byte
	ContextName     string
	Source          net.Addr
}

// pendingRequest is one outstanding confirmed request.
type pendingRequest struct {
	handle Handle
	// origin is the handle returned by SendPdu; retries and discovery
	// resends get new handles but keep origin and job.
	origin   Handle
	job      int
	target   Target
	pdu      *codec.PDU
	deadline time.Time
	retries  int
	resyncs  int
	cb       Callback

	// probe marks an engine ID discovery request sent in place of pdu.
	probe bool
	// security parameters the request was sent with, compared against the
	// response (RFC 3412 §7.2 step 12)
	securityEngineID []byte
	securityName     string
	securityLevel    int
}
