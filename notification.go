// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMP

import (
	"slices"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
	"github.com/OlegPowerC/powersnmpengine/codec"
)

// snmpTraps is the prefix of the generic traps of RFC 3418 / RFC 3584.
var snmpTraps = codec.MustOID("1.3.6.1.6.3.1.1.5")

// receiveNotification delivers a trap or inform to the handlers. Informs are
// acknowledged with a Response echoing the varbinds.
func (e *Engine) receiveNotification(in *inbound) {
	e.mu.Lock()
	handlers := slices.Clone(e.notify)
	ac := e.access
	e.mu.Unlock()
	if len(handlers) == 0 {
		e.unknownPDUHandler(in)
		return
	}
	if ac != nil && !allowed(ac, in.info, ViewNotify, NotificationOID(in.pdu)) {
		e.logger.Debug("notification outside the notify view dropped", "from", addrString(in.info.Source), "user", in.info.SecurityName)
		return
	}

	n := Notification{
		Kind:             TRAP_MESSAGE,
		Version:          in.info.Version,
		Domain:           in.domain,
		Source:           in.info.Source,
		Community:        in.community,
		SecurityEngineID: in.securityEngineID,
		SecurityName:     in.info.SecurityName,
		SecurityLevel:    in.info.SecurityLevel,
		ContextEngineID:  in.info.ContextEngineID,
		ContextName:      in.info.ContextName,
		PDU:              in.pdu,
	}
	if in.pdu.Type == codec.PDU_INFORM {
		n.Kind = INFORM_MESSAGE
		e.reply(in, &codec.PDU{Type: codec.PDU_RESPONSE, RequestID: in.pdu.RequestID, VarBinds: in.pdu.VarBinds})
	}
	e.logger.Debug("notification received", "type", codec.PDUTypeName(in.pdu.Type), "from", addrString(in.info.Source), "trap", codec.Convert_OID_IntArrayToString_RAW(NotificationOID(in.pdu)))
	for _, h := range handlers {
		h(n)
	}
}

// NotificationOID returns the snmpTrapOID of a v2 notification, or the
// equivalent OID of a v1 trap (RFC 3584 §3.1).
func NotificationOID(pdu *codec.PDU) ASNber.ObjectIdentifier {
	if pdu.Type == codec.PDU_TRAPV1 && pdu.Trap != nil {
		if pdu.Trap.GenericTrap < 6 {
			return append(slices.Clone(snmpTraps), pdu.Trap.GenericTrap+1)
		}
		return append(slices.Clone(pdu.Trap.Enterprise), 0, pdu.Trap.SpecificTrap)
	}
	for _, vb := range pdu.VarBinds {
		if codec.CompareOID(vb.OID, OID_snmpTrapOID) == 0 {
			if oid, err := codec.OIDValue(vb.Value); err == nil {
				return oid
			}
		}
	}
	return nil
}

// NewNotificationPDU builds a notification of pduType (TRAPV2, INFORM or
// TRAPV1) for trapOID. v2 types get sysUpTime.0 and snmpTrapOID.0 in front
// of vbs; a v1 trap is derived from trapOID as RFC 3584 §3.2 describes.
func NewNotificationPDU(pduType int, uptime uint32, trapOID ASNber.ObjectIdentifier, vbs ...codec.VarBind) (*codec.PDU, error) {
	if pduType == codec.PDU_TRAPV1 {
		trap := &codec.TrapV1{AgentAddr: []byte{0, 0, 0, 0}, TimeStamp: uptime}
		n := len(trapOID)
		switch {
		case n == len(snmpTraps)+1 && codec.InSubTreeCheck(snmpTraps, trapOID) && trapOID[n-1] >= 1 && trapOID[n-1] <= 6:
			trap.Enterprise = slices.Clone(snmpTraps)
			trap.GenericTrap = trapOID[n-1] - 1
		case n >= 2 && trapOID[n-2] == 0:
			trap.Enterprise = slices.Clone(trapOID[:n-2])
			trap.GenericTrap = 6
			trap.SpecificTrap = trapOID[n-1]
		case n >= 1:
			trap.Enterprise = slices.Clone(trapOID[:n-1])
			trap.GenericTrap = 6
			trap.SpecificTrap = trapOID[n-1]
		default:
			return nil, codec.ErrMalformed
		}
		return &codec.PDU{Type: codec.PDU_TRAPV1, Trap: trap, VarBinds: vbs}, nil
	}
	oidValue, err := codec.SetSNMPVar_OID(trapOID)
	if err != nil {
		return nil, err
	}
	p := &codec.PDU{Type: pduType}
	p.VarBinds = append(p.VarBinds,
		codec.VarBind{OID: OID_sysUpTime, Value: codec.SetSNMPVar_TimeTicks(uptime)},
		codec.VarBind{OID: OID_snmpTrapOID, Value: oidValue},
	)
	p.VarBinds = append(p.VarBinds, vbs...)
	return p, nil
}

// SendNotification sends a trap, or an inform when inform is set, to t.
// sysUpTime is the local engine time. The callback is required for informs
// and ignored for traps.
func (e *Engine) SendNotification(t Target, inform bool, trapOID ASNber.ObjectIdentifier, vbs []codec.VarBind, cb Callback) (Handle, error) {
	_, engineTime := e.local.BootsTime()
	pduType := codec.PDU_TRAPV2
	switch {
	case inform:
		pduType = codec.PDU_INFORM
	case t.Version == codec.SNMP_VERSION_1:
		pduType = codec.PDU_TRAPV1
	}
	pdu, err := NewNotificationPDU(pduType, engineTime*100, trapOID, vbs...)
	if err != nil {
		return 0, err
	}
	if !inform {
		cb = nil
	}
	return e.SendPdu(t, pdu, cb)
}
