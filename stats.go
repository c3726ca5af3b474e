// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMP

import (
	"sync/atomic"

	"github.com/OlegPowerC/powersnmpengine/codec"
	"github.com/OlegPowerC/powersnmpengine/usm"
)

// Stats holds the SNMPv2-MIB and SNMP-MPD-MIB counters of the engine.
type Stats struct {
	InPkts                atomic.Uint32
	OutPkts               atomic.Uint32
	InBadVersions         atomic.Uint32
	InBadCommunityNames   atomic.Uint32
	InASNParseErrs        atomic.Uint32
	UnknownSecurityModels atomic.Uint32
	InvalidMsgs           atomic.Uint32
	UnknownPDUHandlers    atomic.Uint32
}

// StatsSnapshot is a point-in-time copy of the engine counters.
type StatsSnapshot struct {
	InPkts                uint32            `json:"snmpInPkts"`
	OutPkts               uint32            `json:"snmpOutPkts"`
	InBadVersions         uint32            `json:"snmpInBadVersions"`
	InBadCommunityNames   uint32            `json:"snmpInBadCommunityNames"`
	InASNParseErrs        uint32            `json:"snmpInASNParseErrs"`
	UnknownSecurityModels uint32            `json:"snmpUnknownSecurityModels"`
	InvalidMsgs           uint32            `json:"snmpInvalidMsgs"`
	UnknownPDUHandlers    uint32            `json:"snmpUnknownPDUHandlers"`
	USM                   usm.StatsSnapshot `json:"usm"`
	Pending               int               `json:"pendingRequests"`
	Timeline              int               `json:"timelineEntries"`
}

// Stats returns the current counters.
func (e *Engine) Stats() StatsSnapshot {
	return StatsSnapshot{
		InPkts:                e.stats.InPkts.Load(),
		OutPkts:               e.stats.OutPkts.Load(),
		InBadVersions:         e.stats.InBadVersions.Load(),
		InBadCommunityNames:   e.stats.InBadCommunityNames.Load(),
		InASNParseErrs:        e.stats.InASNParseErrs.Load(),
		UnknownSecurityModels: e.stats.UnknownSecurityModels.Load(),
		InvalidMsgs:           e.stats.InvalidMsgs.Load(),
		UnknownPDUHandlers:    e.stats.UnknownPDUHandlers.Load(),
		USM:                   e.usm.Stats().Snapshot(),
		Pending:               e.Pending(),
		Timeline:              e.usm.TimelineLen(),
	}
}

// VarBinds renders the counters as Counter32 objects, ready for a
// MemoryMIB.
func (s StatsSnapshot) VarBinds() []codec.VarBind {
	c := codec.SetSNMPVar_Counter32
	return []codec.VarBind{
		{OID: OID_snmpInPkts, Value: c(s.InPkts)},
		{OID: OID_snmpInBadVersions, Value: c(s.InBadVersions)},
		{OID: OID_snmpInBadCommunityNames, Value: c(s.InBadCommunityNames)},
		{OID: OID_snmpInASNParseErrs, Value: c(s.InASNParseErrs)},
		{OID: OID_snmpUnknownSecurityModels, Value: c(s.UnknownSecurityModels)},
		{OID: OID_snmpInvalidMsgs, Value: c(s.InvalidMsgs)},
		{OID: OID_snmpUnknownPDUHandlers, Value: c(s.UnknownPDUHandlers)},
		{OID: usm.OID_usmStatsUnsupportedSecLevels, Value: c(s.USM.UnsupportedSecLevels)},
		{OID: usm.OID_usmStatsNotInTimeWindows, Value: c(s.USM.NotInTimeWindows)},
		{OID: usm.OID_usmStatsUnknownUserNames, Value: c(s.USM.UnknownUserNames)},
		{OID: usm.OID_usmStatsUnknownEngineIDs, Value: c(s.USM.UnknownEngineIDs)},
		{OID: usm.OID_usmStatsWrongDigests, Value: c(s.USM.WrongDigests)},
		{OID: usm.OID_usmStatsDecryptionErrors, Value: c(s.USM.DecryptionErrors)},
	}
}

// PublishStats copies the counters into mib as read-only objects.
func (e *Engine) PublishStats(mib *MemoryMIB) {
	for _, vb := range e.Stats().VarBinds() {
		mib.SetReadOnly(vb.OID, vb.Value)
	}
}
