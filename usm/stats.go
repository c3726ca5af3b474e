// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package usm

import (
	"sync/atomic"
)

// Stats holds the usmStats counters of RFC 3414 §5.
type Stats struct {
	UnsupportedSecLevels atomic.Uint32
	NotInTimeWindows     atomic.Uint32
	UnknownUserNames     atomic.Uint32
	UnknownEngineIDs     atomic.Uint32
	WrongDigests         atomic.Uint32
	DecryptionErrors     atomic.Uint32
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	UnsupportedSecLevels uint32 `json:"usmStatsUnsupportedSecLevels"`
	NotInTimeWindows     uint32 `json:"usmStatsNotInTimeWindows"`
	UnknownUserNames     uint32 `json:"usmStatsUnknownUserNames"`
	UnknownEngineIDs     uint32 `json:"usmStatsUnknownEngineIDs"`
	WrongDigests         uint32 `json:"usmStatsWrongDigests"`
	DecryptionErrors     uint32 `json:"usmStatsDecryptionErrors"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		UnsupportedSecLevels: s.UnsupportedSecLevels.Load(),
		NotInTimeWindows:     s.NotInTimeWindows.Load(),
		UnknownUserNames:     s.UnknownUserNames.Load(),
		UnknownEngineIDs:     s.UnknownEngineIDs.Load(),
		WrongDigests:         s.WrongDigests.Load(),
		DecryptionErrors:     s.DecryptionErrors.Load(),
	}
}

// fail increments the counter that belongs to kind and returns the
// StatusError describing it.
func (s *Stats) fail(kind error) *StatusError {
	e := &StatusError{Kind: kind}
	switch kind {
	case ErrUnsupportedSecLevel:
		e.CounterOID, e.CounterValue = OID_usmStatsUnsupportedSecLevels, s.UnsupportedSecLevels.Add(1)
	case ErrNotInTimeWindow:
		e.CounterOID, e.CounterValue = OID_usmStatsNotInTimeWindows, s.NotInTimeWindows.Add(1)
	case ErrUnknownSecurityName:
		e.CounterOID, e.CounterValue = OID_usmStatsUnknownUserNames, s.UnknownUserNames.Add(1)
	case ErrUnknownEngineID:
		e.CounterOID, e.CounterValue = OID_usmStatsUnknownEngineIDs, s.UnknownEngineIDs.Add(1)
	case ErrAuthenticationFailure:
		e.CounterOID, e.CounterValue = OID_usmStatsWrongDigests, s.WrongDigests.Add(1)
	case ErrDecryptionError:
		e.CounterOID, e.CounterValue = OID_usmStatsDecryptionErrors, s.DecryptionErrors.Add(1)
	}
	return e
}
