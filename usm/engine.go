// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package usm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// engineIDPrefix is the RFC 3411 SnmpEngineID header: bit 7 set, enterprise
// 8072 (net-snmp), format 5 (administratively assigned octets).
var engineIDPrefix = []byte{0x80, 0x00, 0x1f, 0x88, 0x05}

// NewEngineID returns a random engine ID of 21 bytes.
func NewEngineID() []byte {
	u := uuid.New()
	return append(append([]byte(nil), engineIDPrefix...), u[:]...)
}

// ValidEngineID reports whether id has a legal SnmpEngineID length.
func ValidEngineID(id []byte) bool {
	return len(id) >= 5 && len(id) <= 32
}

// LocalEngine holds snmpEngineID, snmpEngineBoots and the start of the
// current boot period. snmpEngineTime is derived from the clock.
type LocalEngine struct {
	mu        sync.Mutex
	engineID  []byte
	boots     uint32
	bootStart time.Time
	now       func() time.Time
	bootsFile string
	saveErr   error
}

// NewLocalEngine creates an engine with fixed boots. A nil engineID is
// replaced by NewEngineID, a nil now by time.Now.
func NewLocalEngine(engineID []byte, boots uint32, now func() time.Time) (*LocalEngine, error) {
	if engineID == nil {
		engineID = NewEngineID()
	}
	if !ValidEngineID(engineID) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidEngineID, len(engineID))
	}
	if now == nil {
		now = time.Now
	}
	if boots > MaxEngineBoots {
		boots = MaxEngineBoots
	}
	return &LocalEngine{
		engineID:  append([]byte(nil), engineID...),
		boots:     boots,
		bootStart: now(),
		now:       now,
	}, nil
}

// LoadLocalEngine reads snmpEngineBoots from bootsFile, increments it and
// writes it back, so each engine start is a new boot. A missing file starts
// at boots 1.
func LoadLocalEngine(engineID []byte, bootsFile string, now func() time.Time) (*LocalEngine, error) {
	var boots uint64
	data, err := os.ReadFile(bootsFile)
	switch {
	case err == nil:
		boots, err = strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("boots file %s: %w", bootsFile, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	if boots < MaxEngineBoots {
		boots++
	}
	e, err := NewLocalEngine(engineID, uint32(boots), now)
	if err != nil {
		return nil, err
	}
	e.bootsFile = bootsFile
	if err := e.saveBoots(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *LocalEngine) saveBoots() error {
	if e.bootsFile == "" {
		return nil
	}
	tmp := filepath.Join(filepath.Dir(e.bootsFile), "."+filepath.Base(e.bootsFile)+".tmp")
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(uint64(e.boots), 10)+"\n"), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, e.bootsFile)
}

// EngineID returns a copy of snmpEngineID.
func (e *LocalEngine) EngineID() []byte {
	return append([]byte(nil), e.engineID...)
}

// BootsTime returns snmpEngineBoots and snmpEngineTime. When time would pass
// 2^31-1 a new boot period starts and is written to the boots file; a write
// failure is kept for SaveError.
func (e *LocalEngine) BootsTime() (uint32, uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	elapsed := e.now().Sub(e.bootStart) / time.Second
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > MaxEngineBoots {
		e.saveErr = e.rebootLocked()
		elapsed = 0
	}
	return e.boots, uint32(elapsed)
}

// Reboot starts a new boot period. Boots latches at 2^31-1.
func (e *LocalEngine) Reboot() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebootLocked()
}

// SaveError returns the error of the last boots file write made by
// BootsTime, if it failed.
func (e *LocalEngine) SaveError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saveErr
}

func (e *LocalEngine) rebootLocked() error {
	if e.boots < MaxEngineBoots {
		e.boots++
	}
	e.bootStart = e.now()
	return e.saveBoots()
}
