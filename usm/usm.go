// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

// Package usm implements the User-based Security Model of RFC 3414 with the
// RFC 3826 / RFC 7860 extensions: message authentication, privacy, the
// engine timeline and the user table.
package usm

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OlegPowerC/powersnmpengine/codec"
)

// Config configures a USM instance.
type Config struct {
	Local *LocalEngine
	// Discovery accepts unconfirmed messages (traps, responses, reports)
	// from remote engines that have no timeline entry yet. The entry is
	// created once such a message authenticates. Command generators and
	// notification receivers need it.
	Discovery        bool
	TimelineCapacity int
	TimelineTTL      time.Duration
	Logger           *slog.Logger
	Now              func() time.Time
}

// USM is the security model instance of one engine. It is safe for
// concurrent use.
type USM struct {
	mu        sync.Mutex
	local     *LocalEngine
	users     *UserTable
	timeline  *Timeline
	stats     Stats
	discovery bool
	logger    *slog.Logger
	now       func() time.Time

	salt atomic.Uint64
}

// New creates a USM. Config.Local is required.
func New(cfg Config) *USM {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	u := &USM{
		local:     cfg.Local,
		users:     NewUserTable(),
		timeline:  NewTimeline(cfg.TimelineCapacity, cfg.TimelineTTL),
		discovery: cfg.Discovery,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err == nil {
		u.salt.Store(binary.BigEndian.Uint64(seed[:]))
	}
	return u
}

// Local returns the local engine.
func (u *USM) Local() *LocalEngine { return u.local }

// Stats returns the usmStats counters.
func (u *USM) Stats() *Stats { return &u.stats }

// AddUser adds or replaces a user. Users without EngineID are prototypes.
func (u *USM) AddUser(cfg UserConfig) error {
	engineID := cfg.EngineID
	prototype := len(engineID) == 0
	if prototype {
		engineID = u.local.EngineID()
	} else if !ValidEngineID(engineID) {
		return fmt.Errorf("usm: user %s: %w", cfg.Name, ErrInvalidEngineID)
	}
	user, err := NewUser(cfg, engineID)
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.users.Add(user, prototype)
	u.mu.Unlock()
	u.logger.Debug("user added", "user", cfg.Name, "engineID", hex.EncodeToString(engineID), "prototype", prototype)
	return nil
}

// RemoveUser deletes a user; a nil engineID means the local engine.
func (u *USM) RemoveUser(engineID []byte, name string) bool {
	if len(engineID) == 0 {
		engineID = u.local.EngineID()
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.users.Remove(engineID, name)
}

// Users lists the configured and cloned users without key material.
func (u *USM) Users() []UserInfo {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.users.Info()
}

// HasUser reports whether name can be resolved for engineID. A prototype
// resolves for every engine without being cloned into the table.
func (u *USM) HasUser(engineID []byte, name string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.users.Resolve(u.local.EngineID(), engineID, []byte(name))
	return ok
}

// LearnEngine records boots/time of a remote engine taken from a discovery
// report.
func (u *USM) LearnEngine(engineID []byte, boots, engineTime uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.timeline.Set(engineID, boots, engineTime, u.now())
}

// KnownEngine reports whether a timeline entry exists for engineID.
func (u *USM) KnownEngine(engineID []byte) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.timeline.Get(engineID)
	return ok
}

// ForgetEngine drops the timeline entry of engineID.
func (u *USM) ForgetEngine(engineID []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.timeline.Delete(engineID)
}

// ExpireTimeline purges stale timeline entries; it is called from the
// dispatcher timer.
func (u *USM) ExpireTimeline(now time.Time) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := u.timeline.Expire(now)
	if n > 0 {
		u.logger.Debug("timeline entries expired", "count", n)
	}
	return n
}

// TimelineLen returns the number of remote engines in the timeline.
func (u *USM) TimelineLen() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.timeline.Len()
}

// OutgoingParams are the inputs of generateRequestMsg/generateResponseMsg
// (RFC 3414 §3.1).
type OutgoingParams struct {
	MsgID            int32
	MaxSize          int
	Reportable       bool
	SecurityEngineID []byte
	SecurityName     []byte
	SecurityLevel    int
	ScopedPDU        []byte // serialized plaintext scoped PDU
}

// GenerateRequestMsg secures an outgoing request or notification. A message
// whose security engine ID is the local one (traps) uses the local counters,
// all others the timeline estimate of the target engine.
func (u *USM) GenerateRequestMsg(p OutgoingParams) ([]byte, error) {
	return u.generate(p, false)
}

// GenerateResponseMsg secures a response or report. The local engine is
// authoritative unless SecurityEngineID says otherwise. noAuthNoPriv reports
// may name a user that is not in the table.
func (u *USM) GenerateResponseMsg(p OutgoingParams) ([]byte, error) {
	if p.SecurityEngineID == nil {
		p.SecurityEngineID = u.local.EngineID()
	}
	return u.generate(p, true)
}

func (u *USM) generate(p OutgoingParams, response bool) ([]byte, error) {
	if p.MaxSize == 0 {
		p.MaxSize = 65507
	}
	if p.SecurityLevel == 0 {
		p.SecurityLevel = SECLEVEL_NOAUTH_NOPRIV
	}
	localID := u.local.EngineID()
	authoritative := bytes.Equal(p.SecurityEngineID, localID)

	// 1) user
	var user *User
	u.mu.Lock()
	needUser := p.SecurityLevel != SECLEVEL_NOAUTH_NOPRIV || (len(p.SecurityName) > 0 && !response)
	if needUser {
		var ok bool
		user, ok = u.users.Resolve(localID, p.SecurityEngineID, p.SecurityName)
		if !ok {
			u.mu.Unlock()
			return nil, fmt.Errorf("usm: user %q for engine %x: %w", p.SecurityName, p.SecurityEngineID, ErrUnknownSecurityName)
		}
		u.users.Keep(user)
		if p.SecurityLevel > user.SecurityLevel() {
			u.mu.Unlock()
			return nil, fmt.Errorf("usm: user %q: %w", p.SecurityName, ErrUnsupportedSecLevel)
		}
	}

	// 2) boots and time
	var boots, engineTime uint32
	if authoritative {
		boots, engineTime = u.local.BootsTime()
	} else if b, t, ok := u.timeline.Estimate(p.SecurityEngineID, u.now()); ok {
		boots, engineTime = b, t
	}
	u.mu.Unlock()

	sp := codec.SNMPv3_SecSeq{
		AuthEng: p.SecurityEngineID,
		Boots:   int32(boots),
		Time:    int32(engineTime),
		User:    p.SecurityName,
	}

	// 3) privacy
	data := p.ScopedPDU
	if p.SecurityLevel == SECLEVEL_AUTHPRIV {
		var salt [8]byte
		binary.BigEndian.PutUint64(salt[:], u.salt.Add(1))
		ct, privParams, err := encryptScopedPDU(user.PrivProtocol, user.PrivKey, boots, engineTime, salt[:], p.ScopedPDU)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncryptionError, err)
		}
		data = ct
		sp.PrivParams = privParams
	}

	// 4) placeholder
	if p.SecurityLevel >= SECLEVEL_AUTHNOPRIV {
		sp.AuthParams = make([]byte, DigestLength(user.AuthProtocol))
	}
	secParams, err := codec.EncodeSecurityParameters(sp)
	if err != nil {
		return nil, err
	}

	flags := FlagsFromSecurityLevel(p.SecurityLevel)
	if p.Reportable {
		flags |= codec.MsgFlag_Reportable
	}
	msg, err := codec.EncodeV3Message(&codec.V3Message{
		Header: codec.HeaderData{
			MsgID:         p.MsgID,
			MaxSize:       p.MaxSize,
			Flags:         flags,
			SecurityModel: codec.SecurityModel_USM,
		},
		SecurityParameters: secParams,
		ScopedPDUData:      data,
		Encrypted:          p.SecurityLevel == SECLEVEL_AUTHPRIV,
	})
	if err != nil {
		return nil, err
	}

	// 5) digest
	if p.SecurityLevel >= SECLEVEL_AUTHNOPRIV {
		return authenticateOutgoingMsg(msg, user.AuthKey, user.AuthProtocol)
	}
	return msg, nil
}

// IncomingResult is the outcome of ProcessIncomingMsg.
type IncomingResult struct {
	SecurityEngineID         []byte
	SecurityName             []byte
	SecurityLevel            int
	Boots                    uint32
	Time                     uint32
	ScopedPDU                []byte // plaintext
	MaxSizeResponseScopedPDU int
}

// ProcessIncomingMsg authenticates and decrypts a received message (RFC 3414
// §3.2). wholeMsg is the datagram, m its decoded form. Security failures are
// returned as *StatusError; malformed security parameters as
// codec.ErrMalformed.
func (u *USM) ProcessIncomingMsg(wholeMsg []byte, m *codec.V3Message) (*IncomingResult, error) {
	level, err := SecurityLevelFromFlags(m.Header.Flags)
	if err != nil {
		return nil, err
	}
	sp, err := codec.DecodeSecurityParameters(m.SecurityParameters)
	if err != nil {
		return nil, err
	}
	if sp.Boots < 0 || sp.Time < 0 {
		return nil, fmt.Errorf("%w: negative boots/time", codec.ErrMalformed)
	}
	boots, engineTime := uint32(sp.Boots), uint32(sp.Time)
	now := u.now()
	localID := u.local.EngineID()

	u.mu.Lock()
	defer u.mu.Unlock()

	report := func(kind error) error {
		se := u.stats.fail(kind)
		se.SecurityEngineID = sp.AuthEng
		se.SecurityName = sp.User
		se.SecurityLevel = level
		if !m.Encrypted {
			if ce, cn, rid, ok := codec.PeekScopedPDUContext(m.ScopedPDUData); ok {
				se.ContextEngineID, se.ContextName, se.RequestID, se.HasRequestID = ce, cn, rid, true
			}
		}
		u.logger.Debug("incoming message rejected", "reason", kind, "engineID", hex.EncodeToString(sp.AuthEng), "user", string(sp.User))
		return se
	}

	// 1) engine; confirmed-class PDUs (reportable) are addressed to the
	// receiving engine, so only unconfirmed ones may name another
	authoritative := bytes.Equal(sp.AuthEng, localID)
	if !authoritative {
		if m.Header.Reportable() {
			return nil, report(ErrUnknownEngineID)
		}
		if _, ok := u.timeline.Get(sp.AuthEng); !ok && (!u.discovery || !ValidEngineID(sp.AuthEng)) {
			return nil, report(ErrUnknownEngineID)
		}
	}

	// 2) user; an empty name at noAuthNoPriv is the anonymous discovery user
	user, ok := u.users.Resolve(localID, sp.AuthEng, sp.User)
	if !ok && len(sp.User) == 0 && level == SECLEVEL_NOAUTH_NOPRIV {
		user, ok = &User{}, true
	}
	if !ok {
		return nil, report(ErrUnknownSecurityName)
	}

	// 3) level
	if level > user.SecurityLevel() {
		return nil, report(ErrUnsupportedSecLevel)
	}

	// 4) digest
	if level >= SECLEVEL_AUTHNOPRIV {
		valid, err := verifyDigestRAW(wholeMsg, sp.AuthParams, user.AuthKey, user.AuthProtocol)
		if err != nil || !valid {
			return nil, report(ErrAuthenticationFailure)
		}
	}

	// 5) time window; only authenticated messages touch the timeline
	switch {
	case level >= SECLEVEL_AUTHNOPRIV && authoritative:
		lb, lt := u.local.BootsTime()
		delta := int64(lt) - int64(engineTime)
		if boots >= MaxEngineBoots || boots != lb || delta > TimeWindow || delta < -TimeWindow {
			return nil, report(ErrNotInTimeWindow)
		}
	case level >= SECLEVEL_AUTHNOPRIV:
		if err := u.timeline.Check(sp.AuthEng, boots, engineTime, now); err != nil {
			return nil, report(ErrNotInTimeWindow)
		}
	}

	// 6) privacy
	plain := m.ScopedPDUData
	if level == SECLEVEL_AUTHPRIV {
		if !m.Encrypted {
			return nil, report(ErrDecryptionError)
		}
		plain, err = decryptScopedPDU(user.PrivProtocol, user.PrivKey, boots, engineTime, sp.PrivParams, m.ScopedPDUData)
		if err == nil {
			_, err = codec.DecodeScopedPDU(plain)
		}
		if err != nil {
			return nil, report(ErrDecryptionError)
		}
	} else if m.Encrypted {
		return nil, fmt.Errorf("%w: encrypted data without privFlag", codec.ErrMalformed)
	}

	// 7) result; a clone is kept only once it proved to hold the keys
	if level >= SECLEVEL_AUTHNOPRIV {
		u.users.Keep(user)
	}
	maxSize := m.Header.MaxSize - len(m.SecurityParameters) - headerOverhead
	if maxSize < 0 {
		maxSize = 0
	}
	return &IncomingResult{
		SecurityEngineID:         append([]byte(nil), sp.AuthEng...),
		SecurityName:             append([]byte(nil), sp.User...),
		SecurityLevel:            level,
		Boots:                    boots,
		Time:                     engineTime,
		ScopedPDU:                plain,
		MaxSizeResponseScopedPDU: maxSize,
	}, nil
}

// ReportLevel returns the security level a Report for err must use: a
// notInTimeWindow report is authenticated when the user is known
// (RFC 3414 §3.2 step 7a), everything else goes out as noAuthNoPriv.
func ReportLevel(se *StatusError) int {
	if errors.Is(se, ErrNotInTimeWindow) && se.SecurityLevel >= SECLEVEL_AUTHNOPRIV {
		return SECLEVEL_AUTHNOPRIV
	}
	return SECLEVEL_NOAUTH_NOPRIV
}
