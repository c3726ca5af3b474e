// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

// Package PowerSNMP is an SNMP v1/v2c/v3 engine: command generator, command
// responder and notification receiver on top of one event loop.
//
// Basic usage:
//
//	eng, err := PowerSNMP.NewEngine(PowerSNMP.Config{})
//	if err != nil {
//		return err
//	}
//	defer eng.Close()
//	tr := transport.NewUDPClient("udp4", nil)
//	if err := eng.AddTransport(tr); err != nil {
//		return err
//	}
//	_ = eng.AddUser(usm.UserConfig{Name: "monitor", AuthProtocol: usm.AUTH_PROTOCOL_SHA256,
//		AuthPassphrase: "authpass", PrivProtocol: usm.PRIV_PROTOCOL_AES128, PrivPassphrase: "privpass"})
//	vbs, err := eng.Get(ctx, target, codec.MustOID("1.3.6.1.2.1.1.1.0"))
//
// All message processing runs on the dispatcher loop. The blocking helpers
// drive the loop themselves when nobody called Start.
package PowerSNMP

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/OlegPowerC/powersnmpengine/codec"
	"github.com/OlegPowerC/powersnmpengine/logging"
	"github.com/OlegPowerC/powersnmpengine/transport"
	"github.com/OlegPowerC/powersnmpengine/usm"
)

// Config configures NewEngine. Zero values select defaults.
type Config struct {
	// EngineID of the local engine; random when nil.
	EngineID []byte
	// BootsFile persists snmpEngineBoots; it is incremented on every start.
	BootsFile string
	// Boots is used when BootsFile is empty.
	Boots uint32

	PollInterval     time.Duration
	DisableDiscovery bool
	TimelineTTL      time.Duration
	TimelineCapacity int

	DefaultTimeout time.Duration
	// DefaultRetries applies to targets with Retries == 0; negative means no
	// retries.
	DefaultRetries int
	MaxMsgSize     int
	HandleWindow   int

	Logger *slog.Logger
	Now    func() time.Time
}

// Engine is one SNMP engine: local identity, USM, community and target
// tables, pending requests and the transport dispatcher.
type Engine struct {
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
	local      *usm.LocalEngine
	usm        *usm.USM
	dispatcher *transport.Dispatcher
	handles    *handleGenerator
	stats      Stats

	mu          sync.Mutex
	pending     map[Handle]*pendingRequest
	communities map[string]Community
	targets     map[string]Target
	discovered  map[string][]byte
	notify      []NotificationHandler
	mib         Instrumentation
	access      AccessControl

	closeOnce sync.Once
	closed    chan struct{}
}

// NewEngine creates an engine without transports.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = SNMP_DEFAULTTIMEOUT
	}
	switch {
	case cfg.DefaultRetries == 0:
		cfg.DefaultRetries = SNMP_DEFAULTRETRY
	case cfg.DefaultRetries < 0:
		cfg.DefaultRetries = 0
	case cfg.DefaultRetries > SNMP_MAXIMUM_RETRY:
		cfg.DefaultRetries = SNMP_MAXIMUM_RETRY
	}
	if cfg.MaxMsgSize < SNMP_MINMSGSIZE || cfg.MaxMsgSize > SNMP_MAXMSGSIZE {
		cfg.MaxMsgSize = SNMP_DEFAULTMSGSIZE
	}
	if cfg.TimelineTTL <= 0 {
		cfg.TimelineTTL = usm.DefaultTimelineTTL * time.Second
	}

	var local *usm.LocalEngine
	var err error
	if cfg.BootsFile != "" {
		local, err = usm.LoadLocalEngine(cfg.EngineID, cfg.BootsFile, cfg.Now)
	} else {
		local, err = usm.NewLocalEngine(cfg.EngineID, cfg.Boots, cfg.Now)
	}
	if err != nil {
		return nil, fmt.Errorf("local engine: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		logger: logging.Component(cfg.Logger, logging.ComponentEngine),
		now:    cfg.Now,
		local:  local,
		usm: usm.New(usm.Config{
			Local:            local,
			Discovery:        !cfg.DisableDiscovery,
			TimelineCapacity: cfg.TimelineCapacity,
			TimelineTTL:      cfg.TimelineTTL,
			Logger:           logging.Component(cfg.Logger, logging.ComponentUSM),
			Now:              cfg.Now,
		}),
		dispatcher: transport.NewDispatcher(transport.DispatcherConfig{
			PollInterval: cfg.PollInterval,
			Logger:       logging.Component(cfg.Logger, logging.ComponentDispatcher),
		}),
		handles:     newHandleGenerator(cfg.HandleWindow),
		pending:     make(map[Handle]*pendingRequest),
		communities: make(map[string]Community),
		targets:     make(map[string]Target),
		discovered:  make(map[string][]byte),
		closed:      make(chan struct{}),
	}
	e.dispatcher.RegisterRecvCallback(e.receiveMessage)
	e.dispatcher.RegisterTimerCallback(e.onTimer)

	boots, _ := local.BootsTime()
	e.logger.Info("engine created", "engineID", hex.EncodeToString(local.EngineID()), "boots", boots)
	return e, nil
}

// EngineID returns the local snmpEngineID.
func (e *Engine) EngineID() []byte { return e.local.EngineID() }

// BootsTime returns the local snmpEngineBoots and snmpEngineTime.
func (e *Engine) BootsTime() (uint32, uint32) { return e.local.BootsTime() }

// USM returns the security model instance.
func (e *Engine) USM() *usm.USM { return e.usm }

// Dispatcher returns the transport dispatcher, e.g. to add observers.
func (e *Engine) Dispatcher() *transport.Dispatcher { return e.dispatcher }

// Run executes the dispatcher loop until ctx is done or Close is called.
func (e *Engine) Run(ctx context.Context) error {
	return e.dispatcher.Run(ctx, true)
}

// Start runs the dispatcher loop in its own goroutine.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		if err := e.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("dispatcher loop stopped", "error", err)
		}
	}()
}

// Close stops the loop, closes every transport and drops pending requests
// without calling their callbacks.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		err = e.dispatcher.Close()
		e.mu.Lock()
		abandoned := e.pending
		e.pending = make(map[Handle]*pendingRequest)
		e.mu.Unlock()
		for _, r := range abandoned {
			e.dispatcher.JobFinished(r.job)
		}
		e.logger.Info("engine closed", "abandoned", len(abandoned))
	})
	return err
}

// AddUser adds or replaces a USM user. Users without EngineID are
// prototypes, localized for every engine they talk to.
func (e *Engine) AddUser(u usm.UserConfig) error { return e.usm.AddUser(u) }

// RemoveUser deletes a USM user; nil engineID means the local engine.
func (e *Engine) RemoveUser(engineID []byte, name string) bool {
	return e.usm.RemoveUser(engineID, name)
}

// Users lists the USM users without key material.
func (e *Engine) Users() []usm.UserInfo { return e.usm.Users() }

// AddCommunity adds or replaces a community mapping. SecurityName defaults
// to Name, Access to read-only.
func (e *Engine) AddCommunity(c Community) error {
	if c.Community == "" {
		return ErrEmptyCommunity
	}
	if c.Name == "" {
		c.Name = c.Community
	}
	if c.SecurityName == "" {
		c.SecurityName = c.Name
	}
	if c.Access != ACCESS_READWRITE {
		c.Access = ACCESS_READONLY
	}
	e.mu.Lock()
	e.communities[c.Name] = c
	e.mu.Unlock()
	e.logger.Debug("community added", "name", c.Name, "securityName", c.SecurityName, "access", c.Access)
	return nil
}

// RemoveCommunity deletes the community mapping called name.
func (e *Engine) RemoveCommunity(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.communities[name]
	delete(e.communities, name)
	return ok
}

// Communities lists the community mappings sorted by name.
func (e *Engine) Communities() []Community {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := slices.Collect(maps.Values(e.communities))
	slices.SortFunc(out, func(a, b Community) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (e *Engine) lookupCommunity(community []byte) (Community, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.communities {
		if c.Community == string(community) {
			return c, true
		}
	}
	return Community{}, false
}

// AddTarget stores a named target.
func (e *Engine) AddTarget(name string, t Target) error {
	if t.Address == nil {
		return fmt.Errorf("target %s: %w", name, ErrNoAddress)
	}
	switch t.Version {
	case codec.SNMP_VERSION_1, codec.SNMP_VERSION_2C, codec.SNMP_VERSION_3:
	default:
		return fmt.Errorf("target %s: %w: %d", name, ErrUnsupportedVersion, t.Version)
	}
	e.mu.Lock()
	e.targets[name] = t
	e.mu.Unlock()
	return nil
}

// RemoveTarget deletes the named target.
func (e *Engine) RemoveTarget(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.targets[name]
	delete(e.targets, name)
	return ok
}

// Target returns the named target.
func (e *Engine) Target(name string) (Target, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.targets[name]
	if !ok {
		return Target{}, fmt.Errorf("%w: %s", ErrUnknownTarget, name)
	}
	return t, nil
}

// Targets returns a copy of the target table.
func (e *Engine) Targets() map[string]Target {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.targets)
}

// AddTransport registers and opens t.
func (e *Engine) AddTransport(t transport.Transport) error {
	return e.dispatcher.RegisterTransport(t)
}

// RemoveTransport closes the transport of domain. Pending requests sent over
// it are dropped without calling their callbacks.
func (e *Engine) RemoveTransport(domain string) error {
	if err := e.dispatcher.UnregisterTransport(domain); err != nil {
		return err
	}
	e.mu.Lock()
	var abandoned []*pendingRequest
	for h, r := range e.pending {
		if r.target.Domain == domain {
			delete(e.pending, h)
			abandoned = append(abandoned, r)
		}
	}
	e.mu.Unlock()
	for _, r := range abandoned {
		e.dispatcher.JobFinished(r.job)
	}
	if len(abandoned) > 0 {
		e.logger.Debug("pending requests abandoned", "domain", domain, "count", len(abandoned))
	}
	return nil
}

// SetResponder enables the command responder. A nil ac allows everything.
func (e *Engine) SetResponder(mib Instrumentation, ac AccessControl) {
	if ac == nil {
		ac = AllowAll{}
	}
	e.mu.Lock()
	e.mib, e.access = mib, ac
	e.mu.Unlock()
}

// AddNotificationHandler registers h for received traps and informs.
func (e *Engine) AddNotificationHandler(h NotificationHandler) {
	e.mu.Lock()
	e.notify = append(e.notify, h)
	e.mu.Unlock()
}

// DiscoveredEngineID returns the engine ID learned for the target's address.
func (e *Engine) DiscoveredEngineID(t Target) ([]byte, bool) {
	t = e.normalizeTarget(t)
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.discovered[targetKey(t)]
	return slices.Clone(id), ok
}

func (e *Engine) setDiscovered(t Target, engineID []byte) {
	e.mu.Lock()
	e.discovered[targetKey(t)] = slices.Clone(engineID)
	e.mu.Unlock()
}

func targetKey(t Target) string {
	return t.Domain + "|" + t.Address.String()
}

// normalizeTarget fills the defaults of t.
func (e *Engine) normalizeTarget(t Target) Target {
	if t.Domain == "" {
		t.Domain = transport.DomainUDPv4
	}
	if t.Timeout <= 0 {
		t.Timeout = e.cfg.DefaultTimeout
	}
	switch {
	case t.Retries == 0:
		t.Retries = e.cfg.DefaultRetries
	case t.Retries < 0:
		t.Retries = 0
	case t.Retries > SNMP_MAXIMUM_RETRY:
		t.Retries = SNMP_MAXIMUM_RETRY
	}
	if t.MaxMsgSize < SNMP_MINMSGSIZE || t.MaxMsgSize > SNMP_MAXMSGSIZE {
		t.MaxMsgSize = e.cfg.MaxMsgSize
	}
	if t.Version == codec.SNMP_VERSION_3 && t.SecurityLevel == 0 {
		t.SecurityLevel = usm.SECLEVEL_NOAUTH_NOPRIV
	}
	return t
}

// authoritativeID returns the security engine ID for a v3 message to t, or
// nil while it is unknown.
func (e *Engine) authoritativeID(t Target, pdu *codec.PDU) []byte {
	if len(t.EngineID) > 0 {
		return t.EngineID
	}
	// the sender of an unconfirmed notification is authoritative
	if !pdu.IsConfirmed() {
		return e.local.EngineID()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.discovered[targetKey(t)]
}

func (e *Engine) isLocal(engineID []byte) bool {
	return bytes.Equal(engineID, e.local.EngineID())
}
