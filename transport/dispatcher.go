// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultPollInterval = time.Second
	DefaultInboxSize    = 1024
)

// Direction of a datagram seen by an Observer.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// Observer sees every datagram the dispatcher sends or delivers.
type Observer interface {
	Observe(dir Direction, domain string, local, remote net.Addr, data []byte)
}

// RecvFunc handles one received datagram on the dispatcher loop.
type RecvFunc func(Datagram)

// TimerFunc is called on the dispatcher loop every poll interval.
type TimerFunc func(now time.Time)

// DispatcherConfig configures NewDispatcher. Zero values select defaults.
type DispatcherConfig struct {
	PollInterval time.Duration
	InboxSize    int
	Logger       *slog.Logger
}

// Dispatcher multiplexes transports onto one event loop. Reader goroutines
// of the transports only queue datagrams; the receive callback and the timer
// callbacks all run on the goroutine executing Run.
type Dispatcher struct {
	interval time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	transports map[string]Transport
	recv       RecvFunc
	timers     []TimerFunc
	jobs       map[int]int
	observers  []Observer

	inbox     chan Datagram
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	running   atomic.Bool
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		interval:   cfg.PollInterval,
		logger:     cfg.Logger,
		transports: make(map[string]Transport),
		jobs:       make(map[int]int),
		inbox:      make(chan Datagram, cfg.InboxSize),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// RegisterTransport opens t and starts routing its datagrams. One transport
// per domain.
func (d *Dispatcher) RegisterTransport(t Transport) error {
	domain := t.Domain()
	d.mu.Lock()
	if _, ok := d.transports[domain]; ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDomainRegistered, domain)
	}
	d.transports[domain] = t
	d.mu.Unlock()

	if err := t.Open(d.enqueue); err != nil {
		d.mu.Lock()
		delete(d.transports, domain)
		d.mu.Unlock()
		return err
	}
	d.logger.Info("transport registered", "domain", domain, "local", addrString(t.LocalAddr()))
	return nil
}

// UnregisterTransport removes and closes the transport of domain.
func (d *Dispatcher) UnregisterTransport(domain string) error {
	d.mu.Lock()
	t, ok := d.transports[domain]
	delete(d.transports, domain)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	d.logger.Info("transport unregistered", "domain", domain)
	return t.Close()
}

// Transport returns the transport registered for domain.
func (d *Dispatcher) Transport(domain string) (Transport, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.transports[domain]
	return t, ok
}

// Domains lists the registered domains.
func (d *Dispatcher) Domains() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.transports))
	for k := range d.transports {
		out = append(out, k)
	}
	return out
}

// RegisterRecvCallback sets the single receive callback.
func (d *Dispatcher) RegisterRecvCallback(fn RecvFunc) {
	d.mu.Lock()
	d.recv = fn
	d.mu.Unlock()
}

// RegisterTimerCallback appends fn to the timer callbacks; they fire in
// registration order.
func (d *Dispatcher) RegisterTimerCallback(fn TimerFunc) {
	d.mu.Lock()
	d.timers = append(d.timers, fn)
	d.mu.Unlock()
}

// AddObserver registers o for every later datagram.
func (d *Dispatcher) AddObserver(o Observer) {
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

// SendMessage sends data to addr over the transport of domain.
func (d *Dispatcher) SendMessage(domain string, addr net.Addr, data []byte) error {
	d.mu.Lock()
	t, ok := d.transports[domain]
	observers := d.observers
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	if err := t.SendTo(data, addr); err != nil {
		return err
	}
	for _, o := range observers {
		o.Observe(Outbound, domain, t.LocalAddr(), addr, data)
	}
	return nil
}

// JobStarted counts one outstanding job under id.
func (d *Dispatcher) JobStarted(id int) {
	d.mu.Lock()
	d.jobs[id]++
	d.mu.Unlock()
}

// JobFinished releases one job of id. Extra calls are ignored.
func (d *Dispatcher) JobFinished(id int) {
	d.mu.Lock()
	if n := d.jobs[id]; n > 1 {
		d.jobs[id] = n - 1
	} else {
		delete(d.jobs, id)
	}
	d.mu.Unlock()
	d.poke()
}

// JobsArePending reports whether any job count is non-zero.
func (d *Dispatcher) JobsArePending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs) > 0
}

func (d *Dispatcher) poke() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) enqueue(dg Datagram) {
	select {
	case d.inbox <- dg:
	case <-d.done:
	}
}

// Run executes the event loop. Unless forever is set it returns as soon as
// no job is pending. It also returns on context cancellation and on Close.
func (d *Dispatcher) Run(ctx context.Context, forever bool) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if !forever && !d.JobsArePending() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.done:
			return nil
		case dg := <-d.inbox:
			d.dispatch(dg)
		case now := <-ticker.C:
			d.fireTimers(now)
		case <-d.wake:
		}
	}
}

// Running reports whether a goroutine is executing Run.
func (d *Dispatcher) Running() bool { return d.running.Load() }

func (d *Dispatcher) dispatch(dg Datagram) {
	d.mu.Lock()
	recv := d.recv
	observers := d.observers
	d.mu.Unlock()
	for _, o := range observers {
		o.Observe(Inbound, dg.Domain, dg.Local, dg.Remote, dg.Data)
	}
	if recv == nil {
		d.logger.Debug("datagram dropped, no receiver", "domain", dg.Domain, "from", addrString(dg.Remote))
		return
	}
	recv(dg)
}

func (d *Dispatcher) fireTimers(now time.Time) {
	d.mu.Lock()
	timers := append([]TimerFunc(nil), d.timers...)
	d.mu.Unlock()
	for _, fn := range timers {
		fn(now)
	}
}

// Close stops the loop and closes every transport.
func (d *Dispatcher) Close() error {
	var firstErr error
	d.closeOnce.Do(func() {
		close(d.done)
		d.mu.Lock()
		transports := d.transports
		d.transports = make(map[string]Transport)
		d.mu.Unlock()
		for domain, t := range transports {
			if err := t.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close %s: %w", domain, err)
			}
		}
	})
	return firstErr
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
