// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/OlegPowerC/powersnmpengine/logging"
	"github.com/fsnotify/fsnotify"
)

// DefaultSettleDelay lets a writer finish before the file is read again.
const DefaultSettleDelay = 100 * time.Millisecond

// ChangeFunc is called after every reload attempt. On failure err is set,
// cur is nil and the previous configuration stays in effect.
type ChangeFunc func(old, cur *Config, err error)

// Watcher keeps the configuration of one file current.
//
// The directory of the file is watched rather than the file itself, so
// editors that replace the file by renaming are followed too.
type Watcher struct {
	path   string
	settle time.Duration
	logger *slog.Logger

	mu        sync.RWMutex
	current   *Config
	callbacks []ChangeFunc
	watcher   *fsnotify.Watcher
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewWatcher loads path. Watching starts with Start.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}
	cfg, err := Load(abs)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:    abs,
		settle:  DefaultSettleDelay,
		logger:  logging.Component(logger, logging.ComponentConfig),
		current: cfg,
	}, nil
}

// Config returns the configuration in effect.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers fn for later reloads.
func (w *Watcher) OnChange(fn ChangeFunc) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Reload reads the file now and notifies the callbacks.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	w.mu.Lock()
	old := w.current
	if err == nil {
		w.current = cfg
	}
	callbacks := append([]ChangeFunc(nil), w.callbacks...)
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("configuration reload failed", "path", w.path, "err", err)
	} else {
		w.logger.Info("configuration reloaded", "path", w.path)
	}
	for _, fn := range callbacks {
		fn(old, cfg, err)
	}
	return err
}

// Start watches the file until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return errors.New("config watcher already started")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to watch config file %s: %w", w.path, err)
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.watcher = fw
	w.done = make(chan struct{})
	go w.watch(ctx, fw, w.done)
	w.logger.Debug("watching configuration", "path", w.path)
	return nil
}

func (w *Watcher) watch(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			select {
			case <-time.After(w.settle):
			case <-ctx.Done():
				return
			}
			// coalesce the events of one save
			drain(fw.Events)
			_ = w.Reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "err", err)
		case <-ctx.Done():
			return
		}
	}
}

func drain(events <-chan fsnotify.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Close stops watching. The last configuration stays available.
func (w *Watcher) Close() error {
	w.mu.Lock()
	fw, cancel, done := w.watcher, w.cancel, w.done
	w.watcher, w.cancel, w.done = nil, nil, nil
	w.mu.Unlock()
	if fw == nil {
		return nil
	}
	cancel()
	err := fw.Close()
	<-done
	return err
}
