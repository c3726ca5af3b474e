// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

// snmpengined runs an engine described by a configuration file. Users,
// communities and targets follow edits to the file without a restart.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	PowerSNMP "github.com/OlegPowerC/powersnmpengine"
	"github.com/OlegPowerC/powersnmpengine/capture"
	"github.com/OlegPowerC/powersnmpengine/config"
	"github.com/OlegPowerC/powersnmpengine/logging"
	"github.com/OlegPowerC/powersnmpengine/status"
)

const statsRefresh = 5 * time.Second

func main() {
	ConfigPath := flag.String("config", "snmpengine.yaml", "Configuration file (YAML or JSON)")
	CaptureFile := flag.String("capture", "", "Write a pcap of all datagrams, overrides capture.file")
	Check := flag.Bool("check", false, "Validate the configuration and exit")
	flag.Parse()

	if err := run(*ConfigPath, *CaptureFile, *Check); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, captureFile string, check bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if check {
		fmt.Println("configuration OK")
		return nil
	}

	lg, err := logging.Open(cfg.LoggingConfig())
	if err != nil {
		return err
	}
	defer lg.Close()
	logger := lg.Logger
	watcher, err := config.NewWatcher(configPath, logger)
	if err != nil {
		return err
	}
	cfg = watcher.Config()

	engCfg, err := cfg.EngineConfig(logger)
	if err != nil {
		return err
	}
	eng, err := PowerSNMP.NewEngine(engCfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	for _, tc := range cfg.Transports {
		t, err := tc.Transport(logging.Component(logger, logging.ComponentTransport))
		if err != nil {
			return err
		}
		if err := eng.AddTransport(t); err != nil {
			return fmt.Errorf("transport %s: %w", tc.Domain, err)
		}
	}
	changes, err := config.Apply(eng, cfg)
	if err != nil {
		return err
	}
	logger.Info("configuration applied", "path", configPath, "changes", changes)

	if captureFile == "" {
		captureFile = cfg.Capture.File
	}
	if captureFile != "" {
		rec, err := capture.Create(captureFile, logging.Component(logger, logging.ComponentCapture))
		if err != nil {
			return err
		}
		defer func() {
			written, skipped := rec.Stats()
			logger.Info("capture closed", "file", captureFile, "written", written, "skipped", skipped)
			_ = rec.Close()
		}()
		eng.Dispatcher().AddObserver(rec)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Responder.Enabled {
		mib, err := cfg.Responder.MIB()
		if err != nil {
			return err
		}
		eng.PublishStats(mib)
		eng.SetResponder(mib, nil)
		go refreshStats(ctx, eng, mib)
	}

	watcher.OnChange(func(old, cur *config.Config, err error) {
		if err != nil {
			return
		}
		if lerr := lg.SetLevel(cur.Logging.Level); lerr != nil {
			logger.Warn("log level not changed", "err", lerr)
		}
		changes, err := config.Reconcile(eng, old, cur)
		if err != nil {
			logger.Error("configuration partially applied", "err", err, "changes", changes)
			return
		}
		if !changes.Empty() {
			logger.Info("configuration applied", "changes", changes)
		}
	})
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Close()

	if cfg.Status.Enabled {
		srv := status.New(eng, status.Options{
			Address: cfg.Status.Address,
			Logger:  logger,
			Levels:  lg,
		})
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				logger.Error("status server stopped", "err", err)
				stop()
			}
		}()
	}

	logger.Info("engine running", "engineID", hex.EncodeToString(eng.EngineID()), "domains", eng.Dispatcher().Domains())
	err = eng.Run(ctx)
	if ctx.Err() != nil || errors.Is(err, PowerSNMP.ErrEngineClosed) {
		logger.Info("engine stopped")
		return nil
	}
	return err
}

// refreshStats keeps the published counters current.
func refreshStats(ctx context.Context, eng *PowerSNMP.Engine, mib *PowerSNMP.MemoryMIB) {
	ticker := time.NewTicker(statsRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.PublishStats(mib)
		}
	}
}
