// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the asdgptd daemon. The daemon
// runs the adaptive control loop, accepts sensor metrics and manual control
// over the local management API, and records engine events to SQLite.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/actuator"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/api"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/buildinfo"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/config"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/engine"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/estimator"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/events"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/history"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/inference"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/logging"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/persist"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/scheduler"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/trigger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		os.Stdout.WriteString("asdgptd " + buildinfo.Version + " (" + buildinfo.Commit + ", " + buildinfo.BuildDate + ")\n")
		return
	}

	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded .env file")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	logging.SetupBaseLogger(cfg.Debug)
	logDir := filepath.Join(filepath.Dir(*configPath), "logs")
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, logDir, cfg.LogsMaxTotalSizeMB); err != nil {
		log.Warnf("Failed to configure log output: %v", err)
	}

	log.Infof("asdgptd %s starting", buildinfo.Version)

	bus := events.NewBus()
	est := estimator.New(cfg.Estimator)

	suppression := persist.NewSuppressionStore(cfg.Persist.SuppressionFile)
	if err := suppression.Load(); err != nil {
		log.Warnf("Failed to load suppression store: %v", err)
	}
	preferences := persist.NewPreferenceStore(cfg.Persist.PreferencesFile)
	if err := preferences.Load(); err != nil {
		log.Warnf("Failed to load preference store: %v", err)
	}

	library := scheduler.NewLibrary()
	if err := library.LoadFile(cfg.Scheduler.LibraryPath); err != nil {
		log.Warnf("Failed to load intervention library: %v", err)
	}

	// The scheduler reads the mode through a closure so it can be built
	// before the engine that owns it.
	var eng *engine.Engine
	sched := scheduler.New(cfg.Scheduler, library, suppression, actuator.NewConsole(), bus,
		func() string {
			if eng == nil {
				return ""
			}
			return eng.Mode()
		},
		est.Values)

	dims := make([]string, 0, len(cfg.Estimator.Baseline))
	for dim := range cfg.Estimator.Baseline {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	client := inference.NewClient(cfg.Inference, dims)
	eng = engine.New(cfg, engine.Deps{
		Estimator:   est,
		Policy:      trigger.NewPolicy(cfg.Triggers),
		Breaker:     inference.NewBreaker(cfg.Inference.BreakerMaxFailures, cfg.Inference.BreakerCooldown()),
		Client:      client,
		Scheduler:   sched,
		Suppression: suppression,
		Preferences: preferences,
		Bus:         bus,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var collector *history.Collector
	if cfg.History.Enabled {
		collector, err = history.NewCollector(cfg.History)
		if err != nil {
			log.Warnf("History collector disabled: %v", err)
		} else if err := collector.Initialize(ctx); err != nil {
			log.Warnf("History collector disabled: %v", err)
			collector = nil
		} else {
			collector.Attach(bus)
		}
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.API, eng, sched, cfg.Debug)
		server.Start()
	}

	watcher := config.NewWatcher(*configPath, func(next *config.Config) {
		eng.ApplyConfig(next)
		client.SetConfig(next.Inference)
		if err := library.LoadFile(next.Scheduler.LibraryPath); err != nil {
			log.Warnf("Failed to reload intervention library: %v", err)
		}
		log.Info("Configuration reloaded")
	})
	if err := watcher.Start(); err != nil {
		log.Warnf("Config watcher not started: %v", err)
	}

	ticker := time.NewTicker(cfg.PollInterval())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Infof("Control loop running, poll interval %s", cfg.PollInterval())
	for {
		select {
		case <-ticker.C:
			eng.Update()
		case sig := <-sigCh:
			log.Infof("Received %s, shutting down", sig)
			shutdown(eng, server, watcher, collector, bus)
			return
		}
	}
}

func shutdown(eng *engine.Engine, server *api.Server, watcher *config.Watcher, collector *history.Collector, bus *events.Bus) {
	watcher.Stop()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := server.Shutdown(ctx); err != nil {
			log.Warnf("Management API shutdown: %v", err)
		}
		cancel()
	}

	eng.Shutdown(shutdownTimeout)

	if collector != nil {
		collector.Detach()
		if err := collector.Close(); err != nil {
			log.Warnf("History collector close: %v", err)
		}
	}

	bus.Shutdown()
	log.Info("Shutdown complete")
}
