// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package history persists engine events (mode transitions, inference
// outcomes, intervention starts) to a local SQLite database for later
// review and calibration tooling.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/config"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/events"
)

// Entry is one persisted engine event.
type Entry struct {
	ID        int64                  `json:"id"`
	EventID   string                 `json:"event_id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	OldMode   string                 `json:"old_mode,omitempty"`
	NewMode   string                 `json:"new_mode,omitempty"`
	Reasons   string                 `json:"reasons,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Collector manages event persistence and retention.
type Collector struct {
	db            *sql.DB
	dbPath        string
	retentionDays int
	enabled       bool
	mu            sync.RWMutex
	subs          []*events.Subscription
}

// NewCollector creates a collector from config. Call Initialize before use.
func NewCollector(cfg config.HistoryConfig) (*Collector, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("history: database path cannot be empty")
	}
	retention := cfg.RetentionDays
	if retention <= 0 {
		retention = 90
	}
	return &Collector{
		dbPath:        cfg.DBPath,
		retentionDays: retention,
	}, nil
}

// Initialize opens the database and creates the schema.
func (c *Collector) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dir := filepath.Dir(c.dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("history: failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", c.dbPath)
	if err != nil {
		return fmt.Errorf("history: failed to open database: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS engine_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		type TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		old_mode TEXT,
		new_mode TEXT,
		reasons TEXT,
		data TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_engine_events_timestamp ON engine_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_engine_events_type ON engine_events(type);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("history: failed to create schema: %w", err)
	}

	c.db = db
	c.enabled = true

	log.Infof("History collector initialized (db: %s, retention: %d days)", c.dbPath, c.retentionDays)

	go c.cleanupOldRecords(context.Background())
	return nil
}

// Attach subscribes the collector to every event type on the bus.
func (c *Collector) Attach(bus *events.Bus) {
	c.subs = bus.SubscribeAll(func(e *events.Event) {
		if err := c.Record(context.Background(), e); err != nil {
			log.Warnf("Failed to persist event %s: %v", e.Type, err)
		}
	})
}

// Detach unsubscribes from the bus.
func (c *Collector) Detach() {
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil
}

// Record stores one event.
func (c *Collector) Record(ctx context.Context, e *events.Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.enabled {
		return fmt.Errorf("history: collector not enabled")
	}

	var dataJSON []byte
	var err error
	if e.Data != nil {
		dataJSON, err = json.Marshal(e.Data)
		if err != nil {
			log.Warnf("Failed to marshal event data: %v", err)
			dataJSON = []byte("{}")
		}
	}

	reasons, _ := json.Marshal(e.Reasons)

	_, err = c.db.ExecContext(ctx, `
	INSERT INTO engine_events (event_id, type, timestamp, old_mode, new_mode, reasons, data)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		string(e.Type),
		e.Timestamp,
		e.OldMode,
		e.NewMode,
		string(reasons),
		string(dataJSON),
	)
	if err != nil {
		return fmt.Errorf("history: failed to insert event: %w", err)
	}
	return nil
}

// GetRecent retrieves the most recent entries, newest first.
func (c *Collector) GetRecent(ctx context.Context, limit int) ([]Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.enabled {
		return nil, fmt.Errorf("history: collector not enabled")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.db.QueryContext(ctx, `
	SELECT id, event_id, type, timestamp, old_mode, new_mode, reasons, data
	FROM engine_events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query failed: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var oldMode, newMode, reasons, data sql.NullString
		if err := rows.Scan(&e.ID, &e.EventID, &e.Type, &e.Timestamp, &oldMode, &newMode, &reasons, &data); err != nil {
			return nil, fmt.Errorf("history: scan failed: %w", err)
		}
		e.OldMode = oldMode.String
		e.NewMode = newMode.String
		e.Reasons = reasons.String
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				log.Debugf("Unreadable event data for row %d: %v", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// cleanupOldRecords deletes entries past the retention window.
func (c *Collector) cleanupOldRecords(ctx context.Context) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.enabled {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -c.retentionDays)
	res, err := c.db.ExecContext(ctx, `DELETE FROM engine_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		log.Warnf("History cleanup failed: %v", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Infof("History cleanup removed %d old events", n)
	}
}

// Close shuts the collector down.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = false
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}
