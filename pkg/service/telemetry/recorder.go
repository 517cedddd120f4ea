// Copyright 2024 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/objects"
)

const (
	recorderBusyTimeout = time.Second * 5
	// recorderPruneEvery is the number of readings between retention passes.
	recorderPruneEvery = 1000

	recorderSchema = `CREATE TABLE IF NOT EXISTS readings (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id    TEXT NOT NULL,
	object    TEXT NOT NULL,
	device    TEXT NOT NULL,
	channel   TEXT NOT NULL,
	value     REAL,
	unit      TEXT NOT NULL,
	error     TEXT,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS readings_object_timestamp ON readings (object, timestamp);`
)

// RecorderSink stores readings in a local SQLite database.
// Every Open starts a new run, identified by a random UUID.
type RecorderSink struct {
	log    zerolog.Logger
	config model.RecorderConfig

	mutex sync.Mutex
	db    *sql.DB
	runID string
	sent  int
}

// NewRecorderSink creates a sink for the given recorder configuration.
func NewRecorderSink(config model.RecorderConfig, log zerolog.Logger) *RecorderSink {
	return &RecorderSink{
		log:    log.With().Str("database", config.Path).Logger(),
		config: config,
	}
}

// Name of the sink
func (s *RecorderSink) Name() string {
	return "recorder"
}

// RunID returns the identifier of the current run.
func (s *RecorderSink) RunID() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.runID
}

// Open the database, creating it when needed.
func (s *RecorderSink) Open(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.db != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.config.Path), 0750); err != nil {
		return errors.Wrap(err, "create database directory")
	}
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		s.config.Path, recorderBusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.Wrap(err, "ping database")
	}
	if _, err := db.ExecContext(ctx, recorderSchema); err != nil {
		db.Close()
		return errors.Wrap(err, "create schema")
	}
	s.db = db
	s.runID = uuid.NewString()
	s.sent = 0
	s.log.Info().Str("run-id", s.runID).Msg("opened recorder")
	return s.pruneLocked(ctx)
}

// Send stores a reading.
func (s *RecorderSink) Send(ctx context.Context, r objects.Reading) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.db == nil {
		return maskAny(NotConnectedError)
	}
	var value, readingErr interface{}
	if r.Failed() {
		readingErr = r.Error
	} else {
		value = r.Value
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (run_id, object, device, channel, value, unit, error, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, r.ObjectID, r.Device, r.Channel, value, r.Unit, readingErr, r.Timestamp.UnixMilli()); err != nil {
		return errors.Wrap(err, "insert reading")
	}
	s.sent++
	if s.sent%recorderPruneEvery == 0 {
		return s.pruneLocked(ctx)
	}
	return nil
}

// pruneLocked removes readings older than the retention.
func (s *RecorderSink) pruneLocked(ctx context.Context) error {
	if s.config.Retention == 0 {
		return nil
	}
	cutoff := time.Now().Add(-s.config.Retention).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM readings WHERE timestamp < ?`, cutoff)
	if err != nil {
		return errors.Wrap(err, "prune readings")
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		s.log.Debug().Int64("count", n).Msg("pruned readings")
	}
	return nil
}

// Close the database.
func (s *RecorderSink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	if err := db.Close(); err != nil {
		return errors.Wrap(err, "close database")
	}
	return nil
}
