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
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/objects"
)

func countReadings(t *testing.T, path, query string, args ...interface{}) int {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	return n
}

func TestRecorderSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "readings.db")
	sink := NewRecorderSink(model.RecorderConfig{Path: path}, zerolog.Nop())
	ctx := context.Background()

	if err := sink.Send(ctx, objects.Reading{ObjectID: "bus"}); !IsNotConnected(err) {
		t.Errorf("expected NotConnectedError before Open, got %v", err)
	}
	if err := sink.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	firstRun := sink.RunID()
	if firstRun == "" {
		t.Fatal("expected run ID")
	}
	now := time.Now()
	readings := []objects.Reading{
		{ObjectID: "bus", Device: "adc0", Channel: "ch1", Value: 4.5, Unit: "V", Timestamp: now},
		{ObjectID: "temp", Device: "adc0", Channel: "temperature", Unit: "C", Error: "data not ready", Timestamp: now},
	}
	for _, r := range readings {
		if err := sink.Send(ctx, r); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A new run appends to the same database
	if err := sink.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if sink.RunID() == firstRun {
		t.Error("expected a new run ID")
	}
	if err := sink.Send(ctx, readings[0]); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	sink.Close()

	if n := countReadings(t, path, `SELECT COUNT(*) FROM readings`); n != 3 {
		t.Errorf("expected 3 readings, got %d", n)
	}
	if n := countReadings(t, path, `SELECT COUNT(*) FROM readings WHERE run_id = ?`, firstRun); n != 2 {
		t.Errorf("expected 2 readings in first run, got %d", n)
	}
	if n := countReadings(t, path, `SELECT COUNT(*) FROM readings WHERE error IS NOT NULL AND value IS NULL`); n != 1 {
		t.Errorf("expected 1 failed reading, got %d", n)
	}
}

func TestRecorderSinkRetention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.db")
	ctx := context.Background()
	sink := NewRecorderSink(model.RecorderConfig{Path: path}, zerolog.Nop())
	if err := sink.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	sink.Send(ctx, objects.Reading{ObjectID: "old", Unit: "V", Timestamp: time.Now().Add(-48 * time.Hour)})
	sink.Send(ctx, objects.Reading{ObjectID: "new", Unit: "V", Timestamp: time.Now()})
	sink.Close()

	// Reopening with a retention prunes old readings
	sink = NewRecorderSink(model.RecorderConfig{Path: path, Retention: 24 * time.Hour}, zerolog.Nop())
	if err := sink.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	sink.Close()
	if n := countReadings(t, path, `SELECT COUNT(*) FROM readings`); n != 1 {
		t.Errorf("expected 1 reading after pruning, got %d", n)
	}
	if n := countReadings(t, path, `SELECT COUNT(*) FROM readings WHERE object = 'new'`); n != 1 {
		t.Errorf("expected the new reading to remain")
	}
}
