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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/objects"
)

type fakeInflux struct {
	healthy  bool
	pingErr  error
	writeErr error
	points   []*write.Point
	closed   int
}

func (f *fakeInflux) Ping(ctx context.Context) (bool, error) { return f.healthy, f.pingErr }
func (f *fakeInflux) Close()                                 { f.closed++ }
func (f *fakeInflux) WritePoint(ctx context.Context, points ...*write.Point) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.points = append(f.points, points...)
	return nil
}

func newTestInfluxDBSink(client *fakeInflux) *InfluxDBSink {
	config := model.InfluxDBConfig{URL: "http://localhost:8086", Org: "flatsat", Bucket: "eps"}
	s := NewInfluxDBSink(config, "eps-flatsat", zerolog.Nop())
	s.newClient = func(model.InfluxDBConfig) influxAPI { return client }
	return s
}

func TestInfluxDBSinkSend(t *testing.T) {
	client := &fakeInflux{healthy: true}
	sink := newTestInfluxDBSink(client)
	ctx := context.Background()
	ts := time.Unix(1700000000, 0)
	r := objects.Reading{ObjectID: "bus", Device: "adc0", Channel: "ch1", Value: 4.5, Unit: "V", Timestamp: ts}

	if err := sink.Send(ctx, r); !IsNotConnected(err) {
		t.Errorf("expected NotConnectedError before Open, got %v", err)
	}
	if err := sink.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := sink.Send(ctx, r); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(client.points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(client.points))
	}
	line := write.PointToLineProtocol(client.points[0], time.Second)
	for _, s := range []string{"reading,", "board=eps-flatsat", "object=bus", "device=adc0", "channel=ch1", "unit=V", "value=4.5", "1700000000"} {
		if !strings.Contains(line, s) {
			t.Errorf("expected %q in %q", s, line)
		}
	}

	failed := objects.Reading{ObjectID: "bus", Device: "adc0", Channel: "ch1", Unit: "V", Error: "data not ready", Timestamp: ts}
	if err := sink.Send(ctx, failed); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	line = write.PointToLineProtocol(client.points[1], time.Second)
	if !strings.Contains(line, `error="data not ready"`) || strings.Contains(line, "value=") {
		t.Errorf("unexpected line %q", line)
	}
}

func TestInfluxDBSinkUnhealthy(t *testing.T) {
	client := &fakeInflux{healthy: false}
	sink := newTestInfluxDBSink(client)
	if err := sink.Open(context.Background()); !IsNotConnected(err) {
		t.Errorf("expected NotConnectedError, got %v", err)
	}
	if client.closed != 1 {
		t.Errorf("client must be closed, got %d", client.closed)
	}
}

func TestInfluxDBSinkWriteError(t *testing.T) {
	client := &fakeInflux{healthy: true}
	sink := newTestInfluxDBSink(client)
	ctx := context.Background()
	if err := sink.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	client.writeErr = errors.New("bucket not found")
	if err := sink.Send(ctx, objects.Reading{ObjectID: "bus", Timestamp: time.Now()}); err == nil {
		t.Error("expected error")
	}
	// Client is dropped, so the next send needs a new Open
	if err := sink.Send(ctx, objects.Reading{ObjectID: "bus", Timestamp: time.Now()}); !IsNotConnected(err) {
		t.Errorf("expected NotConnectedError, got %v", err)
	}
	client.writeErr = nil
	if err := sink.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
}
