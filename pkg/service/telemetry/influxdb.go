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
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/objects"
)

const (
	influxPingTimeout  = time.Second * 5
	influxWriteTimeout = time.Second * 2
)

// influxAPI is the part of the InfluxDB client used by InfluxDBSink.
type influxAPI interface {
	Ping(ctx context.Context) (bool, error)
	WritePoint(ctx context.Context, points ...*write.Point) error
	Close()
}

// influxClient adapts the InfluxDB client to influxAPI, writing
// with the blocking write API so errors are returned to the caller.
type influxClient struct {
	influxdb2.Client
	org, bucket string
}

func (c influxClient) WritePoint(ctx context.Context, points ...*write.Point) error {
	return c.Client.WriteAPIBlocking(c.org, c.bucket).WritePoint(ctx, points...)
}

// InfluxDBSink writes readings to an InfluxDB v2 bucket.
// Every reading is a point tagged with board, object, device, channel & unit.
type InfluxDBSink struct {
	log    zerolog.Logger
	config model.InfluxDBConfig
	board  string

	mutex  sync.Mutex
	client influxAPI

	newClient func(config model.InfluxDBConfig) influxAPI
}

// NewInfluxDBSink creates a sink for the given InfluxDB configuration.
func NewInfluxDBSink(config model.InfluxDBConfig, board string, log zerolog.Logger) *InfluxDBSink {
	return &InfluxDBSink{
		log:    log.With().Str("influxdb", config.URL).Logger(),
		config: config,
		board:  board,
		newClient: func(config model.InfluxDBConfig) influxAPI {
			return influxClient{
				Client: influxdb2.NewClient(config.URL, config.Token),
				org:    config.Org,
				bucket: config.Bucket,
			}
		},
	}
}

// Name of the sink
func (s *InfluxDBSink) Name() string {
	return "influxdb"
}

// Open creates the client and verifies the server is healthy.
func (s *InfluxDBSink) Open(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.client != nil {
		return nil
	}
	client := s.newClient(s.config)
	pingCtx, cancel := context.WithTimeout(ctx, influxPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return errors.Wrapf(err, "ping '%s' failed", s.config.URL)
	}
	if !healthy {
		client.Close()
		return errors.Wrapf(NotConnectedError, "server '%s' not healthy", s.config.URL)
	}
	s.client = client
	s.log.Info().Msg("connected to influxdb")
	return nil
}

// Point builds the point written for the given reading.
func (s *InfluxDBSink) Point(r objects.Reading) *write.Point {
	tags := map[string]string{
		"board":   s.board,
		"object":  r.ObjectID,
		"device":  r.Device,
		"channel": r.Channel,
		"unit":    r.Unit,
	}
	fields := map[string]interface{}{}
	if r.Failed() {
		fields["error"] = r.Error
	} else {
		fields["value"] = r.Value
	}
	return influxdb2.NewPoint(s.config.MeasurementOrDefault(), tags, fields, r.Timestamp)
}

// Send a reading to the bucket.
// A failed write drops the client, so the next Open reconnects.
func (s *InfluxDBSink) Send(ctx context.Context, r objects.Reading) error {
	s.mutex.Lock()
	client := s.client
	s.mutex.Unlock()

	if client == nil {
		return maskAny(NotConnectedError)
	}
	writeCtx, cancel := context.WithTimeout(ctx, influxWriteTimeout)
	defer cancel()
	if err := client.WritePoint(writeCtx, s.Point(r)); err != nil {
		s.Close()
		return errors.Wrap(err, "write point failed")
	}
	return nil
}

// Close the client.
func (s *InfluxDBSink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	return nil
}
