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
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	mqttapi "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/objects"
)

const (
	mqttConnectTimeout = time.Second * 5
	mqttPublishTimeout = time.Millisecond * 200
	mqttMaxConnectTime = time.Second * 30
)

// mqttClient is the part of the paho client used by MQTTSink.
type mqttClient interface {
	Connect() mqttapi.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqttapi.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes readings on an MQTT broker.
// Every reading is published on <prefix>/<device>/<channel>.
type MQTTSink struct {
	log      zerolog.Logger
	config   model.MQTTConfig
	clientID string

	mutex  sync.Mutex
	client mqttClient

	newClient  func(opts *mqttapi.ClientOptions) mqttClient
	newBackOff func() backoff.BackOff
}

// NewMQTTSink creates a sink for the given MQTT configuration.
func NewMQTTSink(config model.MQTTConfig, clientID string, log zerolog.Logger) *MQTTSink {
	return &MQTTSink{
		log:      log.With().Str("broker", config.Broker).Logger(),
		config:   config,
		clientID: clientID,
		newClient: func(opts *mqttapi.ClientOptions) mqttClient {
			return mqttapi.NewClient(opts)
		},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = mqttMaxConnectTime
			return b
		},
	}
}

// Name of the sink
func (s *MQTTSink) Name() string {
	return "mqtt"
}

// Open connects to the broker, retrying with exponential backoff.
func (s *MQTTSink) Open(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.client != nil && s.client.IsConnected() {
		return nil
	}
	if s.client != nil {
		s.client.Disconnect(0)
		s.client = nil
	}

	// Prepare MQTT client options
	opts := mqttapi.NewClientOptions().
		AddBroker(s.config.Broker).
		SetClientID(s.clientID)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)

	// Connect client
	client := s.newClient(opts)
	connect := func() error {
		token := client.Connect()
		if !token.WaitTimeout(mqttConnectTimeout) {
			return errors.Wrapf(TimeoutError, "connect to '%s'", s.config.Broker)
		}
		if err := token.Error(); err != nil {
			s.log.Debug().Err(err).Msg("connect failed")
			return err
		}
		return nil
	}
	if err := backoff.Retry(connect, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		return errors.Wrapf(err, "failed to connect to mqtt broker '%s'", s.config.Broker)
	}
	s.client = client
	s.log.Info().Msg("connected to mqtt broker")
	return nil
}

// Send a reading to the broker.
func (s *MQTTSink) Send(ctx context.Context, r objects.Reading) error {
	payload, err := json.Marshal(newMQTTPayload(r))
	if err != nil {
		return maskAny(err)
	}
	return s.Publish(ctx, s.Topic(r), payload)
}

// Topic returns the topic of the given reading.
func (s *MQTTSink) Topic(r objects.Reading) string {
	return strings.TrimSuffix(s.config.TopicPrefix, "/") + "/" + r.Device + "/" + r.Channel
}

// Publish a payload on the given topic.
func (s *MQTTSink) Publish(ctx context.Context, topic string, payload []byte) error {
	s.mutex.Lock()
	client := s.client
	s.mutex.Unlock()

	if client == nil {
		return maskAny(NotConnectedError)
	}
	token := client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return errors.Wrapf(TimeoutError, "publish on '%s'", topic)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.client != nil {
		s.client.Disconnect(250)
		s.client = nil
	}
	return nil
}

// mqttPayload is the JSON payload of a reading.
type mqttPayload struct {
	Value     *float64  `json:"value,omitempty"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

func newMQTTPayload(r objects.Reading) mqttPayload {
	p := mqttPayload{
		Unit:      r.Unit,
		Timestamp: r.Timestamp,
		Error:     r.Error,
	}
	if !r.Failed() {
		value := r.Value
		p.Value = &value
	}
	return p
}
