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
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	mqttapi "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/objects"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	connectErrors int
	connects      int
	connected     bool
	published     []published
}

func (c *fakeClient) Connect() mqttapi.Token {
	c.connects++
	if c.connectErrors > 0 {
		c.connectErrors--
		return &fakeToken{err: errors.New("connection refused")}
	}
	c.connected = true
	return &fakeToken{}
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqttapi.Token {
	c.published = append(c.published, published{topic: topic, payload: payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(quiesce uint) { c.connected = false }

func newTestMQTTSink(client *fakeClient) *MQTTSink {
	config := model.MQTTConfig{Broker: "tcp://localhost:1883", TopicPrefix: "flatsat/eps/"}
	s := NewMQTTSink(config, "eps", zerolog.Nop())
	s.newClient = func(opts *mqttapi.ClientOptions) mqttClient { return client }
	s.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 4)
	}
	return s
}

func TestMQTTSinkSend(t *testing.T) {
	client := &fakeClient{connectErrors: 2}
	sink := newTestMQTTSink(client)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := objects.Reading{ObjectID: "bus", Device: "adc0", Channel: "ch1", Value: 4.5, Unit: "V", Timestamp: ts}

	if err := sink.Send(ctx, r); !IsNotConnected(err) {
		t.Errorf("expected NotConnectedError, got %v", err)
	}
	if err := sink.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if client.connects != 3 {
		t.Errorf("expected 3 connect attempts, got %d", client.connects)
	}
	if err := sink.Send(ctx, r); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(client.published) != 1 {
		t.Fatalf("expected 1 message, got %d", len(client.published))
	}
	msg := client.published[0]
	if msg.topic != "flatsat/eps/adc0/ch1" {
		t.Errorf("topic = %s", msg.topic)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(msg.payload, &payload); err != nil {
		t.Fatalf("invalid payload %s: %v", msg.payload, err)
	}
	if payload["value"] != 4.5 || payload["unit"] != "V" || payload["timestamp"] != "2024-05-01T12:00:00Z" {
		t.Errorf("unexpected payload %s", msg.payload)
	}
	if _, found := payload["error"]; found {
		t.Errorf("unexpected error in payload %s", msg.payload)
	}

	r.Error = "not ready"
	if err := sink.Send(ctx, r); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	payload = nil
	if err := json.Unmarshal(client.published[1].payload, &payload); err != nil {
		t.Fatal(err)
	}
	if _, found := payload["value"]; found || payload["error"] != "not ready" {
		t.Errorf("unexpected payload %s", client.published[1].payload)
	}

	if err := sink.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if client.connected {
		t.Error("client must be disconnected")
	}
}

func TestMQTTSinkOpenFails(t *testing.T) {
	client := &fakeClient{connectErrors: 100}
	sink := newTestMQTTSink(client)
	if err := sink.Open(context.Background()); err == nil {
		t.Error("expected Open to fail")
	}
	if client.connects != 5 {
		t.Errorf("expected 5 connect attempts, got %d", client.connects)
	}
}
