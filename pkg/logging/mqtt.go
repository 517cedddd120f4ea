// Copyright 2018 Ewout Prangsma
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

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/pkg/metrics"
)

// Publisher publishes a payload on an MQTT topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// MQTTWriter forwards log lines to an MQTT topic once a destination is set.
type MQTTWriter interface {
	io.Writer
	Enable(enable bool)
	// SetLevel sets the minimum level of events forwarded to MQTT.
	SetLevel(level zerolog.Level)
	SetDestination(topic string, publisher Publisher)
}

type mqttLogger struct {
	mutex     sync.Mutex
	queue     chan logMsg
	topic     string
	publisher Publisher
	enable    bool
	level     zerolog.Level
}

const (
	mqttQueueSize  = 512
	mqttIdlePeriod = time.Second
)

var (
	publishedTotal = metrics.MustRegisterCounter("logging", "mqtt_published_total",
		"Number of log events published on MQTT")
	droppedTotal = metrics.MustRegisterCounter("logging", "mqtt_dropped_total",
		"Number of log events dropped because the MQTT queue was full")
)

// NewMQTTWriter creates a new MQTT output for logs.
// The MQTT sender is closed when the given context is canceled.
func NewMQTTWriter(ctx context.Context) MQTTWriter {
	l := &mqttLogger{
		queue: make(chan logMsg, mqttQueueSize),
		level: zerolog.InfoLevel,
	}
	go l.run(ctx)
	return l
}

// Write queues a single log line.
// When the queue is full the oldest line is dropped.
func (l *mqttLogger) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	msg := parseLogMsg(p)
	l.mutex.Lock()
	minLevel := l.level
	l.mutex.Unlock()
	if lvl, err := zerolog.ParseLevel(msg.Level); err == nil && msg.Level != "" && lvl < minLevel {
		return len(p), nil
	}
	for attempt := 0; attempt < 10; attempt++ {
		select {
		case l.queue <- msg:
			return len(p), nil
		default:
			select {
			case <-l.queue:
				droppedTotal.Inc()
			default:
			}
		}
	}
	// Ignore errors
	return len(p), nil
}

func (l *mqttLogger) Enable(enable bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.enable = enable
}

func (l *mqttLogger) SetLevel(level zerolog.Level) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.level = level
}

func (l *mqttLogger) SetDestination(topic string, publisher Publisher) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.topic = topic
	l.publisher = publisher
}

// logMsg is the payload published for every log event.
type logMsg struct {
	Time    string                 `json:"time,omitempty"`
	Level   string                 `json:"level,omitempty"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// parseLogMsg splits a zerolog JSON event into its standard fields
// and the remaining context fields.
// Lines that are not JSON objects are published as a plain message.
func parseLogMsg(p []byte) logMsg {
	line := bytes.TrimSpace(p)
	var event map[string]interface{}
	if err := json.Unmarshal(line, &event); err != nil {
		return logMsg{Message: string(line)}
	}
	takeString := func(key string) string {
		v, found := event[key]
		if !found {
			return ""
		}
		delete(event, key)
		s, _ := v.(string)
		return s
	}
	msg := logMsg{
		Time:    takeString(zerolog.TimestampFieldName),
		Level:   takeString(zerolog.LevelFieldName),
		Message: takeString(zerolog.MessageFieldName),
	}
	if len(event) > 0 {
		msg.Fields = event
	}
	return msg
}

func (l *mqttLogger) run(ctx context.Context) {
	for {
		l.mutex.Lock()
		publisher := l.publisher
		topic := l.topic
		enabled := l.enable
		l.mutex.Unlock()

		if !enabled || topic == "" || publisher == nil {
			select {
			case <-time.After(mqttIdlePeriod):
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case msg := <-l.queue:
			if payload, err := json.Marshal(msg); err == nil {
				// Ignore errors; logging them would loop
				if publisher.Publish(ctx, topic, payload) == nil {
					publishedTotal.Inc()
				}
			}
		case <-time.After(mqttIdlePeriod):
			// Pick up destination changes
		case <-ctx.Done():
			return
		}
	}
}
