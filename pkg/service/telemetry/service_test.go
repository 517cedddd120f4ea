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
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/pkg/service/objects"
)

type fakeSource struct {
	mutex sync.Mutex
	cb    func(objects.Reading)
}

func (s *fakeSource) RegisterReadingReceiver(cb func(objects.Reading)) context.CancelFunc {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.cb = cb
	return func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		s.cb = nil
	}
}

func (s *fakeSource) publish(r objects.Reading) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.cb == nil {
		return false
	}
	s.cb(r)
	return true
}

type fakeSink struct {
	mutex    sync.Mutex
	opens    int
	failNext bool
	closed   bool
	sent     chan objects.Reading
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Open(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.opens++
	return nil
}

func (s *fakeSink) Send(ctx context.Context, r objects.Reading) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("send failed")
	}
	s.sent <- r
	return nil
}

func (s *fakeSink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}

func TestServiceForwardsReadings(t *testing.T) {
	source := &fakeSource{}
	sink := &fakeSink{failNext: true, sent: make(chan objects.Reading, 4)}
	s := NewService(source, []Sink{sink}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !source.publish(objects.Reading{ObjectID: "lost"}) {
		if time.Now().After(deadline) {
			t.Fatal("receiver not registered")
		}
		time.Sleep(time.Millisecond)
	}
	// First send fails, the sink is opened again for the next reading
	source.publish(objects.Reading{ObjectID: "bus", Value: 1})
	select {
	case r := <-sink.sent:
		if r.ObjectID != "bus" {
			t.Errorf("unexpected reading %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reading not sent")
	}
	sink.mutex.Lock()
	opens := sink.opens
	sink.mutex.Unlock()
	if opens != 2 {
		t.Errorf("expected 2 opens, got %d", opens)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if !sink.closed {
		t.Error("sink must be closed")
	}
}
