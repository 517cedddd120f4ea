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

package objects

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mattn/go-pubsub"
	"github.com/rs/zerolog"
)

// Reading is a single sampled value of a sensor object.
type Reading struct {
	ObjectID  string    `json:"object"`
	Device    string    `json:"device"`
	Channel   string    `json:"channel"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Failed returns true if the reading holds an error instead of a value.
func (r Reading) Failed() bool {
	return r.Error != ""
}

// readingService stores the last reading of each object and fans
// published readings out to registered receivers.
type readingService struct {
	log      zerolog.Logger
	readings *pubsub.PubSub

	mutex     sync.Mutex
	latest    map[string]Reading
	counts    map[string]int
	receivers map[int]func(Reading)
	lastID    int
}

// newReadingService creates a new ReadingService.
func newReadingService(log zerolog.Logger) *readingService {
	s := &readingService{
		log:       log,
		readings:  pubsub.New(),
		latest:    make(map[string]Reading),
		counts:    make(map[string]int),
		receivers: make(map[int]func(Reading)),
	}
	s.readings.Sub(s.dispatch)
	return s
}

// Publish a reading.
func (s *readingService) Publish(r Reading) {
	s.mutex.Lock()
	s.latest[r.ObjectID] = r
	s.counts[r.ObjectID]++
	s.mutex.Unlock()

	if r.Failed() {
		readingErrorsTotal.WithLabelValues(r.ObjectID).Inc()
	} else {
		readingsTotal.WithLabelValues(r.ObjectID).Inc()
		readingValueGauge.WithLabelValues(r.ObjectID, r.Unit).Set(r.Value)
	}
	s.readings.Pub(r)
}

// RegisterReadingReceiver registers a callback for all published readings.
// Callbacks are invoked asynchronously.
func (s *readingService) RegisterReadingReceiver(cb func(Reading)) context.CancelFunc {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastID++
	id := s.lastID
	s.receivers[id] = cb
	return func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		delete(s.receivers, id)
	}
}

// dispatch a published reading to all receivers.
func (s *readingService) dispatch(r Reading) {
	s.mutex.Lock()
	receivers := make([]func(Reading), 0, len(s.receivers))
	for _, cb := range s.receivers {
		receivers = append(receivers, cb)
	}
	s.mutex.Unlock()
	for _, cb := range receivers {
		cb(r)
	}
}

// Latest returns the last reading of every object, sorted by object ID.
func (s *readingService) Latest() []Reading {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	result := make([]Reading, 0, len(s.latest))
	for _, r := range s.latest {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ObjectID < result[j].ObjectID })
	return result
}

// Count returns the number of readings published for the given object.
func (s *readingService) Count(objectID string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.counts[objectID]
}
