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

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/flatsat/BoardWorker/pkg/service/objects"
	"github.com/flatsat/BoardWorker/pkg/service/util"
)

const (
	// Number of readings buffered per sink
	queueSize = 256
)

// Service forwards all readings to a set of sinks.
type Service struct {
	log    zerolog.Logger
	source ReadingSource
	sinks  []Sink
}

// NewService creates a telemetry service forwarding the readings of the
// given source to the given sinks.
func NewService(source ReadingSource, sinks []Sink, log zerolog.Logger) *Service {
	return &Service{
		log:    log.With().Str("component", "telemetry").Logger(),
		source: source,
		sinks:  sinks,
	}
}

// Run forwards readings until the given context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if len(s.sinks) == 0 {
		s.log.Debug().Msg("no telemetry sinks, just waiting for context to be cancelled")
		<-ctx.Done()
		return nil
	}

	queues := make([]chan objects.Reading, len(s.sinks))
	for i := range queues {
		queues[i] = make(chan objects.Reading, queueSize)
	}
	cancel := s.source.RegisterReadingReceiver(func(r objects.Reading) {
		for i, q := range queues {
			select {
			case q <- r:
			default:
				droppedTotal.WithLabelValues(s.sinks[i].Name()).Inc()
			}
		}
	})
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for i, sink := range s.sinks {
		sink, queue := sink, queues[i]
		g.Go(func() error { return s.runSink(ctx, sink, queue) })
	}
	return g.Wait()
}

// runSink sends the readings of the given queue to the given sink,
// reopening the sink after failures.
func (s *Service) runSink(ctx context.Context, sink Sink, queue <-chan objects.Reading) error {
	name := sink.Name()
	log := s.log.With().Str("sink", name).Logger()
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close sink")
		}
	}()
	return util.UntilCanceled(ctx, log, "send to "+name, func() error {
		connectAttemptsTotal.WithLabelValues(name).Inc()
		if err := sink.Open(ctx); err != nil {
			return err
		}
		for {
			select {
			case r := <-queue:
				if err := sink.Send(ctx, r); err != nil {
					sendErrorsTotal.WithLabelValues(name).Inc()
					return err
				}
				sentTotal.WithLabelValues(name).Inc()
			case <-ctx.Done():
				return nil
			}
		}
	})
}
