//    Copyright 2017-2022 Ewout Prangsma
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/logging"
	"github.com/flatsat/BoardWorker/pkg/service/bridge"
	"github.com/flatsat/BoardWorker/pkg/service/objects"
	"github.com/flatsat/BoardWorker/pkg/service/worker"
)

// Service runs the board worker.
type Service interface {
	// Run the worker until the given context is cancelled.
	Run(ctx context.Context) error
	// SampleOnce takes a single reading of every sensor.
	SampleOnce(ctx context.Context) ([]objects.Reading, error)
	StatusProvider
}

// StatusProvider gives access to the state of the board.
type StatusProvider interface {
	// Status returns the current state of the board.
	Status() Status
	// RegisterReadingReceiver registers a callback for all readings.
	// Returns false when no worker is running.
	RegisterReadingReceiver(cb func(objects.Reading)) (context.CancelFunc, bool)
}

// Status is a point in time view of the board.
type Status struct {
	Name      string        `json:"name"`
	HostID    string        `json:"host_id"`
	Version   string        `json:"version"`
	StartedAt time.Time     `json:"started_at"`
	Uptime    time.Duration `json:"uptime"`
	WorkerID  uint32        `json:"worker_id"`
	worker.Status
}

type Config struct {
	ProgramVersion string
	HostID         string // Only used if not empty
	// Board configuration, used when ConfigPath is empty.
	Board model.BoardConfiguration
	// Path of the board configuration file. The file is reloaded
	// when it changes.
	ConfigPath string
}

type Dependencies struct {
	Logger    zerolog.Logger
	Bridge    bridge.API
	LogWriter logging.MQTTWriter
}

type service struct {
	Config
	Dependencies

	hostID       string
	startedAt    time.Time
	lastWorkerID uint32

	mutex    sync.Mutex
	board    model.BoardConfiguration
	worker   worker.Service
	workerID uint32
}

// NewService creates a Service instance and returns it.
func NewService(conf Config, deps Dependencies) (Service, error) {
	deps.Logger = deps.Logger.With().Str("component", "service").Logger()
	// Create host ID
	hostID := conf.HostID
	if hostID == "" {
		var err error
		hostID, err = createHostID()
		if err != nil {
			return nil, errors.Wrap(err, "Failed to create host ID")
		}
	}
	deps.Logger = deps.Logger.With().Str("host-id", hostID).Logger()
	return &service{
		Config:       conf,
		Dependencies: deps,
		hostID:       hostID,
		startedAt:    time.Now(),
		board:        conf.Board,
	}, nil
}

// Run keeps running a worker for the most recent configuration
// until the given context is cancelled.
func (s *service) Run(ctx context.Context) error {
	log := s.Logger
	defer func() {
		if err := s.Bridge.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close bridge")
		}
	}()

	configChanged := make(chan model.BoardConfiguration)
	if s.ConfigPath != "" {
		loader := newConfigLoader(s.ConfigPath, log)
		go loader.Run(ctx, configChanged)
	} else {
		go func() {
			select {
			case configChanged <- s.Board:
			case <-ctx.Done():
			}
		}()
	}
	s.runWorkers(ctx, configChanged)
	return nil
}

// runWorkers keeps creating and running workers until the given context is cancelled.
func (s *service) runWorkers(ctx context.Context, configChanged <-chan model.BoardConfiguration) {
	log := s.Logger.With().Str("component", "worker-runner").Logger()
	var cancel context.CancelFunc
	var done chan struct{}
	stop := func() {
		if cancel != nil {
			cancel()
			// Wait for the pins to be released
			<-done
			cancel = nil
		}
	}
	for {
		var conf model.BoardConfiguration
		select {
		case conf = <-configChanged:
			// Start/restart worker
			log.Debug().Str("name", conf.Name).Msg("Configuration changed")
			configurationChangesTotal.Inc()
			stop()
		case <-ctx.Done():
			// Context canceled
			log.Info().Msg("Context canceled. Stopping worker (if any)")
			stop()
			return
		}

		// Prepare new worker
		var lctx context.Context
		lctx, cancel = context.WithCancel(ctx)
		done = make(chan struct{})
		workerID := atomic.AddUint32(&s.lastWorkerID, 1)
		log := log.With().
			Str("board", conf.Name).
			Uint32("worker-id", workerID).
			Logger()
		workerCountTotal.Inc()
		s.mutex.Lock()
		s.board = conf
		s.mutex.Unlock()
		go func(ctx context.Context, log zerolog.Logger, conf model.BoardConfiguration, workerID uint32, done chan struct{}) {
			defer close(done)
			currentWorkerIDGauge.Set(float64(workerID))
			s.runWorkerWithConfig(ctx, log, conf, workerID)
		}(lctx, log, conf, workerID, done)
	}
}

// runWorkerWithConfig runs a worker with given config until the given context is cancelled.
func (s *service) runWorkerWithConfig(ctx context.Context, log zerolog.Logger, conf model.BoardConfiguration, workerID uint32) {
	defer func() {
		if err := recover(); err != nil {
			log.Error().Interface("err", err).Msg("Recovered from panic")
		}
	}()
	for {
		log.Debug().Msg("Creating new worker service")
		w, err := s.newWorker(conf, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create worker")
			workerFailuresTotal.Inc()
			// Wait a bit and then retry
		} else {
			// Run worker
			s.setWorker(w, workerID)
			log.Debug().Msg("start to run worker...")
			if err := w.Run(ctx); ctx.Err() != nil {
				log.Info().Msg("Worker ended with context cancellation")
				s.setWorker(nil, 0)
				return
			} else if err != nil {
				log.Error().Err(err).Msg("Worker ended with unknown error")
				workerFailuresTotal.Inc()
			} else {
				log.Info().Msg("Worker ended without context cancellation")
			}
			s.setWorker(nil, 0)
		}
		select {
		case <-ctx.Done():
			// Context canceled
			return
		case <-time.After(time.Second):
			// Retry
		}
	}
}

// newWorker creates a worker for the given configuration.
func (s *service) newWorker(conf model.BoardConfiguration, log zerolog.Logger) (worker.Service, error) {
	return worker.NewService(worker.Config{
		BoardConfiguration: conf,
		ProgramVersion:     s.ProgramVersion,
		HostID:             s.hostID,
	}, worker.Dependencies{
		Log:       log,
		Bridge:    s.Bridge,
		LogWriter: s.LogWriter,
	})
}

func (s *service) setWorker(w worker.Service, workerID uint32) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.worker = w
	s.workerID = workerID
}

// SampleOnce takes a single reading of every sensor.
func (s *service) SampleOnce(ctx context.Context) ([]objects.Reading, error) {
	s.mutex.Lock()
	conf := s.board
	s.mutex.Unlock()
	w, err := s.newWorker(conf, s.Logger)
	if err != nil {
		return nil, err
	}
	return w.SampleOnce(ctx)
}

// Status returns the current state of the board.
func (s *service) Status() Status {
	s.mutex.Lock()
	w, workerID, board := s.worker, s.workerID, s.board
	s.mutex.Unlock()

	result := Status{
		Name:      board.Name,
		HostID:    s.hostID,
		Version:   s.ProgramVersion,
		StartedAt: s.startedAt,
		Uptime:    time.Since(s.startedAt),
		WorkerID:  workerID,
	}
	if w != nil {
		result.Status = w.Status()
	}
	return result
}

// RegisterReadingReceiver registers a callback for all readings.
func (s *service) RegisterReadingReceiver(cb func(objects.Reading)) (context.CancelFunc, bool) {
	s.mutex.Lock()
	w := s.worker
	s.mutex.Unlock()
	if w == nil {
		return nil, false
	}
	return w.RegisterReadingReceiver(cb)
}
