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

package worker

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/logging"
	"github.com/flatsat/BoardWorker/pkg/service/bridge"
	"github.com/flatsat/BoardWorker/pkg/service/devices"
	"github.com/flatsat/BoardWorker/pkg/service/objects"
	"github.com/flatsat/BoardWorker/pkg/service/registry"
	"github.com/flatsat/BoardWorker/pkg/service/telemetry"
)

// Service contains the API exposed by the worker service
type Service interface {
	// Run the worker service until the given context is cancelled.
	Run(ctx context.Context) error
	// SampleOnce configures all devices and objects, takes a single
	// reading of every sensor and brings all devices back to a safe state.
	SampleOnce(ctx context.Context) ([]objects.Reading, error)
	// Status returns the current state of the worker.
	Status() Status
	// RegisterReadingReceiver registers a callback for all readings.
	// Returns false when the worker is not running.
	RegisterReadingReceiver(cb func(objects.Reading)) (context.CancelFunc, bool)
}

// Status is a point in time view of a worker.
type Status struct {
	ConfiguredDevices   []string          `json:"configured_devices"`
	UnconfiguredDevices []string          `json:"unconfigured_devices"`
	ConfiguredObjects   []string          `json:"configured_objects"`
	UnconfiguredObjects []string          `json:"unconfigured_objects"`
	Registry            registry.Snapshot `json:"registry"`
	Readings            []objects.Reading `json:"readings"`
}

type Config struct {
	model.BoardConfiguration
	ProgramVersion string
	HostID         string
}

type Dependencies struct {
	Log    zerolog.Logger
	Bridge bridge.API
	// Receives log lines for the MQTT log topic (optional)
	LogWriter logging.MQTTWriter
}

// NewService instantiates a new Service.
// The worker builds its registry from empty.
func NewService(config Config, deps Dependencies) (Service, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &service{
		config:       config,
		Dependencies: deps,
		registry:     registry.New(deps.Bridge, deps.Log),
	}, nil
}

type service struct {
	config Config
	Dependencies
	registry *registry.Registry

	mutex      sync.Mutex
	devService devices.Service
	objService objects.Service
}

// build the devices & objects services and configure them.
// Configuration errors are logged; not all devices/objects have to be configured.
func (s *service) build(ctx context.Context) (devices.Service, objects.Service, error) {
	log := s.Log
	// Build devices service
	log.Debug().Msg("build devices service")
	devService, err := devices.NewService(s.config.Devices, s.registry, s.Bridge, s.Log)
	if err != nil {
		log.Debug().Err(err).Msg("devices.NewService failed")
		return nil, nil, errors.Wrap(err, "devices.NewService failed")
	}

	// Configure devices
	log.Debug().Msg("configure devices")
	if err := devService.Configure(ctx); err != nil {
		// Log error
		log.Error().Err(err).Msg("Not all devices are configured")
	}
	// Stop fast if context canceled
	if ctx.Err() != nil {
		devService.Close(context.Background())
		return nil, nil, ctx.Err()
	}

	// Build objects service
	log.Debug().Msg("build objects service")
	objService, err := objects.NewService(s.config.Objects, devService,
		s.Log.With().Str("component", "worker.objects").Logger())
	if err != nil {
		log.Debug().Err(err).Msg("objects.NewService failed")
		devService.Close(context.Background())
		return nil, nil, errors.Wrap(err, "objects.NewService failed")
	}

	// Configure objects
	log.Debug().Msg("configure objects")
	if err := objService.Configure(ctx); err != nil {
		// Log error
		log.Error().Err(err).Msg("Not all objects are configured")
	}
	return devService, objService, nil
}

// close brings all devices back to a safe state and releases all pins.
func (s *service) close() {
	log := s.Log
	s.mutex.Lock()
	devService := s.devService
	s.devService, s.objService = nil, nil
	s.mutex.Unlock()
	if devService != nil {
		log.Debug().Msg("closing devices service")
		if err := devService.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to close all devices")
		}
	}
	log.Debug().Msg("closing registry")
	if err := s.registry.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close registry")
	}
}

// Run the worker service until the given context is cancelled.
func (s *service) Run(ctx context.Context) error {
	log := s.Log
	devService, objService, err := s.build(ctx)
	if err != nil {
		s.registry.Close()
		return err
	}
	s.mutex.Lock()
	s.devService, s.objService = devService, objService
	s.mutex.Unlock()
	defer s.close()

	// Build telemetry sinks
	var sinks []telemetry.Sink
	if mqttConfig := s.config.MQTT; mqttConfig.Enabled() {
		clientID := s.config.Name + "-" + s.config.HostID
		mqttSink := telemetry.NewMQTTSink(mqttConfig, clientID, log)
		sinks = append(sinks, mqttSink)
		if s.LogWriter != nil && mqttConfig.LogTopic != "" {
			if level, err := mqttConfig.LogLevelOrDefault(); err == nil {
				s.LogWriter.SetLevel(level)
			}
			s.LogWriter.SetDestination(mqttConfig.LogTopic, mqttSink)
			s.LogWriter.Enable(true)
			defer s.LogWriter.Enable(false)
		}
	}
	if rs485Config := s.config.RS485; rs485Config.Enabled() {
		sinks = append(sinks, telemetry.NewRS485Sink(rs485Config, s.registry, log))
	}
	if influxConfig := s.config.InfluxDB; influxConfig.Enabled() {
		sinks = append(sinks, telemetry.NewInfluxDBSink(influxConfig, s.config.Name, log))
	}
	if recorderConfig := s.config.Recorder; recorderConfig.Enabled() {
		sinks = append(sinks, telemetry.NewRecorderSink(recorderConfig, log))
	}
	telemetryService := telemetry.NewService(objService, sinks, log)

	// Run objects & telemetry
	g, lctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Debug().Msg("run objects")
		if err := objService.Run(lctx); err != nil {
			log.Error().Err(err).Msg("Run objects failed")
			return errors.Wrap(err, "failed to run objects")
		}
		log.Debug().Msg("run objects ended")
		return nil
	})
	g.Go(func() error {
		log.Debug().Msg("run telemetry")
		if err := telemetryService.Run(lctx); err != nil {
			log.Error().Err(err).Msg("Run telemetry failed")
			return errors.Wrap(err, "failed to run telemetry")
		}
		log.Debug().Msg("run telemetry ended")
		return nil
	})
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "Wait failed")
	}
	return nil
}

// SampleOnce configures all devices and objects, takes a single
// reading of every sensor and brings all devices back to a safe state.
func (s *service) SampleOnce(ctx context.Context) ([]objects.Reading, error) {
	devService, objService, err := s.build(ctx)
	if err != nil {
		s.registry.Close()
		return nil, err
	}
	s.mutex.Lock()
	s.devService, s.objService = devService, objService
	s.mutex.Unlock()
	defer s.close()

	return objService.SampleAll(ctx), nil
}

// Status returns the current state of the worker.
func (s *service) Status() Status {
	s.mutex.Lock()
	devService, objService := s.devService, s.objService
	s.mutex.Unlock()

	result := Status{
		Registry: s.registry.Snapshot(),
	}
	if devService != nil {
		result.ConfiguredDevices = devService.GetConfiguredDeviceIDs()
		result.UnconfiguredDevices = devService.GetUnconfiguredDeviceIDs()
	}
	if objService != nil {
		result.ConfiguredObjects = objService.GetConfiguredObjectIDs()
		result.UnconfiguredObjects = objService.GetUnconfiguredObjectIDs()
		result.Readings = objService.Readings()
	}
	return result
}

// RegisterReadingReceiver registers a callback for all readings.
func (s *service) RegisterReadingReceiver(cb func(objects.Reading)) (context.CancelFunc, bool) {
	s.mutex.Lock()
	objService := s.objService
	s.mutex.Unlock()
	if objService == nil {
		return nil, false
	}
	return objService.RegisterReadingReceiver(cb), true
}
