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
	"sync/atomic"
	"time"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/devices"
)

// Service contains the API that is exposed by the object service.
type Service interface {
	// ObjectByID returns the configured object with given ID.
	ObjectByID(id string) (Object, bool)
	// Configure is called once to put all objects in the desired state.
	Configure(ctx context.Context) error
	// Run all sensors and indicators until the given context is cancelled.
	Run(ctx context.Context) error
	// SampleAll takes a single reading of every configured sensor.
	SampleAll(ctx context.Context) []Reading
	// Readings returns the last reading of every sensor.
	Readings() []Reading
	// Get a list of configured object IDs
	GetConfiguredObjectIDs() []string
	// Get a list of unconfigured object IDs
	GetUnconfiguredObjectIDs() []string
	ReadingService
}

type service struct {
	log               zerolog.Logger
	devService        devices.Service
	objects           map[string]Object
	configuredObjects map[string]Object
	readings          *readingService
	// sampleMutex serializes all sampling, since sensors may share an SPI bus.
	sampleMutex sync.Mutex
}

// NewService instantiates a new Service and Object's for the given
// object configurations.
func NewService(configs []model.Object, devService devices.Service, log zerolog.Logger) (Service, error) {
	s := &service{
		log:               log.With().Str("component", "object-service").Logger(),
		devService:        devService,
		objects:           make(map[string]Object),
		configuredObjects: make(map[string]Object),
	}
	s.readings = newReadingService(s.log)
	var ae aerr.AggregateError
	for _, c := range configs {
		var obj Object
		var err error
		log := s.log.With().
			Str("object-id", c.ID).
			Str("type", string(c.Type)).
			Logger()
		log.Debug().Msg("creating object...")
		switch c.Type {
		case model.ObjectTypeAnalogSensor, model.ObjectTypeTemperatureSensor:
			obj, err = newAnalogSensor(c.ID, c, log, devService)
		case model.ObjectTypeStatusIndicator:
			obj, err = newStatusIndicator(c, log, devService)
		case model.ObjectTypeActivityIndicator:
			obj, err = newActivityIndicator(c, log, devService)
		default:
			err = errors.Wrapf(model.ValidationError, "Unsupported object type '%s'", c.Type)
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to create object")
			ae.Add(err)
		} else {
			s.objects[c.ID] = obj
		}
	}
	if err := ae.AsError(); err != nil {
		return nil, err
	}
	s.log.Debug().Msgf("created %d objects", len(s.objects))
	objectsCreatedTotal.Set(float64(len(s.objects)))
	return s, nil
}

// ObjectByID returns the configured object with given ID.
func (s *service) ObjectByID(id string) (Object, bool) {
	obj, ok := s.configuredObjects[id]
	return obj, ok
}

// Configure is called once to put all objects in the desired state.
func (s *service) Configure(ctx context.Context) error {
	var ae aerr.AggregateError
	configuredObjects := make(map[string]Object)
	log := s.log
	for id, obj := range s.objects {
		log := log.With().Str("object-id", id).Logger()
		log.Debug().Msg("configuring object ...")
		if err := obj.Configure(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to configure object")
			ae.Add(err)
		} else {
			configuredObjects[id] = obj
			log.Debug().Msg("configured object")
		}
	}
	s.configuredObjects = configuredObjects
	objectsConfiguredTotal.Set(float64(len(configuredObjects)))
	return ae.AsError()
}

// Run all sensors and indicators until the given context is cancelled.
func (s *service) Run(ctx context.Context) error {
	defer func() {
		s.log.Debug().Msg("Run Objects ended")
	}()

	// Do nothing if we do not have configured objects
	if len(s.configuredObjects) == 0 {
		s.log.Warn().Msg("no configured objects, just waiting for context to be cancelled")
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	// Run the sampler
	if sensors := s.sensors(); len(sensors) > 0 {
		g.Go(func() error { return s.runSampler(ctx, sensors) })
	}

	// Run all objects with a run loop
	var runningObjects int32
	for id, obj := range s.configuredObjects {
		runner, ok := obj.(Runner)
		if !ok {
			continue
		}
		id := id
		g.Go(func() error {
			atomic.AddInt32(&runningObjects, 1)
			log := s.log.With().
				Str("object-id", id).
				Str("type", string(runner.Type())).
				Logger()
			defer func() {
				atomic.AddInt32(&runningObjects, -1)
				log.Debug().Msg("Stopped running object")
			}()
			log.Debug().Msg("Running object")
			return runner.Run(ctx, s.readings)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		for {
			objs := atomic.LoadInt32(&runningObjects)
			if objs == 0 {
				s.log.Debug().Msg("No more running objects")
				return nil
			}
			s.log.Debug().
				Int32("running_objects", objs).
				Msg("Still running objects")
			time.Sleep(time.Millisecond * 100)
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		s.log.Warn().Err(err).Msg("Run Objects failed")
		return err
	}
	return nil
}

// runSampler samples all given sensors, each at its own interval,
// one sensor at a time.
func (s *service) runSampler(ctx context.Context, sensors []Sensor) error {
	log := s.log
	log.Info().Int("sensors", len(sensors)).Msg("Start sampling")
	defer func() {
		log.Info().Msg("Stopped sampling")
	}()
	due := make([]time.Time, len(sensors))
	for {
		now := time.Now()
		next := now.Add(time.Hour)
		for i, sensor := range sensors {
			if !now.Before(due[i]) {
				s.sample(ctx, sensor)
				if ctx.Err() != nil {
					return nil
				}
				due[i] = now.Add(sensor.Interval())
			}
			if due[i].Before(next) {
				next = due[i]
			}
		}
		select {
		case <-time.After(time.Until(next)):
			// Continue
		case <-ctx.Done():
			// Context canceled
			return nil
		}
	}
}

// sample takes a single reading of the given sensor and publishes it.
func (s *service) sample(ctx context.Context, sensor Sensor) Reading {
	s.sampleMutex.Lock()
	defer s.sampleMutex.Unlock()

	start := time.Now()
	r := sensor.Sample(ctx)
	sampleDuration.WithLabelValues(sensor.ID()).Observe(time.Since(start).Seconds())
	if ctx.Err() == nil || !r.Failed() {
		s.readings.Publish(r)
	}
	return r
}

// SampleAll takes a single reading of every configured sensor.
func (s *service) SampleAll(ctx context.Context) []Reading {
	sensors := s.sensors()
	result := make([]Reading, 0, len(sensors))
	for _, sensor := range sensors {
		result = append(result, s.sample(ctx, sensor))
	}
	return result
}

// Readings returns the last reading of every sensor.
func (s *service) Readings() []Reading {
	return s.readings.Latest()
}

// Publish a reading to all receivers.
func (s *service) Publish(r Reading) {
	s.readings.Publish(r)
}

// RegisterReadingReceiver registers a callback for all published readings.
func (s *service) RegisterReadingReceiver(cb func(Reading)) context.CancelFunc {
	return s.readings.RegisterReadingReceiver(cb)
}

// sensors returns all configured sensors, sorted by ID.
func (s *service) sensors() []Sensor {
	var result []Sensor
	for _, obj := range s.configuredObjects {
		if sensor, ok := obj.(Sensor); ok {
			result = append(result, sensor)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// GetConfiguredObjectIDs builds a list of all IDs of configured objects
func (s *service) GetConfiguredObjectIDs() []string {
	confObjs := s.configuredObjects
	result := make([]string, 0, len(confObjs))
	for k := range confObjs {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// GetUnconfiguredObjectIDs builds a list of all IDs of unconfigured objects
func (s *service) GetUnconfiguredObjectIDs() []string {
	allObjs := s.objects
	result := make([]string, 0, len(allObjs))
	for id := range allObjs {
		if _, found := s.configuredObjects[id]; !found {
			result = append(result, id)
		}
	}
	sort.Strings(result)
	return result
}
