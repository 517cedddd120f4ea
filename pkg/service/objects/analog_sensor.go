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
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/devices"
)

const (
	// DefaultSampleInterval is the interval between samples of a sensor
	// that has no interval configured.
	DefaultSampleInterval = time.Second
	// sampleTimeout bounds a single sample of a sensor.
	sampleTimeout = 2 * time.Second
)

// analogSensor samples a single channel of an ADC.
// It is used for both analog and temperature sensors.
type analogSensor struct {
	log        zerolog.Logger
	config     model.Object
	devService devices.Service
	adc        devices.ADC
	channel    devices.MuxSelection
	opts       []devices.SampleOption
	unit       string
	interval   time.Duration
}

// newAnalogSensor creates a new analog or temperature sensor for the given configuration.
func newAnalogSensor(oid string, config model.Object, log zerolog.Logger, devService devices.Service) (*analogSensor, error) {
	s := &analogSensor{
		log:        log,
		config:     config,
		devService: devService,
		unit:       config.Unit,
		interval:   config.Interval,
	}
	switch config.Type {
	case model.ObjectTypeTemperatureSensor:
		s.channel = devices.Temperature
		if s.unit == "" {
			s.unit = "C"
		}
	case model.ObjectTypeAnalogSensor:
		ch, err := devices.ParseMuxSelection(config.Channel)
		if err != nil {
			return nil, errors.Wrapf(err, "object '%s'", oid)
		}
		s.channel = ch
		if s.unit == "" {
			s.unit = "V"
		}
	default:
		return nil, errors.Wrapf(model.ValidationError, "Invalid sensor type '%s'", config.Type)
	}
	if config.Range != "" {
		rng, err := devices.ParseInputRange(config.Range)
		if err != nil {
			return nil, errors.Wrapf(err, "object '%s'", oid)
		}
		s.opts = append(s.opts, devices.WithRange(rng))
	}
	if config.Rate != 0 {
		rate, err := devices.ParseSamplingRate(config.Rate)
		if err != nil {
			return nil, errors.Wrapf(err, "object '%s'", oid)
		}
		s.opts = append(s.opts, devices.WithRate(rate))
	}
	if s.interval == 0 {
		s.interval = DefaultSampleInterval
	}
	return s, nil
}

// ID returns the ID of the object.
func (s *analogSensor) ID() string {
	return s.config.ID
}

// Return the type of this object.
func (s *analogSensor) Type() model.ObjectType {
	return s.config.Type
}

// Interval between two readings.
func (s *analogSensor) Interval() time.Duration {
	return s.interval
}

// Configure looks up the ADC of the sensor.
func (s *analogSensor) Configure(ctx context.Context) error {
	adc, ok := s.devService.ADCByID(s.config.Device)
	if !ok {
		return errors.Wrapf(model.NotFoundError, "Device '%s' not found", s.config.Device)
	}
	s.adc = adc
	return nil
}

// Sample takes a single reading of the sensor.
// Errors are recorded in the reading.
func (s *analogSensor) Sample(ctx context.Context) Reading {
	r := Reading{
		ObjectID: s.config.ID,
		Device:   s.config.Device,
		Channel:  s.channel.String(),
		Unit:     s.unit,
	}
	ctx, cancel := context.WithTimeout(ctx, sampleTimeout)
	defer cancel()
	value, err := s.adc.Sample(ctx, s.channel, s.opts...)
	r.Timestamp = time.Now()
	if err != nil {
		s.log.Debug().Err(err).Msg("Sample failed")
		r.Error = err.Error()
		return r
	}
	r.Value = value*s.config.ScaleOrDefault() + s.config.Offset
	return r
}
