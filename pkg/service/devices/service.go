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

package devices

import (
	"context"
	"sort"
	"sync/atomic"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/bridge"
	"github.com/flatsat/BoardWorker/pkg/service/registry"
)

// Service contains the API that is exposed by the device service.
type Service interface {
	// ADCByID returns the configured ADC with given ID.
	// Return false if not found
	ADCByID(id string) (ADC, bool)
	// LEDByID returns the configured LED with given ID.
	// Return false if not found
	LEDByID(id string) (LED, bool)
	// Configure is called once to put all devices in the desired state.
	Configure(ctx context.Context) error
	// Close brings all devices back to a safe state.
	Close(context.Context) error
	// Get a list of configured device IDs
	GetConfiguredDeviceIDs() []string
	// Get a list of unconfigured device IDs
	GetUnconfiguredDeviceIDs() []string
	// ActiveCount returns the number of device activities so far.
	ActiveCount() uint32
}

type service struct {
	log               zerolog.Logger
	devices           map[string]Device
	configuredDevices map[string]Device
	activeCount       uint32
}

// Default inputs of simulated ADCs (volts on CH0..CH3)
var simulatedInputs = []float64{1.0, 2.0, 3.0, 3.3}

// NewService instantiates a new Service and Device's for the given
// device configurations.
// On a virtual bridge, every ADC gets a simulated chip attached.
func NewService(configs []model.HWDevice, reg *registry.Registry, bAPI bridge.API, log zerolog.Logger) (Service, error) {
	s := &service{
		log:               log.With().Str("component", "device-service").Logger(),
		devices:           make(map[string]Device),
		configuredDevices: make(map[string]Device),
	}
	virtual, isVirtual := bAPI.(*bridge.VirtualBridge)
	for _, c := range configs {
		var dev Device
		var err error
		switch c.Type {
		case model.HWDeviceTypeADS1118:
			if isVirtual {
				sim := NewADS1118Simulator()
				for i, v := range simulatedInputs {
					sim.SetInput(CH0+MuxSelection(i), v)
				}
				virtual.AttachSPIPeripheral(bridge.PinID(c.Pins[model.PinNameChipSelect]), bridge.PinID(c.Pins[model.PinNameMISO]), sim)
			}
			dev, err = newADS1118Device(s.log.With().Str("device-id", c.ID).Logger(), c, reg, s.onActive)
		case model.HWDeviceTypeADS1115:
			if isVirtual {
				if address, err := c.I2CAddress(); err == nil {
					sim := NewADS1115Simulator()
					for i, v := range simulatedInputs {
						sim.SetInput(CH0+MuxSelection(i), v)
					}
					virtual.AttachI2CPeripheral(bridge.PinID(c.Pins[model.PinNameSCL]), address, sim)
				}
			}
			dev, err = newADS1115Device(s.log.With().Str("device-id", c.ID).Logger(), c, reg, s.onActive)
		case model.HWDeviceTypeLED:
			dev, err = newStatusLed(s.log.With().Str("device-id", c.ID).Logger(), c, reg, s.onActive)
		default:
			return nil, errors.Wrapf(model.ValidationError, "Unsupported device type '%s'", c.Type)
		}
		if err != nil {
			return nil, err
		}
		s.devices[c.ID] = dev
	}
	devicesCreatedTotal.Set(float64(len(s.devices)))
	return s, nil
}

// ADCByID returns the configured ADC with given ID.
func (s *service) ADCByID(id string) (ADC, bool) {
	dev, ok := s.configuredDevices[id]
	if !ok {
		return nil, false
	}
	adc, ok := dev.(ADC)
	return adc, ok
}

// LEDByID returns the configured LED with given ID.
func (s *service) LEDByID(id string) (LED, bool) {
	dev, ok := s.configuredDevices[id]
	if !ok {
		return nil, false
	}
	led, ok := dev.(LED)
	return led, ok
}

// Configure is called once to put all devices in the desired state.
func (s *service) Configure(ctx context.Context) error {
	log := s.log
	var ae aerr.AggregateError
	configuredDevices := make(map[string]Device)
	for id, d := range s.devices {
		log := log.With().Str("device-id", id).Logger()
		log.Debug().Msg("configuring device...")
		if err := d.Configure(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to configure device")
			ae.Add(err)
		} else {
			configuredDevices[id] = d
			log.Debug().Msg("configured device")
		}
	}
	s.configuredDevices = configuredDevices
	log.Info().Int("count", len(configuredDevices)).Msg("Configured devices")
	devicesConfiguredTotal.Set(float64(len(configuredDevices)))
	return ae.AsError()
}

// Close brings all devices back to a safe state.
func (s *service) Close(ctx context.Context) error {
	var ae aerr.AggregateError
	for _, d := range s.devices {
		if err := d.Close(ctx); err != nil {
			ae.Add(err)
		}
	}
	return ae.AsError()
}

// onActive is called when a device change is activated.
func (s *service) onActive() {
	atomic.AddUint32(&s.activeCount, 1)
}

// ActiveCount returns the number of device activities so far.
func (s *service) ActiveCount() uint32 {
	return atomic.LoadUint32(&s.activeCount)
}

// Get a list of configured device IDs
func (s *service) GetConfiguredDeviceIDs() []string {
	result := lo.Keys(s.configuredDevices)
	sort.Strings(result)
	return result
}

// Get a list of unconfigured device IDs
func (s *service) GetUnconfiguredDeviceIDs() []string {
	result := lo.Filter(lo.Keys(s.devices), func(id string, _ int) bool {
		_, found := s.configuredDevices[id]
		return !found
	})
	sort.Strings(result)
	return result
}
