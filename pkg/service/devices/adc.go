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
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/bridge"
	"github.com/flatsat/BoardWorker/pkg/service/registry"
)

// ads1118Device is an ADS1118 configured from the board configuration.
type ads1118Device struct {
	mutex    sync.Mutex
	log      zerolog.Logger
	onActive func()
	config   model.HWDevice
	reg      *registry.Registry
	driver   *ADS1118
}

// newADS1118Device creates an ADC instance for an ADS1118 device with given config.
func newADS1118Device(log zerolog.Logger, config model.HWDevice, reg *registry.Registry, onActive func()) (ADC, error) {
	if config.Type != model.HWDeviceTypeADS1118 {
		return nil, errors.Wrapf(model.ValidationError, "Invalid device type '%s'", string(config.Type))
	}
	return &ads1118Device{
		log:      log,
		onActive: onActive,
		config:   config,
		reg:      reg,
	}, nil
}

// Configure creates the driver, which deselects the chip.
func (d *ads1118Device) Configure(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.onActive()
	pins := d.config.Pins
	driver, err := NewADS1118(d.reg, ADS1118Config{
		Name:        d.config.ID,
		Clock:       bridge.PinID(pins[model.PinNameClock]),
		MOSI:        bridge.PinID(pins[model.PinNameMOSI]),
		MISO:        bridge.PinID(pins[model.PinNameMISO]),
		ChipSelect:  bridge.PinID(pins[model.PinNameChipSelect]),
		MaxAttempts: d.config.MaxAttempts,
	}, d.log)
	if err != nil {
		return err
	}
	d.driver = driver
	return nil
}

// Close drops the driver. The pins are released by the registry.
func (d *ads1118Device) Close(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.onActive()
	d.driver = nil
	return nil
}

// Sample performs a single conversion of the given channel.
func (d *ads1118Device) Sample(ctx context.Context, ch MuxSelection, opts ...SampleOption) (float64, error) {
	d.mutex.Lock()
	driver := d.driver
	d.mutex.Unlock()

	if driver == nil {
		return 0, errors.Errorf("ADC '%s' is not configured", d.config.ID)
	}
	d.onActive()
	return driver.Sample(ctx, ch, opts...)
}

// ads1115Device is an ADS1115 configured from the board configuration.
type ads1115Device struct {
	mutex    sync.Mutex
	log      zerolog.Logger
	onActive func()
	config   model.HWDevice
	reg      *registry.Registry
	driver   *ADS1115
}

// newADS1115Device creates an ADC instance for an ADS1115 device with given config.
func newADS1115Device(log zerolog.Logger, config model.HWDevice, reg *registry.Registry, onActive func()) (ADC, error) {
	if config.Type != model.HWDeviceTypeADS1115 {
		return nil, errors.Wrapf(model.ValidationError, "Invalid device type '%s'", string(config.Type))
	}
	if _, err := config.I2CAddress(); err != nil {
		return nil, errors.Wrapf(model.ValidationError, "Invalid address of '%s': %s", config.ID, err.Error())
	}
	return &ads1115Device{
		log:      log,
		onActive: onActive,
		config:   config,
		reg:      reg,
	}, nil
}

// Configure creates the driver and restores the default configuration.
func (d *ads1115Device) Configure(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.onActive()
	address, _ := d.config.I2CAddress()
	driver := NewADS1115(d.reg, ADS1115Config{
		Name:        d.config.ID,
		SCL:         bridge.PinID(d.config.Pins[model.PinNameSCL]),
		SDA:         bridge.PinID(d.config.Pins[model.PinNameSDA]),
		Frequency:   d.config.Frequency,
		Address:     address,
		MaxAttempts: d.config.MaxAttempts,
	}, d.log)
	if err := driver.Reset(ctx); err != nil {
		return err
	}
	d.driver = driver
	return nil
}

// Close restores the default configuration and drops the driver.
func (d *ads1115Device) Close(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.onActive()
	driver := d.driver
	d.driver = nil
	if driver == nil {
		return nil
	}
	return driver.Reset(ctx)
}

// Sample performs a single conversion of the given channel.
func (d *ads1115Device) Sample(ctx context.Context, ch MuxSelection, opts ...SampleOption) (float64, error) {
	d.mutex.Lock()
	driver := d.driver
	d.mutex.Unlock()

	if driver == nil {
		return 0, errors.Errorf("ADC '%s' is not configured", d.config.ID)
	}
	d.onActive()
	return driver.Sample(ctx, ch, opts...)
}
