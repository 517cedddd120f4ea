// Copyright 2022 Ewout Prangsma
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
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/pkg/service/bridge"
	"github.com/flatsat/BoardWorker/pkg/service/registry"
)

const (
	// Registry addresses
	ads1115RegConversion = 0x00
	ads1115RegConfig     = 0x01

	// Config register, first byte
	ads1115ConfigOS         = 0x80 // Write: start a single conversion, Read: not busy
	ads1115ConfigSingleShot = 0x01 // MODE: power-down single-shot mode
	// Config register, second byte
	ads1115ConfigComparatorOff = 0x03 // COMP_QUE: disable comparator, ALERT/RDY high

	// DefaultADS1115Address is the address with ADDR connected to GND.
	DefaultADS1115Address = 0x48
)

// ADS1115Config holds the wiring of an ADS1115.
type ADS1115Config struct {
	// Name of the ADC, used in logs and metrics.
	Name string
	// I2C bus pins
	SCL, SDA bridge.PinID
	// Frequency of the I2C bus (0 selects the registry default)
	Frequency int
	// Address of the ADC on the bus
	Address uint16
	// MaxAttempts is the number of status polls Sample makes before
	// returning NotReadyError. Zero selects DefaultADS1118MaxAttempts.
	// A negative value polls until the context is canceled.
	MaxAttempts int
}

// ADS1115 is a driver for the TI ADS1115 16-bit I2C ADC.
// It uses the same multiplexer, gain & data rate settings as the ADS1118,
// but has no temperature sensor.
type ADS1115 struct {
	mutex       sync.Mutex
	log         zerolog.Logger
	name        string
	bus         *registry.Device[bridge.I2CBus]
	address     uint16
	maxAttempts int

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// NewADS1115 creates a driver for an ADS1115 wired as given.
func NewADS1115(reg *registry.Registry, config ADS1115Config, log zerolog.Logger) *ADS1115 {
	maxAttempts := config.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultADS1118MaxAttempts
	}
	address := config.Address
	if address == 0 {
		address = DefaultADS1115Address
	}
	return &ADS1115{
		log:         log.With().Str("adc", config.Name).Logger(),
		name:        config.Name,
		bus:         reg.I2C(config.SCL, config.SDA, config.Frequency),
		address:     address,
		maxAttempts: maxAttempts,
		now:         time.Now,
		wait:        waitContext,
	}
}

// Name returns the name of the ADC.
func (d *ADS1115) Name() string {
	return d.name
}

// EncodeADS1115Config returns the two config register bytes that start a
// single-shot conversion with the given parameters.
func EncodeADS1115Config(ch MuxSelection, rng InputRange, rate SamplingRate) [2]byte {
	b0 := byte(ads1115ConfigOS) |
		(byte(ch)&0x07)<<4 |
		(byte(rng)&0x07)<<1 |
		ads1115ConfigSingleShot
	b1 := (byte(rate)&0x07)<<5 | ads1115ConfigComparatorOff
	return [2]byte{b0, b1}
}

// Reset writes the power-on default configuration.
func (d *ADS1115) Reset(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.writeWordReg(ads1115RegConfig, [2]byte{0x05, 0x83})
}

// Sample performs a single-shot conversion of the given channel and
// returns volts. Parameters are validated before any hardware is touched.
func (d *ADS1115) Sample(ctx context.Context, ch MuxSelection, opts ...SampleOption) (float64, error) {
	settings := sampleSettings{
		inputRange:   FSR4096mV,
		samplingRate: SPS128,
	}
	for _, opt := range opts {
		opt(&settings)
	}
	if ch == Temperature {
		return 0, errors.Wrapf(ValidationError, "ADC '%s' has no temperature sensor", d.name)
	}
	if err := validateSamplingParams(ch, settings.inputRange, settings.samplingRate); err != nil {
		return 0, err
	}
	config := EncodeADS1115Config(ch, settings.inputRange, settings.samplingRate)
	channel := ch.String()

	d.mutex.Lock()
	defer d.mutex.Unlock()

	adcSampleCounters.WithLabelValues(d.name, channel).Inc()
	started := d.now()
	fail := func(err error) (float64, error) {
		adcSampleErrorCounters.WithLabelValues(d.name, channel).Inc()
		return 0, err
	}

	// Trigger a conversion
	if err := d.writeWordReg(ads1115RegConfig, config); err != nil {
		return fail(err)
	}
	// Wait until conversion ready
	delay := settings.samplingRate.ConversionDelay()
	for attempt := 1; ; attempt++ {
		if err := d.wait(ctx, delay); err != nil {
			return fail(maskAny(err))
		}
		status, err := d.readWordReg(ads1115RegConfig)
		if err != nil {
			return fail(err)
		}
		if status[0]&ads1115ConfigOS != 0 {
			break
		}
		adcRetryCounters.WithLabelValues(d.name, channel).Inc()
		if d.maxAttempts > 0 && attempt >= d.maxAttempts {
			return fail(errors.Wrapf(NotReadyError, "ADC '%s' channel %s after %d attempts", d.name, channel, attempt))
		}
		d.log.Debug().
			Str("channel", channel).
			Int("attempt", attempt).
			Msg("Conversion not complete yet")
		delay = time.Millisecond
	}

	// Read conversion value
	result, err := d.readWordReg(ads1115RegConversion)
	if err != nil {
		return fail(err)
	}
	value := DecodeVoltage(result, settings.inputRange)
	adcSampleDuration.WithLabelValues(d.name).Observe(d.now().Sub(started).Seconds())
	adcValueGauges.WithLabelValues(d.name, channel).Set(value)
	return value, nil
}

// readWordReg reads a 16-bit register, MSB first.
func (d *ADS1115) readWordReg(reg uint8) ([2]byte, error) {
	var result [2]byte
	if err := d.bus.Use(func(bus bridge.I2CBus) error {
		return bus.Tx(d.address, []byte{reg}, result[:])
	}); err != nil {
		return result, errors.Wrapf(err, "read register %d of ADC '%s'", reg, d.name)
	}
	return result, nil
}

// writeWordReg writes a 16-bit register, MSB first.
func (d *ADS1115) writeWordReg(reg uint8, value [2]byte) error {
	if err := d.bus.Use(func(bus bridge.I2CBus) error {
		return bus.Tx(d.address, []byte{reg, value[0], value[1]}, nil)
	}); err != nil {
		return errors.Wrapf(err, "write register %d of ADC '%s'", reg, d.name)
	}
	return nil
}
