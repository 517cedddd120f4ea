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
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/flatsat/BoardWorker/pkg/service/bridge"
	"github.com/flatsat/BoardWorker/pkg/service/registry"
	"github.com/flatsat/BoardWorker/pkg/service/util"
)

const (
	// ads1118ResetWindow is the time after which the ADS1118 resets its
	// serial interface when CS stays low (28ms nominal).
	ads1118ResetWindow = 30 * time.Millisecond
	// DefaultADS1118MaxAttempts is the number of conversion attempts
	// made by Sample before giving up.
	DefaultADS1118MaxAttempts = 8
)

var (
	ads1118SPIConfig = bridge.SPIConfig{
		Frequency: physic.MegaHertz,
		Mode:      spi.Mode1,
		Bits:      8,
	}
)

// ADS1118Config holds the wiring of an ADS1118.
type ADS1118Config struct {
	// Name of the ADC, used in logs and metrics.
	Name string
	// SPI bus pins
	Clock, MOSI, MISO bridge.PinID
	// Chip select pin (active low)
	ChipSelect bridge.PinID
	// MaxAttempts is the number of conversions Sample attempts before
	// returning NotReadyError. Zero selects DefaultADS1118MaxAttempts.
	// A negative value retries until the context is canceled.
	MaxAttempts int
}

// ADS1118 is a driver for the TI ADS1118 16-bit SPI ADC.
// It shares its pins with other devices through the registry.
// The DOUT/DRDY line is the MISO pin of the bus, read as a digital input
// between transactions.
type ADS1118 struct {
	mutex       sync.Mutex
	log         zerolog.Logger
	name        string
	spi         *registry.Device[bridge.SPIBus]
	dataReady   *registry.Device[bridge.DigitalPin]
	chipSelect  *registry.Device[bridge.DigitalPin]
	maxAttempts int

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// SampleOption modifies the settings of a single sample.
type SampleOption func(*sampleSettings)

type sampleSettings struct {
	inputRange   InputRange
	samplingRate SamplingRate
}

// WithRange selects the input range of a sample (default 4.096V).
func WithRange(r InputRange) SampleOption {
	return func(s *sampleSettings) { s.inputRange = r }
}

// WithRate selects the sampling rate of a sample (default 128SPS).
func WithRate(r SamplingRate) SampleOption {
	return func(s *sampleSettings) { s.samplingRate = r }
}

// NewADS1118 creates a driver for an ADS1118 wired as given.
// The chip select pin is driven high (deselected).
func NewADS1118(reg *registry.Registry, config ADS1118Config, log zerolog.Logger) (*ADS1118, error) {
	maxAttempts := config.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultADS1118MaxAttempts
	}
	d := &ADS1118{
		log:         log.With().Str("adc", config.Name).Logger(),
		name:        config.Name,
		spi:         reg.SPI(config.Clock, config.MOSI, config.MISO),
		dataReady:   reg.DigitalInOut(config.MISO),
		chipSelect:  reg.DigitalInOut(config.ChipSelect),
		maxAttempts: maxAttempts,
		now:         time.Now,
		wait:        waitContext,
	}
	if err := d.chipSelect.Use(func(cs bridge.DigitalPin) error {
		if err := cs.SetDirection(bridge.Output); err != nil {
			return err
		}
		return cs.Write(true)
	}); err != nil {
		return nil, errors.Wrapf(err, "deselect ADC '%s'", config.Name)
	}
	return d, nil
}

// Name returns the name of the ADC.
func (d *ADS1118) Name() string {
	return d.name
}

// Sample performs a single-shot conversion of the given channel.
// It returns volts, or degrees Celsius for Temperature.
// Parameters are validated before any hardware is touched.
func (d *ADS1118) Sample(ctx context.Context, ch MuxSelection, opts ...SampleOption) (float64, error) {
	settings := sampleSettings{
		inputRange:   FSR4096mV,
		samplingRate: SPS128,
	}
	for _, opt := range opts {
		opt(&settings)
	}
	if err := validateSamplingParams(ch, settings.inputRange, settings.samplingRate); err != nil {
		return 0, err
	}
	config := EncodeConfig(ch, settings.inputRange, settings.samplingRate)
	channel := ch.String()

	d.mutex.Lock()
	defer d.mutex.Unlock()

	adcSampleCounters.WithLabelValues(d.name, channel).Inc()
	started := d.now()
	for attempt := 1; ; attempt++ {
		ready, err := d.convert(ctx, config, settings.samplingRate)
		if err != nil {
			adcSampleErrorCounters.WithLabelValues(d.name, channel).Inc()
			return 0, err
		}
		if ready {
			break
		}
		adcRetryCounters.WithLabelValues(d.name, channel).Inc()
		if d.maxAttempts > 0 && attempt >= d.maxAttempts {
			adcSampleErrorCounters.WithLabelValues(d.name, channel).Inc()
			return 0, errors.Wrapf(NotReadyError, "ADC '%s' channel %s after %d attempts", d.name, channel, attempt)
		}
		d.log.Warn().
			Str("channel", channel).
			Int("attempt", attempt).
			Msg("ADC not ready, retrying conversion")
		if err := ctx.Err(); err != nil {
			adcSampleErrorCounters.WithLabelValues(d.name, channel).Inc()
			return 0, maskAny(err)
		}
	}

	// Read back the result, without starting a new conversion
	readback := config
	readback[0] &^= ads1118ConfigSingleShot
	var result [2]byte
	if err := d.transfer(ctx, readback[:], result[:]); err != nil {
		adcSampleErrorCounters.WithLabelValues(d.name, channel).Inc()
		return 0, err
	}

	var value float64
	if ch == Temperature {
		value = DecodeTemperature(result)
	} else {
		value = DecodeVoltage(result, settings.inputRange)
	}
	adcSampleDuration.WithLabelValues(d.name).Observe(d.now().Sub(started).Seconds())
	adcValueGauges.WithLabelValues(d.name, channel).Set(value)
	return value, nil
}

// convert starts a conversion, waits for it and polls data ready.
// Returns true when the result is ready to be read.
func (d *ADS1118) convert(ctx context.Context, config [2]byte, rate SamplingRate) (bool, error) {
	var discard [2]byte
	if err := d.transfer(ctx, config[:], discard[:]); err != nil {
		return false, err
	}
	if err := d.wait(ctx, rate.ConversionDelay()); err != nil {
		return false, maskAny(err)
	}

	// The poll below holds the pins, so it must not yield.
	ready := false
	err := d.dataReady.Use(func(drdy bridge.DigitalPin) error {
		return d.chipSelect.Use(func(cs bridge.DigitalPin) error {
			if err := d.selectChip(cs, true); err != nil {
				return err
			}
			start := d.now()
			for !ready && d.now().Sub(start) < ads1118ResetWindow {
				level, err := drdy.Read()
				if err != nil {
					if err := d.selectChip(cs, false); err != nil {
						d.log.Warn().Err(err).Msg("Failed to deselect chip")
					}
					return err
				}
				ready = !level
			}
			return d.selectChip(cs, false)
		})
	})
	if err != nil {
		return false, err
	}
	return ready, nil
}

// transfer performs a single SPI transaction with the ADC selected.
func (d *ADS1118) transfer(ctx context.Context, w, r []byte) error {
	return d.spi.Use(func(bus bridge.SPIBus) error {
		return d.chipSelect.Use(func(cs bridge.DigitalPin) error {
			if err := util.SpinUntil(ctx, bus.TryLock); err != nil {
				return maskAny(err)
			}
			defer bus.Unlock()
			if err := bus.Configure(ads1118SPIConfig); err != nil {
				return err
			}
			if err := d.selectChip(cs, true); err != nil {
				return err
			}
			txErr := bus.Tx(w, r)
			if err := d.selectChip(cs, false); err != nil && txErr == nil {
				return err
			}
			return txErr
		})
	})
}

// selectChip drives the (active low) chip select.
func (d *ADS1118) selectChip(cs bridge.DigitalPin, selected bool) error {
	if err := cs.SetDirection(bridge.Output); err != nil {
		return err
	}
	return cs.Write(!selected)
}

// waitContext waits for the given duration or until the context is canceled.
func waitContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
