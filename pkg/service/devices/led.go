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

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/bridge"
	"github.com/flatsat/BoardWorker/pkg/service/registry"
)

// statusLed is an indicator LED on a digital output pin.
type statusLed struct {
	mutex       sync.Mutex
	log         zerolog.Logger
	onActive    func()
	config      model.HWDevice
	pin         *registry.Device[bridge.DigitalPin]
	activeLow   bool
	cancelBlink func()
}

// newStatusLed creates a LED instance for a LED with given config.
func newStatusLed(log zerolog.Logger, config model.HWDevice, reg *registry.Registry, onActive func()) (LED, error) {
	if config.Type != model.HWDeviceTypeLED {
		return nil, errors.Wrapf(model.ValidationError, "Invalid device type '%s'", string(config.Type))
	}
	return &statusLed{
		log:       log,
		onActive:  onActive,
		config:    config,
		pin:       reg.DigitalInOut(bridge.PinID(config.Pins[model.PinNameOutput])),
		activeLow: config.ActiveLow,
	}, nil
}

// Configure turns the LED off.
func (l *statusLed) Configure(ctx context.Context) error {
	l.onActive()
	return l.Set(false)
}

// Close turns the LED off.
func (l *statusLed) Close(ctx context.Context) error {
	l.onActive()
	return l.Set(false)
}

// Turn led on/off, cancel blink
func (l *statusLed) Set(on bool) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if cancel := l.cancelBlink; cancel != nil {
		l.cancelBlink = nil
		cancel()
	}
	if err := l.write(on); err != nil {
		return errors.Wrapf(err, "Write[%s] failed", l.config.ID)
	}
	return nil
}

// Blink led on/off
func (l *statusLed) Blink(delay time.Duration) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if cancel := l.cancelBlink; cancel != nil {
		l.cancelBlink = nil
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancelBlink = cancel
	go func() {
		value := true
		for {
			l.mutex.Lock()
			if ctx.Err() == nil {
				if err := l.write(value); err != nil {
					l.log.Warn().Err(err).Msg("Failed to blink LED")
				}
				value = !value
			}
			l.mutex.Unlock()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// write the led state. Caller holds the mutex.
func (l *statusLed) write(on bool) error {
	return l.pin.Use(func(p bridge.DigitalPin) error {
		if err := p.SetDirection(bridge.Output); err != nil {
			return err
		}
		return p.Write(on != l.activeLow)
	})
}
