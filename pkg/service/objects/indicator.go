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
	// Blink delay of a status indicator while a sensor is failing
	failureBlinkDelay = 250 * time.Millisecond
	// Time an activity indicator is on for a reading
	activityFlash = 50 * time.Millisecond
)

// indicator is the common part of LED driven objects.
type indicator struct {
	log        zerolog.Logger
	config     model.Object
	devService devices.Service
	led        devices.LED
}

// ID returns the ID of the object.
func (i *indicator) ID() string {
	return i.config.ID
}

// Return the type of this object.
func (i *indicator) Type() model.ObjectType {
	return i.config.Type
}

// Configure looks up the LED of the indicator.
func (i *indicator) Configure(ctx context.Context) error {
	led, ok := i.devService.LEDByID(i.config.Device)
	if !ok {
		return errors.Wrapf(model.NotFoundError, "Device '%s' not found", i.config.Device)
	}
	i.led = led
	return nil
}

// statusIndicator is on while all sensors deliver readings and blinks
// as long as at least one sensor fails.
type statusIndicator struct {
	indicator
}

// newStatusIndicator creates a new status indicator for the given configuration.
func newStatusIndicator(config model.Object, log zerolog.Logger, devService devices.Service) (*statusIndicator, error) {
	if config.Type != model.ObjectTypeStatusIndicator {
		return nil, errors.Wrapf(model.ValidationError, "Invalid object type '%s'", config.Type)
	}
	return &statusIndicator{
		indicator: indicator{
			log:        log,
			config:     config,
			devService: devService,
		},
	}, nil
}

// Run the indicator until the given context is cancelled.
func (i *statusIndicator) Run(ctx context.Context, readings ReadingService) error {
	updates := make(chan Reading, 16)
	cancel := readings.RegisterReadingReceiver(func(r Reading) {
		select {
		case updates <- r:
		default:
			// Drop; a later reading of the same sensor updates the state
		}
	})
	defer cancel()

	failing := make(map[string]struct{})
	blinking := false
	if err := i.led.Set(true); err != nil {
		i.log.Warn().Err(err).Msg("Failed to turn on status indicator")
	}
	for {
		select {
		case r := <-updates:
			if r.Failed() {
				failing[r.ObjectID] = struct{}{}
			} else {
				delete(failing, r.ObjectID)
			}
			var err error
			if len(failing) > 0 && !blinking {
				err = i.led.Blink(failureBlinkDelay)
				blinking = true
			} else if len(failing) == 0 && blinking {
				err = i.led.Set(true)
				blinking = false
			}
			if err != nil {
				i.log.Warn().Err(err).Msg("Failed to update status indicator")
			}
		case <-ctx.Done():
			return i.led.Set(false)
		}
	}
}

// activityIndicator flashes for every reading.
type activityIndicator struct {
	indicator
}

// newActivityIndicator creates a new activity indicator for the given configuration.
func newActivityIndicator(config model.Object, log zerolog.Logger, devService devices.Service) (*activityIndicator, error) {
	if config.Type != model.ObjectTypeActivityIndicator {
		return nil, errors.Wrapf(model.ValidationError, "Invalid object type '%s'", config.Type)
	}
	return &activityIndicator{
		indicator: indicator{
			log:        log,
			config:     config,
			devService: devService,
		},
	}, nil
}

// Run the indicator until the given context is cancelled.
func (i *activityIndicator) Run(ctx context.Context, readings ReadingService) error {
	activity := make(chan struct{}, 1)
	cancel := readings.RegisterReadingReceiver(func(Reading) {
		select {
		case activity <- struct{}{}:
		default:
		}
	})
	defer cancel()

	for {
		select {
		case <-activity:
			i.led.Set(true)
			select {
			case <-time.After(activityFlash):
			case <-ctx.Done():
			}
			i.led.Set(false)
		case <-ctx.Done():
			return i.led.Set(false)
		}
	}
}
