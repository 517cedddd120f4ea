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
	"time"
)

// Device contains the API that is supported by all types of devices.
type Device interface {
	// Configure is called once to put the device in the desired state.
	Configure(ctx context.Context) error
	// Close brings the device back to a safe state.
	Close(ctx context.Context) error
}

// ADC contains the API that is supported by all analog to digital converters.
type ADC interface {
	Device
	// Sample performs a single conversion of the given channel.
	// Returns volts, or degrees Celsius for Temperature.
	Sample(ctx context.Context, ch MuxSelection, opts ...SampleOption) (float64, error)
}

// LED contains the API that is supported by all indicator LEDs.
type LED interface {
	Device
	// Set turns the LED on/off, stopping any blinking.
	Set(on bool) error
	// Blink the LED with given duration between on/off.
	Blink(delay time.Duration) error
}
