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

package registry

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/flatsat/BoardWorker/pkg/service/bridge"
)

// Claimant is the current owner of a pin.
// It is either a *DefaultClaimant or a *Device[T].
type Claimant interface {
	// Name of the claimant, for logging and status.
	Name() string
	// running returns true if the claimant holds a live hardware binding.
	running() bool
	// busy returns true if the claimant has active leases.
	busy() bool
	// reclaim tears down the hardware binding of the claimant.
	reclaim() error
}

// PinRecord associates a pin with its current claimant.
// The claimant is never nil.
type PinRecord struct {
	pin      bridge.PinID
	claimant Claimant
}

// Pin returns the identifier of the pin.
func (p *PinRecord) Pin() bridge.PinID { return p.pin }

// DefaultClaimant owns a pin that no device holds.
// It is never busy. It is running while it holds the pin as plain digital input.
type DefaultClaimant struct {
	pin     bridge.PinID
	binding bridge.DigitalPin
}

// newDefaultClaimant creates an unbound default claimant.
func newDefaultClaimant(pin bridge.PinID) *DefaultClaimant {
	return &DefaultClaimant{pin: pin}
}

// parkedDefaultClaimant creates a default claimant that binds the pin
// as a plain digital input.
func parkedDefaultClaimant(api bridge.API, pin bridge.PinID) (*DefaultClaimant, error) {
	c := newDefaultClaimant(pin)
	binding, err := api.DigitalInOut(pin)
	if err != nil {
		return c, errors.Wrapf(err, "park pin '%s'", pin)
	}
	c.binding = binding
	return c, nil
}

// Name returns the name of the claimant.
func (c *DefaultClaimant) Name() string {
	return fmt.Sprintf("default@%s", c.pin)
}

func (c *DefaultClaimant) running() bool { return c.binding != nil }
func (c *DefaultClaimant) busy() bool    { return false }

func (c *DefaultClaimant) reclaim() error {
	if c.binding == nil {
		return nil
	}
	binding := c.binding
	c.binding = nil
	if err := binding.Close(); err != nil {
		return errors.Wrapf(err, "release pin '%s'", c.pin)
	}
	return nil
}
