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

package model

import (
	"strconv"

	"github.com/pkg/errors"
)

// HWDevice holds configuration data for a specific hardware device.
type HWDevice struct {
	// Unique identifier of the device (instance)
	ID string `json:"id" yaml:"id"`
	// Type of the device
	Type HWDeviceType `json:"type" yaml:"type"`
	// Pins used by the device, keyed by pin name.
	// The names used are specific to the type of device.
	Pins map[PinName]string `json:"pins" yaml:"pins"`
	// Address of an I2C device, e.g. "0x48".
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
	// Frequency of the I2C bus in Hz. 0 selects the default.
	Frequency int `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	// MaxAttempts is the number of conversion attempts of an ADC.
	// 0 selects the default, negative retries until canceled.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	// ActiveLow inverts the output of a LED.
	ActiveLow bool `json:"active_low,omitempty" yaml:"active_low,omitempty"`
}

// HWDeviceType identifies a type of devices (typically chip name)
type HWDeviceType string

const (
	HWDeviceTypeADS1118 HWDeviceType = "ads1118"
	HWDeviceTypeADS1115 HWDeviceType = "ads1115"
	HWDeviceTypeLED     HWDeviceType = "led"
)

var (
	hwDevicePinNames = map[HWDeviceType][]PinName{
		HWDeviceTypeADS1118: {PinNameClock, PinNameMOSI, PinNameMISO, PinNameChipSelect},
		HWDeviceTypeADS1115: {PinNameSCL, PinNameSDA},
		HWDeviceTypeLED:     {PinNameOutput},
	}
)

// PinNames returns the pin names required by the type.
func (t HWDeviceType) PinNames() []PinName {
	return hwDevicePinNames[t]
}

// Validate the given type, returning nil on ok,
// or an error upon validation issues.
func (t HWDeviceType) Validate() error {
	if _, found := hwDevicePinNames[t]; found {
		return nil
	}
	return errors.Wrapf(ValidationError, "invalid device type '%s'", string(t))
}

// Validate the given configuration, returning nil on ok,
// or an error upon validation issues.
func (d HWDevice) Validate() error {
	if d.ID == "" {
		return errors.Wrap(ValidationError, "ID is empty")
	}
	if err := d.Type.Validate(); err != nil {
		return errors.Wrapf(ValidationError, "Error in Type of '%s': %s", d.ID, err.Error())
	}
	for _, name := range d.Type.PinNames() {
		if d.Pins[name] == "" {
			return errors.Wrapf(ValidationError, "Pin '%s' of '%s' is empty", name, d.ID)
		}
	}
	if d.Type == HWDeviceTypeADS1118 {
		for _, name := range []PinName{PinNameClock, PinNameMOSI, PinNameMISO} {
			if d.Pins[name] == d.Pins[PinNameChipSelect] {
				return errors.Wrapf(ValidationError, "Chip select of '%s' cannot share pin '%s' with %s", d.ID, d.Pins[name], name)
			}
		}
	}
	if d.Type == HWDeviceTypeADS1115 {
		if _, err := d.I2CAddress(); err != nil {
			return errors.Wrapf(ValidationError, "Invalid address of '%s': %s", d.ID, err.Error())
		}
	}
	if d.Frequency < 0 {
		return errors.Wrapf(ValidationError, "Frequency of '%s' is negative", d.ID)
	}
	return nil
}

// I2CAddress parses the address of an I2C device.
// Values may be in decimal or hexadecimal form.
func (d HWDevice) I2CAddress() (uint16, error) {
	if d.Address == "" {
		return 0, errors.New("address is empty")
	}
	v, err := strconv.ParseUint(d.Address, 0, 10)
	if err != nil {
		return 0, errors.Wrapf(err, "parse '%s'", d.Address)
	}
	return uint16(v), nil
}
