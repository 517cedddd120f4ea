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

import "github.com/pkg/errors"

// BridgeConfig holds the pin assignment of the host ports of a linux board.
type BridgeConfig struct {
	SPIPorts []PortConfig `json:"spi_ports,omitempty" yaml:"spi_ports,omitempty"`
	I2CPorts []PortConfig `json:"i2c_ports,omitempty" yaml:"i2c_ports,omitempty"`
	// AnalogDevice is the sysfs directory of an IIO ADC.
	AnalogDevice string `json:"analog_device,omitempty" yaml:"analog_device,omitempty"`
	// AnalogPins maps pin names to IIO voltage channels.
	AnalogPins map[string]int `json:"analog_pins,omitempty" yaml:"analog_pins,omitempty"`
	// AnalogReference is the voltage of a full scale analog reading.
	AnalogReference float64 `json:"analog_reference,omitempty" yaml:"analog_reference,omitempty"`
}

// PortConfig maps a host port to its pins.
type PortConfig struct {
	// Name of the port, e.g. "SPI0.0" or "/dev/i2c-1"
	Name string `json:"name" yaml:"name"`
	// Pins in port order (SPI: clock, mosi, miso; I2C: scl, sda)
	Pins []string `json:"pins" yaml:"pins"`
}

// Validate the given configuration, returning nil on ok,
// or an error upon validation issues.
func (c BridgeConfig) Validate() error {
	for _, p := range c.SPIPorts {
		if err := p.validate("SPI", 3); err != nil {
			return err
		}
	}
	for _, p := range c.I2CPorts {
		if err := p.validate("I2C", 2); err != nil {
			return err
		}
	}
	if len(c.AnalogPins) > 0 && c.AnalogDevice == "" {
		return errors.Wrap(ValidationError, "Analog pins require an analog device")
	}
	return nil
}

func (p PortConfig) validate(kind string, pinCount int) error {
	if p.Name == "" {
		return errors.Wrapf(ValidationError, "%s port name is empty", kind)
	}
	if len(p.Pins) != pinCount {
		return errors.Wrapf(ValidationError, "%s port '%s' needs %d pins, got %d", kind, p.Name, pinCount, len(p.Pins))
	}
	return nil
}
