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

package bridge

import (
	"strconv"
	"strings"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// PinID identifies a physical pin of the board, e.g. "GPIO17".
// Two PinID values refer to the same hardware pin iff they are equal.
type PinID string

// Number returns the numeric part of the pin identifier.
// Both "GPIO17" and "17" yield 17.
func (p PinID) Number() (int, error) {
	s := strings.TrimLeft(string(p), "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz_")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, invalidPin(p)
	}
	return n, nil
}

// String returns the pin identifier.
func (p PinID) String() string {
	return string(p)
}

// Direction of a digital pin.
type Direction int

const (
	// Input direction
	Input Direction = iota
	// Output direction
	Output
)

// String returns a human readable direction.
func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "invalid"
	}
}

// API of the bridge, the hardware layer that gives access to the
// pins and peripherals of the board.
// Every method binds the given pins. Binding a pin that is already
// bound fails with PinInUseError.
type API interface {
	// DigitalInOut binds a single pin as a digital input/output.
	// The pin starts as an input.
	DigitalInOut(pin PinID) (DigitalPin, error)
	// SPI binds the given pins as an SPI bus.
	SPI(clock, mosi, miso PinID) (SPIBus, error)
	// I2C binds the given pins as an I2C bus running at the given frequency (Hz).
	I2C(scl, sda PinID, frequency int) (I2CBus, error)
	// AnalogIn binds the given pin as an analog input.
	AnalogIn(pin PinID) (AnalogInput, error)

	// Close releases all bridge resources.
	Close() error
}

// Handle is implemented by all hardware bindings.
// Close releases the underlying pins.
type Handle interface {
	Close() error
}

// DigitalPin is a single pin bound as digital input/output.
type DigitalPin interface {
	Handle
	// SetDirection changes the direction of the pin.
	SetDirection(dir Direction) error
	// Read the current logical level of the pin.
	Read() (bool, error)
	// Write the logical level of the pin. The pin must be an output.
	Write(value bool) error
}

// SPIConfig holds the settings of an SPI transaction.
type SPIConfig struct {
	Frequency physic.Frequency
	Mode      spi.Mode
	Bits      int
}

// SPIBus is a set of pins bound as SPI bus.
type SPIBus interface {
	Handle
	// TryLock tries to get exclusive access to the bus.
	// Returns true on success.
	TryLock() bool
	// Unlock releases a lock obtained with TryLock.
	Unlock()
	// Configure the bus for the following transactions.
	Configure(cfg SPIConfig) error
	// Tx writes w and simultaneously reads into r.
	// r must be nil or have the same length as w.
	Tx(w, r []byte) error
}

// I2CBus is a set of pins bound as I2C bus.
type I2CBus interface {
	Handle
	// Tx performs a write followed by a read on the device with given address.
	Tx(addr uint16, w, r []byte) error
}

// AnalogInput is a pin bound as analog input.
type AnalogInput interface {
	Handle
	// Read the raw 16-bit value of the input.
	Read() (uint16, error)
	// ReferenceVoltage returns the voltage that corresponds to a raw value of 65535.
	ReferenceVoltage() float64
}

// SPIPeripheral is a device on an SPI bus, as seen from the bus.
// It is used by the virtual bridge to simulate attached chips.
type SPIPeripheral interface {
	// Transfer is called with the bytes written by the controller.
	// It fills r with the bytes returned by the peripheral.
	Transfer(w, r []byte)
	// DataReady returns true when the peripheral signals data ready.
	DataReady() bool
}

// I2CPeripheral is a device on an I2C bus, as seen from the bus.
// It is used by the virtual bridge to simulate attached chips.
type I2CPeripheral interface {
	// Tx is called for every transaction addressed to the peripheral.
	Tx(w, r []byte) error
}
