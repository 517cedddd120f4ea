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
	"sync"

	"github.com/ecc1/gpio"
	"github.com/pkg/errors"
	periphgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// PortConfig maps a named host port onto the pins it uses.
type PortConfig struct {
	// Name of the port in the periph registry, e.g. "SPI0.0" or "1".
	Name string
	// Pins used by the port. SPI: clock, mosi, miso. I2C: scl, sda.
	Pins []PinID
}

// LinuxConfig holds the board specific settings of the linux bridge.
type LinuxConfig struct {
	SPIPorts []PortConfig
	I2CPorts []PortConfig
	// AnalogDevice is the sysfs directory of the IIO ADC device.
	AnalogDevice string
	// AnalogPins maps pins to IIO voltage channel numbers.
	AnalogPins map[PinID]int
	// AnalogReference is the voltage of a full scale raw value.
	AnalogReference float64
}

type linuxBridge struct {
	mutex  sync.Mutex
	config LinuxConfig
	bound  map[PinID]bool

	// lookupPin returns the periph pin with the given name, nil if unknown.
	lookupPin func(name string) periphgpio.PinIO
	openSPI   func(name string) (spi.PortCloser, error)
	openI2C   func(name string) (i2c.BusCloser, error)
}

var (
	spiPinFuncs = []pin.Func{spi.CLK, spi.MOSI, spi.MISO}
	i2cPinFuncs = []pin.Func{i2c.SCL, i2c.SDA}
)

// NewLinuxBridge implements the bridge for linux boards, using
// periph.io for digital pins, SPI & I2C.
// Digital pins unknown to periph fall back to sysfs GPIO.
func NewLinuxBridge(config LinuxConfig) (API, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "host.Init failed")
	}
	return newLinuxBridge(config), nil
}

func newLinuxBridge(config LinuxConfig) *linuxBridge {
	return &linuxBridge{
		config:    config,
		bound:     make(map[PinID]bool),
		lookupPin: gpioreg.ByName,
		openSPI:   spireg.Open,
		openI2C:   i2creg.Open,
	}
}

// DigitalInOut binds a single pin as a digital input/output.
// The pin is switched to its GPIO function, taking it away from any bus.
func (b *linuxBridge) DigitalInOut(id PinID) (DigitalPin, error) {
	nr, err := id.Number()
	if err != nil {
		return nil, err
	}
	if err := b.bind(id); err != nil {
		return nil, err
	}
	release := func() { b.unbind(id) }
	if p := b.lookupPin(string(id)); p != nil {
		if err := p.In(periphgpio.PullNoChange, periphgpio.NoEdge); err != nil {
			b.unbind(id)
			return nil, errors.Wrapf(err, "In[%s] failed", id)
		}
		return &periphDigitalPin{
			id:        id,
			pin:       p,
			direction: Input,
			release:   release,
		}, nil
	}
	in, err := gpio.Input(nr, false)
	if err != nil {
		b.unbind(id)
		return nil, errors.Wrapf(err, "Input[%s] failed", id)
	}
	return &linuxDigitalPin{
		id:        id,
		nr:        nr,
		direction: Input,
		input:     in,
		release:   release,
	}, nil
}

// SPI binds the given pins as an SPI bus.
func (b *linuxBridge) SPI(clock, mosi, miso PinID) (SPIBus, error) {
	pins := []PinID{clock, mosi, miso}
	port, found := findPort(b.config.SPIPorts, pins)
	if !found {
		return nil, errors.Wrapf(UnsupportedError, "no SPI port on pins %v", pins)
	}
	if err := b.bind(pins...); err != nil {
		return nil, err
	}
	if err := b.restoreFuncs(pins, spiPinFuncs); err != nil {
		b.unbind(pins...)
		return nil, err
	}
	name := port.Name
	open := func() (spi.PortCloser, error) { return b.openSPI(name) }
	return newPeriphSPIBus(name, open, func() { b.unbind(pins...) }), nil
}

// I2C binds the given pins as an I2C bus.
func (b *linuxBridge) I2C(scl, sda PinID, frequency int) (I2CBus, error) {
	pins := []PinID{scl, sda}
	port, found := findPort(b.config.I2CPorts, pins)
	if !found {
		return nil, errors.Wrapf(UnsupportedError, "no I2C port on pins %v", pins)
	}
	if err := b.bind(pins...); err != nil {
		return nil, err
	}
	if err := b.restoreFuncs(pins, i2cPinFuncs); err != nil {
		b.unbind(pins...)
		return nil, err
	}
	bus, err := b.openI2C(port.Name)
	if err != nil {
		b.unbind(pins...)
		return nil, errors.Wrapf(err, "Open[%s] failed", port.Name)
	}
	if err := bus.SetSpeed(physic.Frequency(frequency) * physic.Hertz); err != nil {
		bus.Close()
		b.unbind(pins...)
		return nil, errors.Wrapf(err, "SetSpeed[%s] failed", port.Name)
	}
	return newPeriphI2CBus(port.Name, bus, func() { b.unbind(pins...) }), nil
}

// AnalogIn binds the given pin as an analog input.
func (b *linuxBridge) AnalogIn(pin PinID) (AnalogInput, error) {
	channel, found := b.config.AnalogPins[pin]
	if !found || b.config.AnalogDevice == "" {
		return nil, errors.Wrapf(UnsupportedError, "no analog input on pin '%s'", pin)
	}
	if err := b.bind(pin); err != nil {
		return nil, err
	}
	return newIIOAnalogInput(b.config.AnalogDevice, channel, b.config.AnalogReference, func() { b.unbind(pin) }), nil
}

// Close releases all bridge resources.
// Bindings that are still open keep their pins.
func (b *linuxBridge) Close() error {
	return nil
}

func (b *linuxBridge) bind(pins ...PinID) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	seen := make(map[PinID]struct{}, len(pins))
	for _, p := range pins {
		if _, dup := seen[p]; dup || b.bound[p] {
			return pinInUse(p)
		}
		seen[p] = struct{}{}
	}
	for _, p := range pins {
		b.bound[p] = true
	}
	boundPinsGauge.Set(float64(len(b.bound)))
	return nil
}

func (b *linuxBridge) unbind(pins ...PinID) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for _, p := range pins {
		delete(b.bound, p)
	}
	boundPinsGauge.Set(float64(len(b.bound)))
}

// restoreFuncs switches the given pins back to their bus function.
// A pin that was used as GPIO is otherwise no longer connected to the bus controller.
// Pins unknown to periph, or without selectable functions, are left alone.
func (b *linuxBridge) restoreFuncs(pins []PinID, funcs []pin.Func) error {
	for i, id := range pins {
		p := b.lookupPin(string(id))
		if p == nil {
			continue
		}
		if r, ok := p.(periphgpio.RealPin); ok {
			p = r.Real()
		}
		pf, ok := p.(pin.PinFunc)
		if !ok || pf.Func().Generalize() == funcs[i] {
			continue
		}
		if err := pf.SetFunc(funcs[i]); err != nil {
			return errors.Wrapf(err, "SetFunc[%s, %s] failed", id, funcs[i])
		}
	}
	return nil
}

// findPort returns the port that uses exactly the given pins (in order).
func findPort(ports []PortConfig, pins []PinID) (PortConfig, bool) {
	for _, p := range ports {
		if len(p.Pins) != len(pins) {
			continue
		}
		match := true
		for i := range pins {
			if p.Pins[i] != pins[i] {
				match = false
				break
			}
		}
		if match {
			return p, true
		}
	}
	return PortConfig{}, false
}

// linuxDigitalPin is a sysfs GPIO pin.
// Changing the direction re-opens the pin.
type linuxDigitalPin struct {
	mutex     sync.Mutex
	id        PinID
	nr        int
	direction Direction
	input     gpio.InputPin
	output    gpio.OutputPin
	release   func()
	closed    bool
}

func (p *linuxDigitalPin) SetDirection(dir Direction) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return maskAny(ClosedError)
	}
	if dir == p.direction {
		return nil
	}
	switch dir {
	case Input:
		in, err := gpio.Input(p.nr, false)
		if err != nil {
			return errors.Wrapf(err, "Input[%s] failed", p.id)
		}
		p.input, p.output = in, nil
	case Output:
		out, err := gpio.Output(p.nr, false, false)
		if err != nil {
			return errors.Wrapf(err, "Output[%s] failed", p.id)
		}
		p.input, p.output = nil, out
	default:
		return errors.Wrapf(InvalidDirectionError, "direction %d", int(dir))
	}
	p.direction = dir
	return nil
}

func (p *linuxDigitalPin) Read() (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return false, maskAny(ClosedError)
	}
	if p.input == nil {
		return false, errors.Wrapf(InvalidDirectionError, "pin '%s' is not an input", p.id)
	}
	return p.input.Read()
}

func (p *linuxDigitalPin) Write(value bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return maskAny(ClosedError)
	}
	if p.output == nil {
		return errors.Wrapf(InvalidDirectionError, "pin '%s' is not an output", p.id)
	}
	return p.output.Write(value)
}

func (p *linuxDigitalPin) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.input, p.output = nil, nil
	p.release()
	return nil
}

// periphDigitalPin is a GPIO pin from the periph pin registry.
type periphDigitalPin struct {
	mutex     sync.Mutex
	id        PinID
	pin       periphgpio.PinIO
	direction Direction
	release   func()
	closed    bool
}

func (p *periphDigitalPin) SetDirection(dir Direction) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return maskAny(ClosedError)
	}
	if dir == p.direction {
		return nil
	}
	switch dir {
	case Input:
		if err := p.pin.In(periphgpio.PullNoChange, periphgpio.NoEdge); err != nil {
			return errors.Wrapf(err, "In[%s] failed", p.id)
		}
	case Output:
		if err := p.pin.Out(periphgpio.Low); err != nil {
			return errors.Wrapf(err, "Out[%s] failed", p.id)
		}
	default:
		return errors.Wrapf(InvalidDirectionError, "direction %d", int(dir))
	}
	p.direction = dir
	return nil
}

func (p *periphDigitalPin) Read() (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return false, maskAny(ClosedError)
	}
	if p.direction != Input {
		return false, errors.Wrapf(InvalidDirectionError, "pin '%s' is not an input", p.id)
	}
	return p.pin.Read() == periphgpio.High, nil
}

func (p *periphDigitalPin) Write(value bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return maskAny(ClosedError)
	}
	if p.direction != Output {
		return errors.Wrapf(InvalidDirectionError, "pin '%s' is not an output", p.id)
	}
	if err := p.pin.Out(periphgpio.Level(value)); err != nil {
		return errors.Wrapf(err, "Out[%s] failed", p.id)
	}
	return nil
}

// Close halts the pin and frees it for other bindings.
func (p *periphDigitalPin) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	defer p.release()
	if err := p.pin.Halt(); err != nil {
		return errors.Wrapf(err, "Halt[%s] failed", p.id)
	}
	return nil
}
