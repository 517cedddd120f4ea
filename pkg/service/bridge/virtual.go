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

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/flatsat/BoardWorker/pkg/service/util"
)

const (
	virtualAnalogReference = 3.3
)

// VirtualBridge implements the bridge for a board without hardware.
// Pins are held in memory, SPI transactions are routed to attached
// peripheral simulators.
type VirtualBridge struct {
	mutex       sync.Mutex
	known       map[PinID]struct{}
	pins        map[PinID]*virtualPin
	bound       map[PinID]bool
	bindCount   map[PinID]int
	peripherals []attachedPeripheral
	i2cDevices  map[i2cAddress]I2CPeripheral
	closed      bool
}

type i2cAddress struct {
	scl  PinID
	addr uint16
}

type virtualPin struct {
	gpiotest.Pin
	direction Direction
	analog    uint16
	fault     error
}

type attachedPeripheral struct {
	cs         PinID
	miso       PinID
	peripheral SPIPeripheral
}

var _ API = &VirtualBridge{}

// NewVirtualBridge implements the bridge for a virtual board.
// If pins are given, only those pins exist on the board.
// Otherwise every non-empty pin identifier is accepted.
func NewVirtualBridge(pins ...PinID) *VirtualBridge {
	b := &VirtualBridge{
		pins:       make(map[PinID]*virtualPin),
		bound:      make(map[PinID]bool),
		bindCount:  make(map[PinID]int),
		i2cDevices: make(map[i2cAddress]I2CPeripheral),
	}
	if len(pins) > 0 {
		b.known = make(map[PinID]struct{}, len(pins))
		for _, p := range pins {
			b.known[p] = struct{}{}
		}
	}
	return b
}

// AttachSPIPeripheral attaches a simulated peripheral to the SPI bus
// that uses the given MISO pin. The peripheral is selected while the
// given chip-select pin is low.
func (b *VirtualBridge) AttachSPIPeripheral(cs, miso PinID, p SPIPeripheral) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.peripherals = append(b.peripherals, attachedPeripheral{cs: cs, miso: miso, peripheral: p})
}

// AttachI2CPeripheral attaches a simulated peripheral with given address
// to the I2C bus that uses the given SCL pin.
func (b *VirtualBridge) AttachI2CPeripheral(scl PinID, addr uint16, p I2CPeripheral) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.i2cDevices[i2cAddress{scl: scl, addr: addr}] = p
}

// Level returns the current level of the given pin.
func (b *VirtualBridge) Level(pin PinID) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.levelLocked(pin)
}

// SetLevel sets the level of the given pin, as if driven from outside.
func (b *VirtualBridge) SetLevel(pin PinID, value bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.pinLocked(pin).Out(gpio.Level(value))
}

// SetFault makes reads and writes of the given digital pin fail with err.
// A nil err clears the fault.
func (b *VirtualBridge) SetFault(pin PinID, err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.pinLocked(pin).fault = err
}

// SetAnalog sets the raw value returned by an analog input on the given pin.
func (b *VirtualBridge) SetAnalog(pin PinID, raw uint16) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.pinLocked(pin).analog = raw
}

// Direction returns the last direction set on the given pin.
func (b *VirtualBridge) Direction(pin PinID) Direction {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.pinLocked(pin).direction
}

// Bound returns true if the given pin is currently bound.
func (b *VirtualBridge) Bound(pin PinID) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.bound[pin]
}

// BindCount returns the number of times the given pin has been bound.
func (b *VirtualBridge) BindCount(pin PinID) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.bindCount[pin]
}

// DigitalInOut binds a single pin as a digital input/output.
func (b *VirtualBridge) DigitalInOut(pin PinID) (DigitalPin, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if err := b.bindLocked(pin); err != nil {
		return nil, err
	}
	p := b.pinLocked(pin)
	p.direction = Input
	return &virtualDigitalPin{bridge: b, id: pin}, nil
}

// SPI binds the given pins as an SPI bus.
func (b *VirtualBridge) SPI(clock, mosi, miso PinID) (SPIBus, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if err := b.bindLocked(clock, mosi, miso); err != nil {
		return nil, err
	}
	return &virtualSPIBus{bridge: b, pins: []PinID{clock, mosi, miso}, miso: miso}, nil
}

// I2C binds the given pins as an I2C bus.
func (b *VirtualBridge) I2C(scl, sda PinID, frequency int) (I2CBus, error) {
	if frequency <= 0 {
		return nil, errors.Wrapf(UnsupportedError, "i2c frequency %d", frequency)
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if err := b.bindLocked(scl, sda); err != nil {
		return nil, err
	}
	return &virtualI2CBus{bridge: b, pins: []PinID{scl, sda}}, nil
}

// AnalogIn binds the given pin as an analog input.
func (b *VirtualBridge) AnalogIn(pin PinID) (AnalogInput, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if err := b.bindLocked(pin); err != nil {
		return nil, err
	}
	return &virtualAnalogInput{bridge: b, id: pin}, nil
}

// Close releases all bindings.
func (b *VirtualBridge) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.bound = make(map[PinID]bool)
	b.closed = true
	return nil
}

// bindLocked marks all given pins bound, or none of them.
func (b *VirtualBridge) bindLocked(pins ...PinID) error {
	if b.closed {
		return maskAny(ClosedError)
	}
	seen := make(map[PinID]struct{}, len(pins))
	for _, p := range pins {
		if p == "" {
			return invalidPin(p)
		}
		if b.known != nil {
			if _, ok := b.known[p]; !ok {
				return invalidPin(p)
			}
		}
		if _, dup := seen[p]; dup || b.bound[p] {
			return pinInUse(p)
		}
		seen[p] = struct{}{}
	}
	for _, p := range pins {
		b.bound[p] = true
		b.bindCount[p]++
	}
	return nil
}

func (b *VirtualBridge) unbindLocked(pins ...PinID) {
	for _, p := range pins {
		delete(b.bound, p)
	}
}

func (b *VirtualBridge) pinLocked(pin PinID) *virtualPin {
	p, found := b.pins[pin]
	if !found {
		p = &virtualPin{}
		p.N = string(pin)
		p.Num, _ = pin.Number()
		p.L = gpio.High
		b.pins[pin] = p
	}
	return p
}

// levelLocked returns the level of the pin.
// A MISO pin of a selected peripheral reflects its data-ready signal (low = ready).
func (b *VirtualBridge) levelLocked(pin PinID) bool {
	for _, ap := range b.peripherals {
		if ap.miso == pin && !bool(b.pinLocked(ap.cs).Read()) {
			return !ap.peripheral.DataReady()
		}
	}
	return bool(b.pinLocked(pin).Read())
}

type virtualDigitalPin struct {
	bridge *VirtualBridge
	id     PinID
	closed bool
}

func (p *virtualDigitalPin) SetDirection(dir Direction) error {
	b := p.bridge
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if p.closed {
		return maskAny(ClosedError)
	}
	if dir != Input && dir != Output {
		return errors.Wrapf(InvalidDirectionError, "direction %d", int(dir))
	}
	b.pinLocked(p.id).direction = dir
	return nil
}

func (p *virtualDigitalPin) Read() (bool, error) {
	b := p.bridge
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if p.closed {
		return false, maskAny(ClosedError)
	}
	if err := b.pinLocked(p.id).fault; err != nil {
		return false, err
	}
	return b.levelLocked(p.id), nil
}

func (p *virtualDigitalPin) Write(value bool) error {
	b := p.bridge
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if p.closed {
		return maskAny(ClosedError)
	}
	vp := b.pinLocked(p.id)
	if vp.fault != nil {
		return vp.fault
	}
	if vp.direction != Output {
		return errors.Wrapf(InvalidDirectionError, "pin '%s' is not an output", p.id)
	}
	return vp.Out(gpio.Level(value))
}

func (p *virtualDigitalPin) Close() error {
	b := p.bridge
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !p.closed {
		p.closed = true
		b.unbindLocked(p.id)
	}
	return nil
}

type virtualSPIBus struct {
	lock   util.SpinLock
	bridge *VirtualBridge
	pins   []PinID
	miso   PinID
	config *SPIConfig
	closed bool
}

func (s *virtualSPIBus) TryLock() bool { return s.lock.TryLock() }
func (s *virtualSPIBus) Unlock()       { s.lock.Unlock() }

func (s *virtualSPIBus) Configure(cfg SPIConfig) error {
	b := s.bridge
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if s.closed {
		return maskAny(ClosedError)
	}
	s.config = &cfg
	return nil
}

func (s *virtualSPIBus) Tx(w, r []byte) error {
	b := s.bridge
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if s.closed {
		return maskAny(ClosedError)
	}
	if s.config == nil {
		return errors.Wrap(NotConfiguredError, "spi bus")
	}
	if r != nil && len(r) != len(w) {
		return errors.Errorf("read buffer length %d does not match write length %d", len(r), len(w))
	}
	if r == nil {
		r = make([]byte, len(w))
	}
	for _, ap := range b.peripherals {
		if ap.miso == s.miso && !bool(b.pinLocked(ap.cs).Read()) {
			ap.peripheral.Transfer(w, r)
			return nil
		}
	}
	// Nothing selected, MISO floats high
	for i := range r {
		r[i] = 0xFF
	}
	return nil
}

func (s *virtualSPIBus) Close() error {
	b := s.bridge
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !s.closed {
		s.closed = true
		b.unbindLocked(s.pins...)
	}
	return nil
}

type virtualI2CBus struct {
	bridge *VirtualBridge
	pins   []PinID
	closed bool
}

// Tx on the virtual I2C bus is routed to the peripheral with given address.
// Without such peripheral it succeeds with all bits read high.
func (s *virtualI2CBus) Tx(addr uint16, w, r []byte) error {
	b := s.bridge
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if s.closed {
		return maskAny(ClosedError)
	}
	if p, found := b.i2cDevices[i2cAddress{scl: s.pins[0], addr: addr}]; found {
		return p.Tx(w, r)
	}
	for i := range r {
		r[i] = 0xFF
	}
	return nil
}

func (s *virtualI2CBus) Close() error {
	b := s.bridge
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !s.closed {
		s.closed = true
		b.unbindLocked(s.pins...)
	}
	return nil
}

type virtualAnalogInput struct {
	bridge *VirtualBridge
	id     PinID
	closed bool
}

func (a *virtualAnalogInput) Read() (uint16, error) {
	b := a.bridge
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if a.closed {
		return 0, maskAny(ClosedError)
	}
	return b.pinLocked(a.id).analog, nil
}

func (a *virtualAnalogInput) ReferenceVoltage() float64 {
	return virtualAnalogReference
}

func (a *virtualAnalogInput) Close() error {
	b := a.bridge
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !a.closed {
		a.closed = true
		b.unbindLocked(a.id)
	}
	return nil
}
