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
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"
)

// muxPin is a test pin that tracks its function like a SoC pin multiplexer.
type muxPin struct {
	gpiotest.Pin
}

func (p *muxPin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.Lock()
	p.Fn = string(gpio.IN)
	p.Unlock()
	return p.Pin.In(pull, edge)
}

func (p *muxPin) Out(l gpio.Level) error {
	p.Lock()
	p.Fn = string(gpio.OUT)
	p.Unlock()
	return p.Pin.Out(l)
}

func (p *muxPin) SetFunc(f pin.Func) error {
	p.Lock()
	defer p.Unlock()
	p.Fn = string(f)
	return nil
}

func (p *muxPin) function() pin.Func {
	p.Lock()
	defer p.Unlock()
	return pin.Func(p.Fn)
}

func newTestLinuxBridge(pins map[string]*muxPin) *linuxBridge {
	b := newLinuxBridge(LinuxConfig{
		SPIPorts: []PortConfig{{Name: "SPI0.0", Pins: []PinID{"GPIO11", "GPIO10", "GPIO9"}}},
		I2CPorts: []PortConfig{{Name: "1", Pins: []PinID{"GPIO3", "GPIO2"}}},
	})
	b.lookupPin = func(name string) gpio.PinIO {
		if p, found := pins[name]; found {
			return p
		}
		return nil
	}
	b.openSPI = func(name string) (spi.PortCloser, error) {
		return &spitest.Record{}, nil
	}
	b.openI2C = func(name string) (i2c.BusCloser, error) {
		return &i2ctest.Playback{DontPanic: true}, nil
	}
	return b
}

func TestLinuxSPIFunctionsRestored(t *testing.T) {
	pins := map[string]*muxPin{}
	for _, name := range []string{"GPIO9", "GPIO10", "GPIO11"} {
		pins[name] = &muxPin{Pin: gpiotest.Pin{N: name, Fn: string(gpio.IN)}}
	}
	b := newTestLinuxBridge(pins)
	expectSPI := func() {
		t.Helper()
		for name, want := range map[string]pin.Func{"GPIO11": spi.CLK, "GPIO10": spi.MOSI, "GPIO9": spi.MISO} {
			if f := pins[name].function(); f != want {
				t.Errorf("%s function = %s, want %s", name, f, want)
			}
		}
	}

	bus, err := b.SPI("GPIO11", "GPIO10", "GPIO9")
	if err != nil {
		t.Fatalf("SPI failed: %v", err)
	}
	expectSPI()

	// Reclaim the bus and use MISO as data ready input
	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	drdy, err := b.DigitalInOut("GPIO9")
	if err != nil {
		t.Fatalf("DigitalInOut failed: %v", err)
	}
	if f := pins["GPIO9"].function(); f != gpio.IN {
		t.Errorf("GPIO9 function = %s, want %s", f, gpio.IN)
	}
	if _, err := b.SPI("GPIO11", "GPIO10", "GPIO9"); !IsPinInUse(err) {
		t.Errorf("expected PinInUseError, got %v", err)
	}
	if err := drdy.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Binding the bus again hands the pins back to the SPI controller
	bus, err = b.SPI("GPIO11", "GPIO10", "GPIO9")
	if err != nil {
		t.Fatalf("SPI failed: %v", err)
	}
	expectSPI()
	if err := bus.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestLinuxI2CFunctionsRestored(t *testing.T) {
	pins := map[string]*muxPin{
		"GPIO2": {Pin: gpiotest.Pin{N: "GPIO2", Fn: string(gpio.OUT)}},
		"GPIO3": {Pin: gpiotest.Pin{N: "GPIO3", Fn: string(gpio.IN)}},
	}
	b := newTestLinuxBridge(pins)
	bus, err := b.I2C("GPIO3", "GPIO2", 100000)
	if err != nil {
		t.Fatalf("I2C failed: %v", err)
	}
	if f := pins["GPIO3"].function(); f != i2c.SCL {
		t.Errorf("GPIO3 function = %s, want %s", f, i2c.SCL)
	}
	if f := pins["GPIO2"].function(); f != i2c.SDA {
		t.Errorf("GPIO2 function = %s, want %s", f, i2c.SDA)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestLinuxPeriphDigitalPin(t *testing.T) {
	led := &muxPin{Pin: gpiotest.Pin{N: "GPIO23"}}
	b := newTestLinuxBridge(map[string]*muxPin{"GPIO23": led})
	p, err := b.DigitalInOut("GPIO23")
	if err != nil {
		t.Fatalf("DigitalInOut failed: %v", err)
	}
	if err := p.Write(true); !IsInvalidDirection(err) {
		t.Errorf("expected InvalidDirectionError, got %v", err)
	}
	if err := p.SetDirection(Output); err != nil {
		t.Fatalf("SetDirection failed: %v", err)
	}
	if err := p.Write(true); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if v := led.Read(); v != gpio.High {
		t.Errorf("level = %s, want High", v)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.Write(false); !IsClosed(err) {
		t.Errorf("expected ClosedError, got %v", err)
	}
	if _, err := b.DigitalInOut("GPIO23"); err != nil {
		t.Errorf("pin not released: %v", err)
	}
}
