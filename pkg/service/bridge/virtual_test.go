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
	"bytes"
	"testing"
)

type echoPeripheral struct {
	ready     bool
	transfers int
}

func (p *echoPeripheral) Transfer(w, r []byte) {
	p.transfers++
	for i := range w {
		r[i] = ^w[i]
	}
}

func (p *echoPeripheral) DataReady() bool { return p.ready }

func TestVirtualPinExclusive(t *testing.T) {
	b := NewVirtualBridge()
	p, err := b.DigitalInOut("GPIO5")
	if err != nil {
		t.Fatalf("DigitalInOut failed: %v", err)
	}
	if _, err := b.DigitalInOut("GPIO5"); !IsPinInUse(err) {
		t.Errorf("expected PinInUseError, got %v", err)
	}
	if _, err := b.SPI("GPIO11", "GPIO10", "GPIO5"); !IsPinInUse(err) {
		t.Errorf("expected PinInUseError for SPI, got %v", err)
	}
	// Failed SPI bind must not leave its other pins bound
	if b.Bound("GPIO11") || b.Bound("GPIO10") {
		t.Error("failed bind left pins bound")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if b.Bound("GPIO5") {
		t.Error("pin still bound after Close")
	}
	if _, err := b.DigitalInOut("GPIO5"); err != nil {
		t.Errorf("rebind failed: %v", err)
	}
	if got := b.BindCount("GPIO5"); got != 2 {
		t.Errorf("BindCount = %d, want 2", got)
	}
}

func TestVirtualKnownPins(t *testing.T) {
	b := NewVirtualBridge("A", "B")
	if _, err := b.DigitalInOut("C"); !IsInvalidPin(err) {
		t.Errorf("expected InvalidPinError, got %v", err)
	}
	if _, err := b.I2C("A", "A", 100000); !IsPinInUse(err) {
		t.Errorf("expected PinInUseError for duplicate pins, got %v", err)
	}
	if _, err := b.I2C("A", "B", 100000); err != nil {
		t.Errorf("I2C failed: %v", err)
	}
}

func TestVirtualDigitalDirection(t *testing.T) {
	b := NewVirtualBridge()
	p, err := b.DigitalInOut("CS")
	if err != nil {
		t.Fatalf("DigitalInOut failed: %v", err)
	}
	if err := p.Write(false); err == nil {
		t.Error("expected error writing an input")
	}
	if err := p.SetDirection(Output); err != nil {
		t.Fatalf("SetDirection failed: %v", err)
	}
	if err := p.Write(false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if b.Level("CS") {
		t.Error("expected level low")
	}
	if v, _ := p.Read(); v {
		t.Error("expected Read to return low")
	}
	p.Close()
	if _, err := p.Read(); !IsClosed(err) {
		t.Errorf("expected ClosedError, got %v", err)
	}
}

func TestVirtualSPIRouting(t *testing.T) {
	b := NewVirtualBridge()
	periph := &echoPeripheral{}
	b.AttachSPIPeripheral("CS", "MISO", periph)

	bus, err := b.SPI("SCK", "MOSI", "MISO")
	if err != nil {
		t.Fatalf("SPI failed: %v", err)
	}
	r := make([]byte, 2)
	if err := bus.Tx([]byte{1, 2}, r); err == nil {
		t.Error("expected error on unconfigured bus")
	}
	if err := bus.Configure(SPIConfig{Bits: 8}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	// CS idles high: nothing selected
	if err := bus.Tx([]byte{1, 2}, r); err != nil {
		t.Fatalf("Tx failed: %v", err)
	}
	if !bytes.Equal(r, []byte{0xFF, 0xFF}) || periph.transfers != 0 {
		t.Errorf("unexpected transfer to deselected peripheral: %x", r)
	}
	b.SetLevel("CS", false)
	if err := bus.Tx([]byte{1, 2}, r); err != nil {
		t.Fatalf("Tx failed: %v", err)
	}
	if !bytes.Equal(r, []byte{0xFE, 0xFD}) {
		t.Errorf("got %x, want fefd", r)
	}
	if !bus.TryLock() {
		t.Fatal("TryLock failed")
	}
	if bus.TryLock() {
		t.Error("second TryLock succeeded")
	}
	bus.Unlock()
}

func TestVirtualDataReadyOnMISO(t *testing.T) {
	b := NewVirtualBridge()
	periph := &echoPeripheral{}
	b.AttachSPIPeripheral("CS", "MISO", periph)
	drdy, err := b.DigitalInOut("MISO")
	if err != nil {
		t.Fatalf("DigitalInOut failed: %v", err)
	}
	b.SetLevel("CS", false)
	if v, _ := drdy.Read(); !v {
		t.Error("expected MISO high while not ready")
	}
	periph.ready = true
	if v, _ := drdy.Read(); v {
		t.Error("expected MISO low when ready")
	}
	b.SetLevel("CS", true)
	b.SetLevel("MISO", true)
	if v, _ := drdy.Read(); !v {
		t.Error("deselected MISO should follow its own level")
	}
}

func TestVirtualAnalogIn(t *testing.T) {
	b := NewVirtualBridge()
	a, err := b.AnalogIn("A0")
	if err != nil {
		t.Fatalf("AnalogIn failed: %v", err)
	}
	b.SetAnalog("A0", 1234)
	if v, err := a.Read(); err != nil || v != 1234 {
		t.Errorf("Read = %d, %v; want 1234", v, err)
	}
	if a.ReferenceVoltage() != virtualAnalogReference {
		t.Errorf("unexpected reference %f", a.ReferenceVoltage())
	}
}
