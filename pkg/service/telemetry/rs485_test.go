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

package telemetry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarm/serial"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/bridge"
	"github.com/flatsat/BoardWorker/pkg/service/objects"
	"github.com/flatsat/BoardWorker/pkg/service/registry"
)

type fakePort struct {
	bridge   *bridge.VirtualBridge
	te       bridge.PinID
	frames   []string
	teLevels []bool
	writeAt  time.Time
	err      error
	closed   bool
}

func (p *fakePort) Read(b []byte) (int, error) { return 0, io.EOF }
func (p *fakePort) Close() error              { p.closed = true; return nil }

func (p *fakePort) Write(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	p.writeAt = time.Now()
	p.frames = append(p.frames, string(b))
	p.teLevels = append(p.teLevels, p.bridge.Level(p.te))
	return len(b), nil
}

func TestFormatFrame(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	r := objects.Reading{ObjectID: "bus", Device: "adc0", Channel: "ch1", Value: 4.5, Unit: "V", Timestamp: ts}
	if f := string(FormatFrame(r)); f != "$bus,ch1,4.500000,V,1700000000000*21\r\n" {
		t.Errorf("FormatFrame = %q", f)
	}
	r = objects.Reading{ObjectID: "temp", Channel: "temperature", Unit: "C", Timestamp: ts, Error: "not ready"}
	if f := string(FormatFrame(r)); f != "$temp,temperature,ERR,C,1700000000000*50\r\n" {
		t.Errorf("FormatFrame = %q", f)
	}
}

func TestRS485Sink(t *testing.T) {
	b := bridge.NewVirtualBridge()
	reg := registry.New(b, zerolog.Nop())
	defer reg.Close()

	config := model.RS485Config{Port: "/dev/ttyAMA1", TransmitEnable: "GPIO18"}
	sink := NewRS485Sink(config, reg, zerolog.Nop())
	port := &fakePort{bridge: b, te: "GPIO18"}
	var opened []serial.Config
	sink.openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
		opened = append(opened, *c)
		return port, nil
	}
	ctx := context.Background()
	r := objects.Reading{ObjectID: "bus", Channel: "ch1", Value: 4.5, Unit: "V", Timestamp: time.UnixMilli(1700000000000)}

	if err := sink.Send(ctx, r); !IsNotConnected(err) {
		t.Errorf("expected NotConnectedError, got %v", err)
	}
	if err := sink.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(opened) != 1 || opened[0].Name != "/dev/ttyAMA1" || opened[0].Baud != model.DefaultRS485Baud {
		t.Errorf("unexpected port config %+v", opened)
	}
	if b.Level("GPIO18") {
		t.Error("driver must be disabled after Open")
	}
	// Open is a no-op while open
	if err := sink.Open(ctx); err != nil || len(opened) != 1 {
		t.Errorf("second Open: %v, opened %d", err, len(opened))
	}

	if err := sink.Send(ctx, r); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(port.frames) != 1 || port.frames[0] != "$bus,ch1,4.500000,V,1700000000000*21\r\n" {
		t.Errorf("unexpected frames %q", port.frames)
	}
	if !port.teLevels[0] {
		t.Error("driver must be enabled while writing")
	}
	if b.Level("GPIO18") {
		t.Error("driver must be disabled after writing")
	}

	// A write error closes the port
	port.err = errors.New("broken")
	if err := sink.Send(ctx, r); err == nil {
		t.Error("expected write error")
	}
	if !port.closed {
		t.Error("port must be closed after write error")
	}
	if err := sink.Send(ctx, r); !IsNotConnected(err) {
		t.Errorf("expected NotConnectedError, got %v", err)
	}
	port.err = nil
	if err := sink.Open(ctx); err != nil || len(opened) != 2 {
		t.Errorf("reopen: %v, opened %d", err, len(opened))
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestRS485SinkPinBusy(t *testing.T) {
	b := bridge.NewVirtualBridge()
	reg := registry.New(b, zerolog.Nop())
	defer reg.Close()

	// Another device holds the transmit enable pin
	lease, err := reg.SPI("GPIO18", "GPIO19", "GPIO20").Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lease.Release()

	sink := NewRS485Sink(model.RS485Config{Port: "/dev/ttyAMA1", TransmitEnable: "GPIO18"}, reg, zerolog.Nop())
	sink.openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
		t.Error("port must not be opened")
		return nil, errors.New("unexpected")
	}
	if err := sink.Open(context.Background()); !registry.IsResourceBusy(err) {
		t.Errorf("expected ResourceBusyError, got %v", err)
	}
}

func TestFrameAirtime(t *testing.T) {
	if d := FrameAirtime(38, 50000); d != 7600*time.Microsecond {
		t.Errorf("FrameAirtime(38, 50000) = %s, want 7.6ms", d)
	}
	if d := FrameAirtime(10, 0); d != 0 {
		t.Errorf("FrameAirtime(10, 0) = %s, want 0", d)
	}
}

func TestRS485SinkHoldsTransmitEnable(t *testing.T) {
	b := bridge.NewVirtualBridge()
	reg := registry.New(b, zerolog.Nop())
	defer reg.Close()

	config := model.RS485Config{Port: "/dev/ttyAMA1", Baud: 9600, TransmitEnable: "GPIO18"}
	sink := NewRS485Sink(config, reg, zerolog.Nop())
	port := &fakePort{bridge: b, te: "GPIO18"}
	sink.openPort = func(c *serial.Config) (io.ReadWriteCloser, error) { return port, nil }
	var waited []time.Duration
	var teWhileWaiting []bool
	sink.sleep = func(d time.Duration) {
		waited = append(waited, d)
		teWhileWaiting = append(teWhileWaiting, b.Level("GPIO18"))
	}
	ctx := context.Background()
	if err := sink.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	r := objects.Reading{ObjectID: "solar-voltage", Channel: "ch3", Value: 3.3, Unit: "V", Timestamp: time.UnixMilli(1700000000000)}
	frame := FormatFrame(r)
	if err := sink.Send(ctx, r); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	airtime := FrameAirtime(len(frame), config.Baud)
	if len(waited) != 1 || waited[0] < airtime {
		t.Fatalf("driver held for %v after write, want at least %s", waited, airtime)
	}
	if !teWhileWaiting[0] {
		t.Error("driver must stay enabled until the frame is transmitted")
	}
	if b.Level("GPIO18") {
		t.Error("driver must be disabled after the frame")
	}

	// Real clock
	sink.sleep = time.Sleep
	if err := sink.Send(ctx, r); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if held := time.Since(port.writeAt); held < airtime {
		t.Errorf("Send returned %s after write, want at least %s", held, airtime)
	}
	if b.Level("GPIO18") {
		t.Error("driver must be disabled after the frame")
	}
}
