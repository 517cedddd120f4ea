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

package objects

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/bridge"
	"github.com/flatsat/BoardWorker/pkg/service/devices"
	"github.com/flatsat/BoardWorker/pkg/service/registry"
)

func testDeviceConfigs() []model.HWDevice {
	return []model.HWDevice{
		{
			ID:   "adc0",
			Type: model.HWDeviceTypeADS1118,
			Pins: map[model.PinName]string{
				model.PinNameClock:      "GPIO11",
				model.PinNameMOSI:       "GPIO10",
				model.PinNameMISO:       "GPIO9",
				model.PinNameChipSelect: "GPIO8",
			},
		},
		{ID: "status-led", Type: model.HWDeviceTypeLED, Pins: map[model.PinName]string{model.PinNameOutput: "GPIO23"}},
		{ID: "activity-led", Type: model.HWDeviceTypeLED, Pins: map[model.PinName]string{model.PinNameOutput: "GPIO24"}},
	}
}

func testObjectConfigs() []model.Object {
	return []model.Object{
		{ID: "bus-voltage", Type: model.ObjectTypeAnalogSensor, Device: "adc0", Channel: "ch1", Rate: 860, Scale: 2, Offset: 0.5, Interval: 20 * time.Millisecond},
		{ID: "board-temp", Type: model.ObjectTypeTemperatureSensor, Device: "adc0", Interval: 20 * time.Millisecond},
		{ID: "status", Type: model.ObjectTypeStatusIndicator, Device: "status-led"},
		{ID: "activity", Type: model.ObjectTypeActivityIndicator, Device: "activity-led"},
	}
}

func newTestService(t *testing.T, objects []model.Object) (Service, *bridge.VirtualBridge) {
	t.Helper()
	b := bridge.NewVirtualBridge()
	reg := registry.New(b, zerolog.Nop())
	t.Cleanup(func() { reg.Close() })
	devService, err := devices.NewService(testDeviceConfigs(), reg, b, zerolog.Nop())
	if err != nil {
		t.Fatalf("devices.NewService failed: %v", err)
	}
	if err := devService.Configure(context.Background()); err != nil {
		t.Fatalf("devices Configure failed: %v", err)
	}
	s, err := NewService(objects, devService, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return s, b
}

func TestServiceSampleAll(t *testing.T) {
	s, _ := newTestService(t, testObjectConfigs())
	ctx := context.Background()
	if err := s.Configure(ctx); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if ids := s.GetConfiguredObjectIDs(); !reflect.DeepEqual(ids, []string{"activity", "board-temp", "bus-voltage", "status"}) {
		t.Errorf("configured = %v", ids)
	}

	readings := s.SampleAll(ctx)
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(readings))
	}
	temp, volts := readings[0], readings[1]
	if temp.ObjectID != "board-temp" || temp.Channel != "temperature" || temp.Unit != "C" {
		t.Errorf("unexpected temperature reading %+v", temp)
	}
	if temp.Failed() || temp.Value != 25 {
		t.Errorf("temperature = %v (%s), want 25", temp.Value, temp.Error)
	}
	if volts.ObjectID != "bus-voltage" || volts.Channel != "ch1" || volts.Unit != "V" || volts.Device != "adc0" {
		t.Errorf("unexpected voltage reading %+v", volts)
	}
	// Simulated CH1 is 2.0V, scaled by 2 with offset 0.5
	if volts.Failed() || math.Abs(volts.Value-4.5) > 0.001 {
		t.Errorf("voltage = %v (%s), want 4.5", volts.Value, volts.Error)
	}
	if volts.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}
	if latest := s.Readings(); !reflect.DeepEqual(latest, readings) {
		t.Errorf("Readings() = %v, want %v", latest, readings)
	}
}

func TestServiceRun(t *testing.T) {
	s, b := newTestService(t, testObjectConfigs())
	if err := s.Configure(context.Background()); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	received := make(chan Reading, 64)
	cancelReceiver := s.RegisterReadingReceiver(func(r Reading) {
		select {
		case received <- r:
		default:
		}
	})
	defer cancelReceiver()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	seen := make(map[string]int)
	deadline := time.After(5 * time.Second)
	for seen["bus-voltage"] < 2 || seen["board-temp"] < 2 {
		select {
		case r := <-received:
			if r.Failed() {
				t.Errorf("reading of %s failed: %s", r.ObjectID, r.Error)
			}
			seen[r.ObjectID]++
		case <-deadline:
			t.Fatalf("timeout waiting for readings, got %v", seen)
		}
	}
	// Status indicator is on while all sensors are fine
	waitForLevel(t, b, "GPIO23", true)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	if b.Level("GPIO23") || b.Level("GPIO24") {
		t.Error("indicators must be off after Run")
	}
}

func TestServiceInvalidObjects(t *testing.T) {
	b := bridge.NewVirtualBridge()
	reg := registry.New(b, zerolog.Nop())
	defer reg.Close()
	devService, err := devices.NewService(testDeviceConfigs(), reg, b, zerolog.Nop())
	if err != nil {
		t.Fatalf("devices.NewService failed: %v", err)
	}
	tests := []model.Object{
		{ID: "x", Type: "relay-switch", Device: "adc0"},
		{ID: "x", Type: model.ObjectTypeAnalogSensor, Device: "adc0", Channel: "ch5"},
		{ID: "x", Type: model.ObjectTypeAnalogSensor, Device: "adc0", Channel: "ch0", Range: "5V"},
		{ID: "x", Type: model.ObjectTypeAnalogSensor, Device: "adc0", Channel: "ch0", Rate: 100},
	}
	for _, c := range tests {
		if _, err := NewService([]model.Object{c}, devService, zerolog.Nop()); !model.IsValidation(err) && !devices.IsValidation(err) {
			t.Errorf("%+v: expected validation error, got %v", c, err)
		}
	}
}

func TestServiceConfigureMissingDevice(t *testing.T) {
	objects := append(testObjectConfigs(), model.Object{ID: "lost", Type: model.ObjectTypeAnalogSensor, Device: "adc9", Channel: "ch0"})
	s, _ := newTestService(t, objects)
	if err := s.Configure(context.Background()); err == nil {
		t.Error("expected Configure to fail")
	}
	if ids := s.GetUnconfiguredObjectIDs(); !reflect.DeepEqual(ids, []string{"lost"}) {
		t.Errorf("unconfigured = %v", ids)
	}
	if _, found := s.ObjectByID("lost"); found {
		t.Error("lost must not be configured")
	}
	if obj, found := s.ObjectByID("bus-voltage"); !found || obj.Type() != model.ObjectTypeAnalogSensor {
		t.Errorf("bus-voltage = %v, %v", obj, found)
	}
	// Only configured sensors are sampled
	if readings := s.SampleAll(context.Background()); len(readings) != 2 {
		t.Errorf("expected 2 readings, got %d", len(readings))
	}
}

func waitForLevel(t *testing.T, b *bridge.VirtualBridge, pin bridge.PinID, level bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.Level(pin) != level {
		if time.Now().After(deadline) {
			t.Fatalf("pin %s did not become %v", pin, level)
		}
		time.Sleep(time.Millisecond)
	}
}
