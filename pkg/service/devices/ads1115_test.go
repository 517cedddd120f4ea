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

package devices

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/pkg/service/bridge"
	"github.com/flatsat/BoardWorker/pkg/service/registry"
)

func newADS1115Fixture(maxAttempts int) (*bridge.VirtualBridge, *ADS1115Simulator, *ADS1115, *[]time.Duration) {
	b := bridge.NewVirtualBridge()
	sim := NewADS1115Simulator()
	b.AttachI2CPeripheral("SCL", 0x49, sim)
	reg := registry.New(b, zerolog.Nop())
	adc := NewADS1115(reg, ADS1115Config{
		Name:        "adc1",
		SCL:         "SCL",
		SDA:         "SDA",
		Address:     0x49,
		MaxAttempts: maxAttempts,
	}, zerolog.Nop())
	var waits []time.Duration
	adc.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return b, sim, adc, &waits
}

func TestEncodeADS1115Config(t *testing.T) {
	tests := []struct {
		ch   MuxSelection
		rng  InputRange
		rate SamplingRate
		want [2]byte
	}{
		{CH0, FSR4096mV, SPS128, [2]byte{0xC3, 0x83}},
		{CH2CH3Diff, FSR2048mV, SPS860, [2]byte{0xB5, 0xE3}},
		{CH0CH1Diff, FSR6144mV, SPS8, [2]byte{0x81, 0x03}},
	}
	for _, tc := range tests {
		if got := EncodeADS1115Config(tc.ch, tc.rng, tc.rate); got != tc.want {
			t.Errorf("EncodeADS1115Config(%s, %s, %s) = %X, want %X", tc.ch, tc.rng, tc.rate, got, tc.want)
		}
	}
}

func TestADS1115SampleVoltage(t *testing.T) {
	b, sim, adc, waits := newADS1115Fixture(0)
	sim.SetInput(CH2, 1.25)
	v, err := adc.Sample(context.Background(), CH2, WithRange(FSR2048mV), WithRate(SPS250))
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if math.Abs(v-1.25) > FSR2048mV.LSB() {
		t.Errorf("Sample = %v, want 1.25", v)
	}
	if got := sim.Config(); got != [2]byte{0x65, 0xA3} {
		t.Errorf("config = %X", got)
	}
	if len(*waits) != 1 || (*waits)[0] != SPS250.ConversionDelay() {
		t.Errorf("unexpected waits %v", *waits)
	}
	if !b.Bound("SCL") || !b.Bound("SDA") {
		t.Error("I2C pins must be bound")
	}
}

func TestADS1115NoTemperature(t *testing.T) {
	b, sim, adc, _ := newADS1115Fixture(0)
	if _, err := adc.Sample(context.Background(), Temperature); !IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if sim.Conversions() != 0 || b.Bound("SCL") {
		t.Error("hardware must not be touched")
	}
}

func TestADS1115NotReady(t *testing.T) {
	_, sim, adc, waits := newADS1115Fixture(3)
	sim.Stall(1)
	if _, err := adc.Sample(context.Background(), CH0); !IsNotReady(err) {
		t.Errorf("expected NotReadyError, got %v", err)
	}
	if len(*waits) != 3 {
		t.Errorf("expected 3 polls, got %d", len(*waits))
	}
	// The next conversion completes
	sim.SetInput(CH0, 2)
	if v, err := adc.Sample(context.Background(), CH0); err != nil || math.Abs(v-2) > FSR4096mV.LSB() {
		t.Errorf("Sample = %v, %v", v, err)
	}
}

func TestADS1115Canceled(t *testing.T) {
	_, _, adc, _ := newADS1115Fixture(-1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := adc.Sample(ctx, CH0); err == nil {
		t.Error("expected error")
	}
}
