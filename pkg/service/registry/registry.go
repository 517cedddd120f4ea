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

package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/flatsat/BoardWorker/pkg/service/bridge"
)

const (
	// Device kinds
	KindDigitalInOut = "digital"
	KindSPI          = "spi"
	KindI2C          = "i2c"
	KindAnalogIn     = "analog"

	// DefaultI2CFrequency is the I2C clock used when none is configured.
	DefaultI2CFrequency = 100000
)

// managed is implemented by all *Device[T].
type managed interface {
	Claimant
	status() DeviceStatus
}

// Registry arbitrates the pins of a board between devices.
// Devices are cached: asking twice for the same kind on the same pins
// yields the same device.
type Registry struct {
	mutex   sync.Mutex
	api     bridge.API
	log     zerolog.Logger
	pins    map[bridge.PinID]*PinRecord
	devices map[string]managed
}

// New creates an empty registry on top of the given bridge.
func New(api bridge.API, log zerolog.Logger) *Registry {
	return &Registry{
		api:     api,
		log:     log.With().Str("component", "registry").Logger(),
		pins:    make(map[bridge.PinID]*PinRecord),
		devices: make(map[string]managed),
	}
}

// DigitalInOut returns the device that binds the given pin as digital input/output.
func (r *Registry) DigitalInOut(pin bridge.PinID) *Device[bridge.DigitalPin] {
	return getOrCreate(r, KindDigitalInOut, "", []bridge.PinID{pin}, func() (bridge.DigitalPin, error) {
		return r.api.DigitalInOut(pin)
	})
}

// SPI returns the device that binds the given pins as SPI bus.
func (r *Registry) SPI(clock, mosi, miso bridge.PinID) *Device[bridge.SPIBus] {
	return getOrCreate(r, KindSPI, "", []bridge.PinID{clock, mosi, miso}, func() (bridge.SPIBus, error) {
		return r.api.SPI(clock, mosi, miso)
	})
}

// I2C returns the device that binds the given pins as I2C bus with given frequency (Hz).
// A frequency of 0 selects DefaultI2CFrequency.
// Different frequencies on the same pins are different devices.
func (r *Registry) I2C(scl, sda bridge.PinID, frequency int) *Device[bridge.I2CBus] {
	if frequency == 0 {
		frequency = DefaultI2CFrequency
	}
	return getOrCreate(r, KindI2C, fmt.Sprintf("%d", frequency), []bridge.PinID{scl, sda}, func() (bridge.I2CBus, error) {
		return r.api.I2C(scl, sda, frequency)
	})
}

// AnalogIn returns the device that binds the given pin as analog input.
func (r *Registry) AnalogIn(pin bridge.PinID) *Device[bridge.AnalogInput] {
	return getOrCreate(r, KindAnalogIn, "", []bridge.PinID{pin}, func() (bridge.AnalogInput, error) {
		return r.api.AnalogIn(pin)
	})
}

// getOrCreate returns the cached device for the given kind, parameters and pins,
// creating it when needed. It does not touch the hardware.
func getOrCreate[T bridge.Handle](r *Registry, kind, params string, pins []bridge.PinID, producer func() (T, error)) *Device[T] {
	key := deviceKey(kind, params, pins)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if existing, found := r.devices[key]; found {
		return existing.(*Device[T])
	}
	for _, pin := range pins {
		r.pinRecordLocked(pin)
	}
	d := &Device[T]{
		registry: r,
		key:      key,
		kind:     kind,
		pins:     append([]bridge.PinID(nil), pins...),
		producer: producer,
	}
	r.devices[key] = d
	devicesGauge.Set(float64(len(r.devices)))
	r.log.Debug().Str("device", key).Msg("Created device")
	return d
}

// deviceKey builds the cache key "kind(params)@pin,pin,...".
func deviceKey(kind, params string, pins []bridge.PinID) string {
	var sb strings.Builder
	sb.WriteString(kind)
	if params != "" {
		sb.WriteString("(")
		sb.WriteString(params)
		sb.WriteString(")")
	}
	sb.WriteString("@")
	sb.WriteString(strings.Join(lo.Map(pins, func(p bridge.PinID, _ int) string { return string(p) }), ","))
	return sb.String()
}

// pinRecordLocked returns the record of the given pin, creating one owned
// by an unbound default claimant on first reference.
func (r *Registry) pinRecordLocked(pin bridge.PinID) *PinRecord {
	rec, found := r.pins[pin]
	if !found {
		rec = &PinRecord{pin: pin, claimant: newDefaultClaimant(pin)}
		r.pins[pin] = rec
	}
	return rec
}

// Claimant returns the current claimant of the given pin.
func (r *Registry) Claimant(pin bridge.PinID) Claimant {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.pinRecordLocked(pin).claimant
}

// Close tears down all hardware bindings.
// Devices with active leases are left alone and reported as ResourceBusyError.
func (r *Registry) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var ae aerr.AggregateError
	for _, d := range r.devices {
		if !d.running() && !d.busy() {
			continue
		}
		if err := d.reclaim(); err != nil {
			ae.Add(err)
		}
	}
	for _, rec := range r.pins {
		if _, ok := rec.claimant.(*DefaultClaimant); ok {
			if err := rec.claimant.reclaim(); err != nil {
				ae.Add(err)
			}
		}
	}
	return ae.AsError()
}

// DeviceStatus is a point in time view of a device.
type DeviceStatus struct {
	Key          string         `json:"key"`
	Kind         string         `json:"kind"`
	Pins         []bridge.PinID `json:"pins"`
	State        string         `json:"state"`
	Running      bool           `json:"running"`
	Busy         bool           `json:"busy"`
	ActiveLeases int            `json:"active_leases"`
	Acquisitions int            `json:"acquisitions"`
	Reclaims     int            `json:"reclaims"`
}

// PinStatus is a point in time view of a pin.
type PinStatus struct {
	Pin      bridge.PinID `json:"pin"`
	Claimant string       `json:"claimant"`
	Running  bool         `json:"running"`
}

// Snapshot of the registry.
type Snapshot struct {
	Devices []DeviceStatus `json:"devices"`
	Pins    []PinStatus    `json:"pins"`
}

// Snapshot returns the status of all devices and pins, sorted by key and pin.
func (r *Registry) Snapshot() Snapshot {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	devices := lo.Map(lo.Values(r.devices), func(d managed, _ int) DeviceStatus { return d.status() })
	sort.Slice(devices, func(i, j int) bool { return devices[i].Key < devices[j].Key })
	pins := lo.Map(lo.Values(r.pins), func(rec *PinRecord, _ int) PinStatus {
		return PinStatus{
			Pin:      rec.Pin(),
			Claimant: rec.claimant.Name(),
			Running:  rec.claimant.running(),
		}
	})
	sort.Slice(pins, func(i, j int) bool { return pins[i].Pin < pins[j].Pin })
	return Snapshot{Devices: devices, Pins: pins}
}
