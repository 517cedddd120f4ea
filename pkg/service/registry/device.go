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
	"github.com/pkg/errors"

	"github.com/flatsat/BoardWorker/pkg/service/bridge"
)

// deviceState is the lifecycle state of a managed device.
type deviceState int

const (
	// stateIdle: no hardware instance, no leases.
	stateIdle deviceState = iota
	// stateBound: hardware instance exists, zero or more leases.
	stateBound
)

func (s deviceState) String() string {
	if s == stateBound {
		return "bound"
	}
	return "idle"
}

// Device is a cached, lazily constructed hardware binding over a fixed set of pins.
// All state is guarded by the mutex of its registry.
type Device[T bridge.Handle] struct {
	registry *Registry
	key      string
	kind     string
	pins     []bridge.PinID
	producer func() (T, error)

	state        deviceState
	instance     T
	refs         int
	acquisitions int
	reclaims     int
}

// Key returns the cache key of the device.
func (d *Device[T]) Key() string { return d.key }

// Name returns the name of the device (its key).
func (d *Device[T]) Name() string { return d.key }

// Kind returns the kind of the device.
func (d *Device[T]) Kind() string { return d.kind }

// Pins returns the pins used by the device.
func (d *Device[T]) Pins() []bridge.PinID {
	return append([]bridge.PinID(nil), d.pins...)
}

// IsRunning returns true if acquiring the device would not touch the hardware.
func (d *Device[T]) IsRunning() bool {
	d.registry.mutex.Lock()
	defer d.registry.mutex.Unlock()
	return d.running()
}

// IsBusy returns true if the device has active leases.
// A busy device is always running.
func (d *Device[T]) IsBusy() bool {
	d.registry.mutex.Lock()
	defer d.registry.mutex.Unlock()
	return d.busy()
}

// ActiveLeases returns the number of leases that are not yet released.
func (d *Device[T]) ActiveLeases() int {
	d.registry.mutex.Lock()
	defer d.registry.mutex.Unlock()
	return d.refs
}

// Acquire the device.
// If the device is bound, the lease count is incremented.
// Otherwise every pin is checked first: if any pin is held by another
// device with active leases, ResourceBusyError is returned and nothing changes.
// Then the current claimants of the pins are reclaimed, the hardware instance
// is produced and all pins are assigned to this device.
// If the producer fails, the device stays idle and the error is returned as is.
func (d *Device[T]) Acquire() (*Lease[T], error) {
	r := d.registry
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if d.state == stateBound {
		d.refs++
		d.acquisitions++
		acquireCounters.WithLabelValues(d.kind).Inc()
		return &Lease[T]{device: d, instance: d.instance}, nil
	}

	records := make([]*PinRecord, 0, len(d.pins))
	var conflicts []Claimant
	seen := make(map[Claimant]struct{})
	for _, pin := range d.pins {
		rec := r.pinRecordLocked(pin)
		records = append(records, rec)
		c := rec.claimant
		if c.busy() {
			busyCounters.WithLabelValues(d.kind).Inc()
			r.log.Debug().
				Str("device", d.key).
				Str("pin", string(pin)).
				Str("holder", c.Name()).
				Msg("Pin contention")
			return nil, errors.Wrapf(ResourceBusyError, "device '%s' needs pin '%s' held by '%s'", d.key, pin, c.Name())
		}
		if _, found := seen[c]; !found {
			seen[c] = struct{}{}
			conflicts = append(conflicts, c)
		}
	}
	for _, c := range conflicts {
		if c.running() {
			r.log.Debug().Str("device", d.key).Str("claimant", c.Name()).Msg("Reclaiming claimant")
			if err := c.reclaim(); err != nil {
				return nil, err
			}
		}
	}
	// Reclaimed devices park their pins, so release those bindings as well.
	for _, rec := range records {
		if err := rec.claimant.reclaim(); err != nil {
			return nil, err
		}
	}

	instance, err := d.producer()
	if err != nil {
		r.log.Debug().Err(err).Str("device", d.key).Msg("Device producer failed")
		return nil, err
	}
	d.instance = instance
	d.state = stateBound
	d.refs = 1
	d.acquisitions++
	for _, rec := range records {
		rec.claimant = d
	}
	acquireCounters.WithLabelValues(d.kind).Inc()
	bindCounters.WithLabelValues(d.kind).Inc()
	r.log.Debug().Str("device", d.key).Msg("Bound device")
	return &Lease[T]{device: d, instance: instance}, nil
}

// Use acquires the device, calls fn with its instance and releases the
// device on every exit path of fn.
func (d *Device[T]) Use(fn func(T) error) error {
	lease, err := d.Acquire()
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease.Instance())
}

// Reclaim tears down the hardware instance of the device.
// It fails with ResourceBusyError while the device has active leases.
// Reclaiming an idle device does nothing.
func (d *Device[T]) Reclaim() error {
	d.registry.mutex.Lock()
	defer d.registry.mutex.Unlock()
	return d.reclaim()
}

// release ends the given lease. Teardown is left to the next contender.
func (d *Device[T]) release(l *Lease[T]) {
	d.registry.mutex.Lock()
	defer d.registry.mutex.Unlock()
	if l.released {
		return
	}
	l.released = true
	if d.refs > 0 {
		d.refs--
	}
}

func (d *Device[T]) running() bool { return d.state == stateBound }
func (d *Device[T]) busy() bool    { return d.refs != 0 }

func (d *Device[T]) reclaim() error {
	if d.refs != 0 {
		return errors.Wrapf(ResourceBusyError, "device '%s' has %d active leases", d.key, d.refs)
	}
	if d.state == stateIdle {
		return nil
	}
	r := d.registry
	instance := d.instance
	var zero T
	d.instance = zero
	d.state = stateIdle
	d.reclaims++
	reclaimCounters.WithLabelValues(d.kind).Inc()

	closeErr := instance.Close()
	if closeErr != nil {
		r.log.Warn().Err(closeErr).Str("device", d.key).Msg("Failed to close device")
	}
	for _, pin := range d.pins {
		rec := r.pinRecordLocked(pin)
		c, err := parkedDefaultClaimant(r.api, pin)
		if err != nil {
			r.log.Warn().Err(err).Str("pin", string(pin)).Msg("Failed to park pin")
		}
		rec.claimant = c
	}
	r.log.Debug().Str("device", d.key).Msg("Reclaimed device")
	if closeErr != nil {
		return errors.Wrapf(closeErr, "close device '%s'", d.key)
	}
	return nil
}

func (d *Device[T]) status() DeviceStatus {
	return DeviceStatus{
		Key:          d.key,
		Kind:         d.Kind(),
		Pins:         d.Pins(),
		State:        d.state.String(),
		Running:      d.running(),
		Busy:         d.busy(),
		ActiveLeases: d.refs,
		Acquisitions: d.acquisitions,
		Reclaims:     d.reclaims,
	}
}

// Lease is a scoped acquisition of a device.
type Lease[T bridge.Handle] struct {
	device   *Device[T]
	instance T
	released bool
}

// Instance returns the hardware instance of the device.
func (l *Lease[T]) Instance() T { return l.instance }

// Release ends the lease. Calling Release more than once has no effect.
func (l *Lease[T]) Release() {
	l.device.release(l)
}
