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
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/spi"

	"github.com/flatsat/BoardWorker/pkg/service/util"
)

// spiPortOpener opens an SPI port.
// A periph port can be connected only once, so every reconfiguration
// opens the port again.
type spiPortOpener func() (spi.PortCloser, error)

// periphSPIBus implements SPIBus on top of a periph.io SPI port.
type periphSPIBus struct {
	lock    util.SpinLock
	mutex   sync.Mutex
	name    string
	open    spiPortOpener
	release func()
	port    spi.PortCloser
	conn    spi.Conn
	config  SPIConfig
	closed  bool
}

func newPeriphSPIBus(name string, open spiPortOpener, release func()) *periphSPIBus {
	return &periphSPIBus{
		name:    name,
		open:    open,
		release: release,
	}
}

func (b *periphSPIBus) TryLock() bool { return b.lock.TryLock() }
func (b *periphSPIBus) Unlock()       { b.lock.Unlock() }

// Configure connects the port with the given settings.
// Configuring with the current settings is a no-op.
func (b *periphSPIBus) Configure(cfg SPIConfig) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return maskAny(ClosedError)
	}
	if b.conn != nil && b.config == cfg {
		return nil
	}
	if b.port != nil {
		port := b.port
		b.port, b.conn = nil, nil
		if err := port.Close(); err != nil {
			return errors.Wrapf(err, "Close[%s] failed", b.name)
		}
	}
	port, err := b.open()
	if err != nil {
		return errors.Wrapf(err, "Open[%s] failed", b.name)
	}
	conn, err := port.Connect(cfg.Frequency, cfg.Mode, cfg.Bits)
	if err != nil {
		port.Close()
		return errors.Wrapf(err, "Connect[%s] failed", b.name)
	}
	b.port, b.conn, b.config = port, conn, cfg
	return nil
}

// Tx writes w and reads r in a single transaction.
func (b *periphSPIBus) Tx(w, r []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return maskAny(ClosedError)
	}
	if b.conn == nil {
		return errors.Wrapf(NotConfiguredError, "spi bus %s", b.name)
	}
	spiTxCounters.WithLabelValues(b.name).Inc()
	if err := b.conn.Tx(w, r); err != nil {
		spiTxErrorCounters.WithLabelValues(b.name).Inc()
		return errors.Wrapf(err, "Tx[%s] failed", b.name)
	}
	return nil
}

// Close the port and release the pins.
func (b *periphSPIBus) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.release != nil {
		defer b.release()
	}
	if b.port != nil {
		port := b.port
		b.port, b.conn = nil, nil
		if err := port.Close(); err != nil {
			return errors.Wrapf(err, "Close[%s] failed", b.name)
		}
	}
	return nil
}

// periphI2CBus implements I2CBus on top of a periph.io I2C bus.
type periphI2CBus struct {
	mutex   sync.Mutex
	name    string
	bus     i2c.BusCloser
	release func()
	closed  bool
}

func newPeriphI2CBus(name string, bus i2c.BusCloser, release func()) *periphI2CBus {
	return &periphI2CBus{
		name:    name,
		bus:     bus,
		release: release,
	}
}

// Tx performs a write followed by a read on the device with given address.
func (b *periphI2CBus) Tx(addr uint16, w, r []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return maskAny(ClosedError)
	}
	address := fmt.Sprintf("0x%02x", addr)
	i2cTxCounters.WithLabelValues(address).Inc()
	if err := b.bus.Tx(addr, w, r); err != nil {
		i2cTxErrorCounters.WithLabelValues(address).Inc()
		return errors.Wrapf(err, "Tx[%s, %s] failed", b.name, address)
	}
	return nil
}

// Close the bus and release the pins.
func (b *periphI2CBus) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.release != nil {
		defer b.release()
	}
	if err := b.bus.Close(); err != nil {
		return errors.Wrapf(err, "Close[%s] failed", b.name)
	}
	return nil
}
