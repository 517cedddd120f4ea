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
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tarm/serial"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/bridge"
	"github.com/flatsat/BoardWorker/pkg/service/objects"
	"github.com/flatsat/BoardWorker/pkg/service/registry"
)

// RS485Sink sends readings as text frames over a half-duplex RS-485 link.
// The transceiver driver is enabled (TE high) only while a frame is written.
type RS485Sink struct {
	log    zerolog.Logger
	config model.RS485Config
	te     *registry.Device[bridge.DigitalPin]

	mutex sync.Mutex
	port  io.ReadWriteCloser

	openPort func(c *serial.Config) (io.ReadWriteCloser, error)
	sleep    func(d time.Duration)
}

const (
	// rs485BitsPerChar is the number of bits on the wire per byte (8N1).
	rs485BitsPerChar = 10
	// rs485TrailingChars is the number of character times TE is held
	// after the frame airtime.
	rs485TrailingChars = 2
)

// FrameAirtime returns the time it takes to transmit n bytes at the given baud rate.
func FrameAirtime(n, baud int) time.Duration {
	if baud <= 0 {
		return 0
	}
	return time.Duration(n*rs485BitsPerChar) * time.Second / time.Duration(baud)
}

// NewRS485Sink creates a sink for the given RS-485 configuration.
// The transmit enable pin, if any, is claimed through the given registry.
func NewRS485Sink(config model.RS485Config, reg *registry.Registry, log zerolog.Logger) *RS485Sink {
	s := &RS485Sink{
		log:    log.With().Str("port", config.Port).Logger(),
		config: config,
		openPort: func(c *serial.Config) (io.ReadWriteCloser, error) {
			p, err := serial.OpenPort(c)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		sleep: time.Sleep,
	}
	if config.TransmitEnable != "" {
		s.te = reg.DigitalInOut(bridge.PinID(config.TransmitEnable))
	}
	return s
}

// Name of the sink
func (s *RS485Sink) Name() string {
	return "rs485"
}

// Open the serial port.
func (s *RS485Sink) Open(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.port != nil {
		return nil
	}
	if err := s.transmitEnable(false); err != nil {
		return errors.Wrap(err, "failed to disable RS-485 driver")
	}
	port, err := s.openPort(&serial.Config{
		Name: s.config.Port,
		Baud: s.config.BaudOrDefault(),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to open serial port '%s'", s.config.Port)
	}
	s.port = port
	s.log.Info().Int("baud", s.config.BaudOrDefault()).Msg("opened RS-485 port")
	return nil
}

// Send a reading as a single frame.
func (s *RS485Sink) Send(ctx context.Context, r objects.Reading) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	port := s.port
	if port == nil {
		return maskAny(NotConnectedError)
	}
	frame := FormatFrame(r)
	baud := s.config.BaudOrDefault()
	write := func() error {
		if _, err := port.Write(frame); err != nil {
			// Force a reopen
			port.Close()
			s.port = nil
			return errors.Wrap(err, "write RS-485 frame")
		}
		return nil
	}
	if s.te == nil {
		return write()
	}
	return s.te.Use(func(pin bridge.DigitalPin) error {
		if err := pin.SetDirection(bridge.Output); err != nil {
			return err
		}
		if err := pin.Write(true); err != nil {
			return err
		}
		defer func() {
			if err := pin.Write(false); err != nil {
				s.log.Warn().Err(err).Msg("Failed to disable RS-485 driver")
			}
		}()
		// Write returns once the frame is queued in the tty;
		// keep the driver enabled until the last byte is on the wire.
		deadline := time.Now().Add(FrameAirtime(len(frame)+rs485TrailingChars, baud))
		if err := write(); err != nil {
			return err
		}
		if remaining := time.Until(deadline); remaining > 0 {
			s.sleep(remaining)
		}
		return nil
	})
}

// Close the serial port.
func (s *RS485Sink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// transmitEnable drives the TE pin, if any.
func (s *RS485Sink) transmitEnable(on bool) error {
	if s.te == nil {
		return nil
	}
	return s.te.Use(func(pin bridge.DigitalPin) error {
		if err := pin.SetDirection(bridge.Output); err != nil {
			return err
		}
		return pin.Write(on)
	})
}

// FormatFrame formats a reading as an RS-485 text frame:
// "$<object>,<channel>,<value>,<unit>,<unix-ms>*<xor checksum>\r\n".
// Failed readings carry "ERR" as value.
func FormatFrame(r objects.Reading) []byte {
	value := "ERR"
	if !r.Failed() {
		value = strconv.FormatFloat(r.Value, 'f', 6, 64)
	}
	body := fmt.Sprintf("%s,%s,%s,%s,%d", r.ObjectID, r.Channel, value, r.Unit, r.Timestamp.UnixMilli())
	var checksum byte
	for i := 0; i < len(body); i++ {
		checksum ^= body[i]
	}
	return []byte(fmt.Sprintf("$%s*%02X\r\n", body, checksum))
}
