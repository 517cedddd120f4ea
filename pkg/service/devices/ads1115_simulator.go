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
	"math"
	"sync"

	"github.com/pkg/errors"
)

// ADS1115Simulator simulates an ADS1115 on the virtual bridge.
// It implements bridge.I2CPeripheral.
type ADS1115Simulator struct {
	mutex       sync.Mutex
	inputs      map[MuxSelection]float64
	pointer     byte
	config      [2]byte
	conversion  [2]byte
	busy        bool
	stalls      int
	conversions int
}

// NewADS1115Simulator creates a simulator with all inputs at 0V.
func NewADS1115Simulator() *ADS1115Simulator {
	return &ADS1115Simulator{
		inputs: make(map[MuxSelection]float64),
		config: [2]byte{0x05, 0x83},
	}
}

// SetInput sets the voltage seen on the given (single-ended or differential) input.
func (s *ADS1115Simulator) SetInput(ch MuxSelection, volts float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.inputs[ch] = volts
}

// Stall makes the next n conversions never complete.
func (s *ADS1115Simulator) Stall(n int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stalls = n
}

// Conversions returns the number of conversions started.
func (s *ADS1115Simulator) Conversions() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.conversions
}

// Config returns the last written config register.
func (s *ADS1115Simulator) Config() [2]byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.config
}

// Tx handles a register pointer write, optionally followed by a register
// write (3 bytes) or a register read.
func (s *ADS1115Simulator) Tx(w, r []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(w) > 0 {
		s.pointer = w[0]
	}
	if len(w) == 3 {
		if s.pointer != ads1115RegConfig {
			return errors.Errorf("register %d is read-only", s.pointer)
		}
		s.config = [2]byte{w[1] &^ ads1115ConfigOS, w[2]}
		if w[1]&ads1115ConfigOS != 0 {
			s.conversions++
			if s.stalls > 0 {
				s.stalls--
				s.busy = true
			} else {
				s.conversion = s.convert(w[1])
				s.busy = false
			}
		}
	} else if len(w) > 3 {
		return errors.Errorf("unexpected write of %d bytes", len(w))
	}
	if len(r) >= 2 {
		switch s.pointer {
		case ads1115RegConversion:
			copy(r, s.conversion[:])
		case ads1115RegConfig:
			r[0], r[1] = s.config[0], s.config[1]
			if !s.busy {
				r[0] |= ads1115ConfigOS
			}
		default:
			return errors.Errorf("unknown register %d", s.pointer)
		}
	}
	return nil
}

func (s *ADS1115Simulator) convert(b0 byte) [2]byte {
	ch := MuxSelection((b0 >> 4) & 0x07)
	rng := InputRange((b0 >> 1) & 0x07)
	raw := clampInt16(math.Round(s.inputs[ch] / rng.LSB()))
	return [2]byte{byte(uint16(raw) >> 8), byte(uint16(raw))}
}
