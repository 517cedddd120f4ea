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
)

// ADS1118Simulator simulates an ADS1118 on the virtual bridge.
// It implements bridge.SPIPeripheral.
type ADS1118Simulator struct {
	mutex       sync.Mutex
	inputs      map[MuxSelection]float64
	temperature float64
	result      [2]byte
	ready       bool
	stalls      int
	transfers   int
	conversions int
	lastConfig  [2]byte
}

// NewADS1118Simulator creates a simulator with all inputs at 0V and a
// die temperature of 25C.
func NewADS1118Simulator() *ADS1118Simulator {
	return &ADS1118Simulator{
		inputs:      make(map[MuxSelection]float64),
		temperature: 25,
	}
}

// SetInput sets the voltage seen on the given (single-ended or differential) input.
func (s *ADS1118Simulator) SetInput(ch MuxSelection, volts float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.inputs[ch] = volts
}

// SetTemperature sets the die temperature in degrees Celsius.
func (s *ADS1118Simulator) SetTemperature(celsius float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.temperature = celsius
}

// Stall makes the next n conversions never signal data ready.
func (s *ADS1118Simulator) Stall(n int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stalls = n
}

// Transfers returns the number of SPI transactions seen.
func (s *ADS1118Simulator) Transfers() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.transfers
}

// Conversions returns the number of conversions started.
func (s *ADS1118Simulator) Conversions() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.conversions
}

// LastConfig returns the config register bytes of the last transaction.
func (s *ADS1118Simulator) LastConfig() [2]byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastConfig
}

// Transfer shifts out the last conversion result while shifting in a
// new config register value.
func (s *ADS1118Simulator) Transfer(w, r []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.transfers++
	copy(r, s.result[:])
	if len(w) < 2 {
		return
	}
	s.lastConfig = [2]byte{w[0], w[1]}
	if w[0]&ads1118ConfigSingleShot == 0 {
		return
	}
	s.conversions++
	if s.stalls > 0 {
		s.stalls--
		s.ready = false
		return
	}
	s.result = s.convert(w[0], w[1])
	s.ready = true
}

// DataReady returns true when a conversion result is available.
func (s *ADS1118Simulator) DataReady() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.ready
}

func (s *ADS1118Simulator) convert(b0, b1 byte) [2]byte {
	var raw int16
	if b1&ads1118ConfigTSMode != 0 {
		raw = clampInt16(math.Round(s.temperature/ads1118TemperatureLSB)*4) &^ 0x03
	} else {
		ch := MuxSelection((b0 >> 4) & 0x07)
		rng := InputRange((b0 >> 1) & 0x07)
		raw = clampInt16(math.Round(s.inputs[ch] / rng.LSB()))
	}
	return [2]byte{byte(uint16(raw) >> 8), byte(uint16(raw))}
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
