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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// MuxSelection selects what an ADS1118 converts.
// Values 0..7 are the MUX field of the config register,
// Temperature selects the internal temperature sensor.
type MuxSelection int

const (
	CH0CH1Diff MuxSelection = 0 // Differential P = AIN0, N = AIN1
	CH0CH3Diff MuxSelection = 1 // Differential P = AIN0, N = AIN3
	CH1CH3Diff MuxSelection = 2 // Differential P = AIN1, N = AIN3
	CH2CH3Diff MuxSelection = 3 // Differential P = AIN2, N = AIN3
	CH0        MuxSelection = 4 // Single-ended AIN0
	CH1        MuxSelection = 5 // Single-ended AIN1
	CH2        MuxSelection = 6 // Single-ended AIN2
	CH3        MuxSelection = 7 // Single-ended AIN3
	// Temperature selects the internal temperature sensor (TS_MODE).
	Temperature MuxSelection = 255
)

var muxNames = map[MuxSelection]string{
	CH0CH1Diff:  "ch0-ch1",
	CH0CH3Diff:  "ch0-ch3",
	CH1CH3Diff:  "ch1-ch3",
	CH2CH3Diff:  "ch2-ch3",
	CH0:         "ch0",
	CH1:         "ch1",
	CH2:         "ch2",
	CH3:         "ch3",
	Temperature: "temperature",
}

// String returns the configuration name of the selection.
func (m MuxSelection) String() string {
	if name, found := muxNames[m]; found {
		return name
	}
	return fmt.Sprintf("mux(%d)", int(m))
}

// Validate returns ValidationError if m is neither Temperature nor in [0,8).
func (m MuxSelection) Validate() error {
	if m == Temperature || (m >= 0 && m < 8) {
		return nil
	}
	return errors.Wrapf(ValidationError, "channel %d out of range", int(m))
}

// ParseMuxSelection parses "ch0".."ch3", "ch0-ch1", "ch0-ch3", "ch1-ch3",
// "ch2-ch3" or "temperature".
func ParseMuxSelection(s string) (MuxSelection, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range muxNames {
		if name == s {
			return m, nil
		}
	}
	if s == "temp" {
		return Temperature, nil
	}
	return 0, errors.Wrapf(ValidationError, "unknown channel '%s'", s)
}

// InputRange is the full scale range of the programmable gain amplifier (PGA field).
type InputRange int

const (
	FSR6144mV InputRange = 0 // +/-6.144V
	FSR4096mV InputRange = 1 // +/-4.096V
	FSR2048mV InputRange = 2 // +/-2.048V
	FSR1024mV InputRange = 3 // +/-1.024V
	FSR512mV  InputRange = 4 // +/-0.512V
	FSR256mV  InputRange = 5 // +/-0.256V; 6 and 7 select the same range
)

// lsbSizes holds the voltage of one LSB per input range.
var lsbSizes = [8]float64{
	187.5e-6,
	125e-6,
	62.5e-6,
	31.25e-6,
	15.625e-6,
	7.8125e-6,
	7.8125e-6,
	7.8125e-6,
}

// Validate returns ValidationError if r is not in [0,8).
func (r InputRange) Validate() error {
	if r >= 0 && r < 8 {
		return nil
	}
	return errors.Wrapf(ValidationError, "input range %d out of range", int(r))
}

// LSB returns the voltage of one LSB. r must be valid.
func (r InputRange) LSB() float64 {
	return lsbSizes[r&7]
}

// FullScale returns the full scale voltage. r must be valid.
func (r InputRange) FullScale() float64 {
	return r.LSB() * 32768
}

// String returns the full scale voltage, e.g. "4.096V".
func (r InputRange) String() string {
	if r.Validate() != nil {
		return fmt.Sprintf("fsr(%d)", int(r))
	}
	return strconv.FormatFloat(r.FullScale(), 'f', 3, 64) + "V"
}

// ParseInputRange parses a full scale voltage such as "4.096V" or "0.256".
func ParseInputRange(s string) (InputRange, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "V"), 64)
	if err != nil {
		return 0, errors.Wrapf(ValidationError, "invalid input range '%s'", s)
	}
	for r := FSR6144mV; r <= FSR256mV; r++ {
		if fs := r.FullScale(); v > fs-0.0005 && v < fs+0.0005 {
			return r, nil
		}
	}
	return 0, errors.Wrapf(ValidationError, "unsupported input range '%s'", s)
}

// SamplingRate is the data rate of the converter (DR field).
type SamplingRate int

const (
	SPS8   SamplingRate = 0
	SPS16  SamplingRate = 1
	SPS32  SamplingRate = 2
	SPS64  SamplingRate = 3
	SPS128 SamplingRate = 4
	SPS250 SamplingRate = 5
	SPS475 SamplingRate = 6
	SPS860 SamplingRate = 7
)

var (
	samplesPerSecond = [8]int{8, 16, 32, 64, 128, 250, 475, 860}
	// conversionDelays is the time to wait after starting a conversion.
	conversionDelays = [8]time.Duration{
		125 * time.Millisecond,
		63 * time.Millisecond,
		32 * time.Millisecond,
		16 * time.Millisecond,
		8 * time.Millisecond,
		4 * time.Millisecond,
		3 * time.Millisecond,
		2 * time.Millisecond,
	}
)

// Validate returns ValidationError if r is not in [0,8).
func (r SamplingRate) Validate() error {
	if r >= 0 && r < 8 {
		return nil
	}
	return errors.Wrapf(ValidationError, "sampling rate %d out of range", int(r))
}

// SamplesPerSecond returns the data rate. r must be valid.
func (r SamplingRate) SamplesPerSecond() int {
	return samplesPerSecond[r&7]
}

// ConversionDelay returns the time a conversion takes at this rate. r must be valid.
func (r SamplingRate) ConversionDelay() time.Duration {
	return conversionDelays[r&7]
}

// String returns the data rate, e.g. "128SPS".
func (r SamplingRate) String() string {
	if r.Validate() != nil {
		return fmt.Sprintf("dr(%d)", int(r))
	}
	return fmt.Sprintf("%dSPS", r.SamplesPerSecond())
}

// ParseSamplingRate returns the rate with the given number of samples per second.
func ParseSamplingRate(sps int) (SamplingRate, error) {
	for i, v := range samplesPerSecond {
		if v == sps {
			return SamplingRate(i), nil
		}
	}
	return 0, errors.Wrapf(ValidationError, "unsupported sampling rate %d", sps)
}

// validateSamplingParams checks all parameters of a sample.
func validateSamplingParams(ch MuxSelection, rng InputRange, rate SamplingRate) error {
	if err := ch.Validate(); err != nil {
		return err
	}
	if err := rng.Validate(); err != nil {
		return err
	}
	if err := rate.Validate(); err != nil {
		return err
	}
	return nil
}
