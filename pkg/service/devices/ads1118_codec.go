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

const (
	// Config register, first byte
	ads1118ConfigSingleShot = 0x80 // SS: start a single conversion
	ads1118ConfigPowerDown  = 0x01 // MODE: power-down single-shot mode
	// Config register, second byte
	ads1118ConfigTSMode      = 0x10 // TS_MODE: temperature sensor
	ads1118ConfigPullUpValid = 0x0A // PULL_UP_EN | NOP=01 (valid data)

	// Temperature resolution in degrees Celsius per LSB (14 bit, left aligned)
	ads1118TemperatureLSB = 0.03125
)

// EncodeConfig returns the two config register bytes that start a
// single-shot conversion with the given parameters.
func EncodeConfig(ch MuxSelection, rng InputRange, rate SamplingRate) [2]byte {
	b0 := byte(ads1118ConfigSingleShot) |
		(byte(ch)&0x07)<<4 |
		(byte(rng)&0x07)<<1 |
		ads1118ConfigPowerDown
	b1 := (byte(rate)&0x07)<<5 | ads1118ConfigPullUpValid
	if ch == Temperature {
		b1 |= ads1118ConfigTSMode
	}
	return [2]byte{b0, b1}
}

// decodeSigned returns the big endian two's complement value of b.
func decodeSigned(b [2]byte) int16 {
	return int16(uint16(b[0])<<8 | uint16(b[1]))
}

// DecodeTemperature converts a conversion result of the temperature sensor
// into degrees Celsius.
func DecodeTemperature(b [2]byte) float64 {
	return float64(decodeSigned(b)>>2) * ads1118TemperatureLSB
}

// DecodeVoltage converts a conversion result into volts for the given input range.
func DecodeVoltage(b [2]byte, rng InputRange) float64 {
	return float64(decodeSigned(b)) * rng.LSB()
}
