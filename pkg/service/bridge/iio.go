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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// iioAnalogInput reads a voltage channel of a linux Industrial I/O ADC
// through sysfs (in_voltage<N>_raw).
// Raw values are scaled to 16 bits using the maximum raw value of the device.
type iioAnalogInput struct {
	mutex     sync.Mutex
	path      string
	maxRaw    int
	reference float64
	release   func()
	closed    bool
}

const (
	defaultIIOResolutionBits = 12
)

func newIIOAnalogInput(device string, channel int, reference float64, release func()) *iioAnalogInput {
	return &iioAnalogInput{
		path:      filepath.Join(device, fmt.Sprintf("in_voltage%d_raw", channel)),
		maxRaw:    (1 << defaultIIOResolutionBits) - 1,
		reference: reference,
		release:   release,
	}
}

// Read the raw value, scaled to 16 bits.
func (a *iioAnalogInput) Read() (uint16, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.closed {
		return 0, maskAny(ClosedError)
	}
	data, err := os.ReadFile(a.path)
	if err != nil {
		return 0, errors.Wrapf(err, "ReadFile[%s] failed", a.path)
	}
	raw, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid raw value in %s", a.path)
	}
	if raw < 0 {
		raw = 0
	} else if raw > a.maxRaw {
		raw = a.maxRaw
	}
	return uint16(raw * 0xFFFF / a.maxRaw), nil
}

// ReferenceVoltage returns the voltage of a full scale reading.
func (a *iioAnalogInput) ReferenceVoltage() float64 {
	return a.reference
}

func (a *iioAnalogInput) Close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.closed {
		a.closed = true
		a.release()
	}
	return nil
}
