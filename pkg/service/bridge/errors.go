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
	"github.com/pkg/errors"
)

var (
	// InvalidPinError is returned when a pin does not exist on the board.
	InvalidPinError = errors.New("invalid pin")
	// PinInUseError is returned when a pin is already bound.
	PinInUseError = errors.New("pin in use")
	// UnsupportedError is returned when a capability is not available on the given pins.
	UnsupportedError = errors.New("unsupported")
	// InvalidDirectionError is returned when writing a pin that is not an output.
	InvalidDirectionError = errors.New("invalid direction")
	// NotConfiguredError is returned when a bus is used before it is configured.
	NotConfiguredError = errors.New("not configured")
	// ClosedError is returned when using a binding that has been closed.
	ClosedError = errors.New("closed")

	maskAny = errors.WithStack
)

// IsInvalidPin returns true if the given error is (or is caused by) InvalidPinError.
var IsInvalidPin = isErrorFunc(InvalidPinError)

// IsPinInUse returns true if the given error is (or is caused by) PinInUseError.
var IsPinInUse = isErrorFunc(PinInUseError)

// IsUnsupported returns true if the given error is (or is caused by) UnsupportedError.
var IsUnsupported = isErrorFunc(UnsupportedError)

// IsInvalidDirection returns true if the given error is (or is caused by) InvalidDirectionError.
var IsInvalidDirection = isErrorFunc(InvalidDirectionError)

// IsClosed returns true if the given error is (or is caused by) ClosedError.
var IsClosed = isErrorFunc(ClosedError)

func isErrorFunc(e error) func(error) bool {
	return func(err error) bool {
		return err == e || errors.Cause(err) == e
	}
}

func invalidPin(p PinID) error {
	return errors.Wrapf(InvalidPinError, "pin '%s'", p)
}

func pinInUse(p PinID) error {
	return errors.Wrapf(PinInUseError, "pin '%s'", p)
}
