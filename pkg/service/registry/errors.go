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
)

var (
	// ResourceBusyError is returned when a device cannot be acquired because
	// one of its pins is held by another device that has active leases,
	// or when a device with active leases is reclaimed.
	ResourceBusyError = errors.New("resource busy")

	maskAny = errors.WithStack
)

// IsResourceBusy returns true if the given error is (or is caused by) ResourceBusyError.
var IsResourceBusy = isErrorFunc(ResourceBusyError)

func isErrorFunc(e error) func(error) bool {
	return func(err error) bool {
		return err == e || errors.Cause(err) == e
	}
}
