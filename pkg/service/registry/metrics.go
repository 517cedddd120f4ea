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
	"github.com/flatsat/BoardWorker/pkg/metrics"
)

const (
	subSystem = "registry"
)

var (
	// Number of devices in the cache
	devicesGauge = metrics.MustRegisterGauge(subSystem,
		"devices",
		"Number of cached devices")
	// Total number of acquisitions
	acquireCounters = metrics.MustRegisterCounterVec(subSystem,
		"acquire_total",
		"Total number of device acquisitions",
		"kind")
	// Total number of hardware bindings
	bindCounters = metrics.MustRegisterCounterVec(subSystem,
		"bind_total",
		"Total number of times a device instance was produced",
		"kind")
	// Total number of reclaims
	reclaimCounters = metrics.MustRegisterCounterVec(subSystem,
		"reclaim_total",
		"Total number of times a device instance was torn down",
		"kind")
	// Total number of acquisitions refused because of contention
	busyCounters = metrics.MustRegisterCounterVec(subSystem,
		"busy_total",
		"Total number of acquisitions that failed with resource busy",
		"kind")
)
