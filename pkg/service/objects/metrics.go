// Copyright 2023 Ewout Prangsma
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

package objects

import (
	"github.com/flatsat/BoardWorker/pkg/metrics"
)

const (
	subSystem = "objects"
)

var (
	// Number of created objects
	objectsCreatedTotal = metrics.MustRegisterGauge(subSystem,
		"objects_created_total",
		"Number of created objects")

	// Number of configured objects
	objectsConfiguredTotal = metrics.MustRegisterGauge(subSystem,
		"objects_configured_total",
		"Number of configured objects")

	// Sensor metrics
	readingsTotal = metrics.MustRegisterCounterVec(subSystem,
		"readings_total",
		"Number of successful readings",
		"id")
	readingErrorsTotal = metrics.MustRegisterCounterVec(subSystem,
		"reading_errors_total",
		"Number of failed readings",
		"id")
	readingValueGauge = metrics.MustRegisterGaugeVec(subSystem,
		"reading_value",
		"Last value of a sensor",
		"id", "unit")
	sampleDuration = metrics.MustRegisterHistogramVec(subSystem,
		"sample_duration_seconds",
		"Time taken to sample a sensor",
		[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		"id")
)
