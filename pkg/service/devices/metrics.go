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
	"github.com/flatsat/BoardWorker/pkg/metrics"
)

const (
	subSystem = "devices"
)

var (
	// Number of devices created from the configuration
	devicesCreatedTotal = metrics.MustRegisterGauge(subSystem,
		"created_total",
		"Number of devices created from the configuration")
	// Number of devices successfully configured
	devicesConfiguredTotal = metrics.MustRegisterGauge(subSystem,
		"configured_total",
		"Number of devices successfully configured")

	// Total number of ADC samples requested
	adcSampleCounters = metrics.MustRegisterCounterVec(subSystem,
		"adc_sample_total",
		"Total number of ADC samples requested",
		"adc", "channel")
	// Total number of failed ADC samples
	adcSampleErrorCounters = metrics.MustRegisterCounterVec(subSystem,
		"adc_sample_error_total",
		"Total number of failed ADC samples",
		"adc", "channel")
	// Total number of conversions that were not ready in time
	adcRetryCounters = metrics.MustRegisterCounterVec(subSystem,
		"adc_retry_total",
		"Total number of ADC conversions retried because data was not ready",
		"adc", "channel")
	// Last sampled value
	adcValueGauges = metrics.MustRegisterGaugeVec(subSystem,
		"adc_value",
		"Last sampled value (volts or degrees Celsius)",
		"adc", "channel")
	// Duration of successful samples
	adcSampleDuration = metrics.MustRegisterHistogramVec(subSystem,
		"adc_sample_duration_seconds",
		"Duration of successful ADC samples",
		[]float64{0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1},
		"adc")
)
