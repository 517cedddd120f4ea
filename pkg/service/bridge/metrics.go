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
	"github.com/flatsat/BoardWorker/pkg/metrics"
)

const (
	subSystem = "bridge"
)

var (
	// Total number of SPI transactions
	spiTxCounters = metrics.MustRegisterCounterVec(subSystem,
		"spi_tx_total",
		"Total number of SPI transactions",
		"bus")
	// Total number of failed SPI transactions
	spiTxErrorCounters = metrics.MustRegisterCounterVec(subSystem,
		"spi_tx_error_total",
		"Total number of failed SPI transactions",
		"bus")
	// Total number of I2C transactions
	i2cTxCounters = metrics.MustRegisterCounterVec(subSystem,
		"i2c_tx_total",
		"Total number of I2C transactions",
		"address")
	// Total number of failed I2C transactions
	i2cTxErrorCounters = metrics.MustRegisterCounterVec(subSystem,
		"i2c_tx_error_total",
		"Total number of failed I2C transactions",
		"address")
	// Number of currently bound pins
	boundPinsGauge = metrics.MustRegisterGauge(subSystem,
		"bound_pins",
		"Number of currently bound pins of the linux bridge")
)
