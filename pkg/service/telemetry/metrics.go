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

package telemetry

import (
	"github.com/flatsat/BoardWorker/pkg/metrics"
)

const (
	subSystem = "telemetry"
)

var (
	sentTotal = metrics.MustRegisterCounterVec(subSystem,
		"sent_total",
		"Number of readings sent",
		"sink")
	sendErrorsTotal = metrics.MustRegisterCounterVec(subSystem,
		"send_errors_total",
		"Number of readings that could not be sent",
		"sink")
	droppedTotal = metrics.MustRegisterCounterVec(subSystem,
		"dropped_total",
		"Number of readings dropped because the queue of a sink was full",
		"sink")
	connectAttemptsTotal = metrics.MustRegisterCounterVec(subSystem,
		"connect_attempts_total",
		"Number of attempts to open a sink",
		"sink")
)
