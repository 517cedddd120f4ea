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
	"context"

	"github.com/flatsat/BoardWorker/pkg/service/objects"
)

// Sink is a destination of readings.
type Sink interface {
	// Name of the sink, used in logs and metrics.
	Name() string
	// Open the sink. Open is called again after a failed Send
	// and must return quickly when the sink is already open.
	Open(ctx context.Context) error
	// Send a single reading.
	Send(ctx context.Context, r objects.Reading) error
	// Close the sink.
	Close() error
}

// ReadingSource is the part of the object service used by telemetry.
type ReadingSource interface {
	// RegisterReadingReceiver registers a callback for all published readings.
	RegisterReadingReceiver(cb func(objects.Reading)) context.CancelFunc
}
