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

package objects

import (
	"context"
	"time"

	"github.com/flatsat/BoardWorker/model"
)

// Object contains the API supported by all types of objects.
type Object interface {
	// ID of the object
	ID() string
	// Return the type of this object.
	Type() model.ObjectType
	// Configure is called once to put the object in the desired state.
	Configure(ctx context.Context) error
}

// Sensor is an object that produces readings.
type Sensor interface {
	Object
	// Interval between two readings.
	Interval() time.Duration
	// Sample takes a single reading.
	Sample(ctx context.Context) Reading
}

// Runner is an object with its own run loop.
type Runner interface {
	Object
	// Run the object until the given context is cancelled.
	Run(ctx context.Context, readings ReadingService) error
}

// ReadingService is used by objects to publish and receive readings.
type ReadingService interface {
	// Publish a reading to all receivers.
	Publish(r Reading)
	// RegisterReadingReceiver registers a callback for all published readings.
	RegisterReadingReceiver(cb func(Reading)) context.CancelFunc
}
