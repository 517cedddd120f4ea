// Copyright 2021 Ewout Prangsma
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

package util

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
)

const (
	untilInitialDelay = time.Millisecond * 10
	untilMaxDelay     = time.Second * 5
)

// NewRetryBackOff returns the exponential backoff used between failed
// attempts of long running loops. It never gives up.
func NewRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = untilInitialDelay
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.1
	b.MaxInterval = untilMaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// UntilCanceled calls the given callback over and over
// until the given context is canceled.
// Failures are logged and delay the next call with an increasing backoff;
// a successful call resets the delay.
func UntilCanceled(ctx context.Context, log zerolog.Logger, description string, cb func() error) error {
	b := NewRetryBackOff()
	for {
		if ctx.Err() != nil {
			return nil
		}
		delay := untilInitialDelay
		if err := cb(); err != nil {
			delay = b.NextBackOff()
			log.Warn().Err(err).Dur("retry_in", delay).Msgf("%s failed", description)
		} else {
			b.Reset()
		}
		select {
		case <-ctx.Done():
			log.Info().Msgf("Stopping %s; context canceled", description)
			return nil
		case <-time.After(delay):
		}
	}
}
