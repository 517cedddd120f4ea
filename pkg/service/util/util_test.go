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

package util

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	done := make(chan error, 1)
	go func() {
		done <- UntilCanceled(ctx, zerolog.Nop(), "test loop", func() error {
			if atomic.AddInt32(&calls, 1) >= 3 {
				cancel()
			}
			return errors.New("failed")
		})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("UntilCanceled did not stop")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected 3 calls, got %d", n)
	}
}

func TestRetryBackOff(t *testing.T) {
	b := NewRetryBackOff()
	var last time.Duration
	for i := 0; i < 50; i++ {
		last = b.NextBackOff()
		if last <= 0 || last > untilMaxDelay+untilMaxDelay/10 {
			t.Fatalf("unexpected delay %s", last)
		}
	}
	if last < untilMaxDelay-untilMaxDelay/10 {
		t.Errorf("expected delay near %s, got %s", untilMaxDelay, last)
	}
}

func TestSpinUntil(t *testing.T) {
	var l SpinLock
	l.Lock()
	if l.TryLock() {
		t.Fatal("TryLock succeeded on a locked spinlock")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := SpinUntil(ctx, l.TryLock); err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	l.Unlock()
	if err := SpinUntil(context.Background(), l.TryLock); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
