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
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/model"
	"github.com/flatsat/BoardWorker/pkg/service/bridge"
	"github.com/flatsat/BoardWorker/pkg/service/registry"
)

type lockedBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.String()
}

func TestStatusLedBlinkWriteFailure(t *testing.T) {
	b := bridge.NewVirtualBridge()
	reg := registry.New(b, zerolog.Nop())
	defer reg.Close()
	var logs lockedBuffer
	config := model.HWDevice{ID: "status", Type: model.HWDeviceTypeLED, Pins: map[model.PinName]string{model.PinNameOutput: "GPIO23"}}
	led, err := newStatusLed(zerolog.New(&logs), config, reg, func() {})
	if err != nil {
		t.Fatalf("newStatusLed failed: %v", err)
	}

	b.SetFault("GPIO23", errors.New("pin stuck"))
	if err := led.Blink(time.Millisecond); err != nil {
		t.Fatalf("Blink failed: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(logs.String(), "Failed to blink LED") {
		if time.Now().After(deadline) {
			t.Fatalf("blink failure not logged: %q", logs.String())
		}
		time.Sleep(time.Millisecond)
	}
	if !strings.Contains(logs.String(), "pin stuck") {
		t.Errorf("log must contain the write error: %q", logs.String())
	}

	b.SetFault("GPIO23", nil)
	if err := led.Set(true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !b.Level("GPIO23") {
		t.Error("LED must be on")
	}
}
