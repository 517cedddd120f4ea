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

package ui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/flatsat/BoardWorker/pkg/service"
	"github.com/flatsat/BoardWorker/pkg/service/objects"
	"github.com/flatsat/BoardWorker/pkg/service/registry"
	"github.com/flatsat/BoardWorker/pkg/service/worker"
)

type fakeProvider struct {
	status service.Status
}

func (p *fakeProvider) Status() service.Status { return p.status }
func (p *fakeProvider) RegisterReadingReceiver(cb func(objects.Reading)) (context.CancelFunc, bool) {
	return nil, false
}

func testStatus() service.Status {
	return service.Status{
		Name:      "eps-flatsat",
		HostID:    "host1",
		Version:   "dev",
		StartedAt: time.Now().Add(-time.Minute),
		WorkerID:  1,
		Status: worker.Status{
			Readings: []objects.Reading{
				{ObjectID: "bus-voltage", Device: "adc0", Channel: "ch1", Value: 4.5, Unit: "V", Timestamp: time.Now()},
				{ObjectID: "adc0-temperature", Device: "adc0", Channel: "temperature", Unit: "C", Error: "not ready", Timestamp: time.Now()},
			},
			Registry: registry.Snapshot{
				Devices: []registry.DeviceStatus{{Key: "spi@GPIO11,GPIO10,GPIO9", Kind: "spi", State: "bound", Acquisitions: 3}},
				Pins:    []registry.PinStatus{{Pin: "GPIO11", Claimant: "spi@GPIO11,GPIO10,GPIO9", Running: true}},
			},
		},
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		reading objects.Reading
		want    string
	}{
		{objects.Reading{Value: 4.5, Unit: "V"}, "4.5 V"},
		{objects.Reading{Value: 25, Unit: "C"}, "25.00 °C"},
		{objects.Reading{Unit: "V", Error: "not ready"}, "error"},
	}
	for _, test := range tests {
		if got := FormatValue(test.reading); got != test.want {
			t.Errorf("FormatValue(%+v) = %q, want %q", test.reading, got, test.want)
		}
	}
}

func TestRenderReadings(t *testing.T) {
	out := RenderReadings(testStatus().Readings)
	for _, s := range []string{"OBJECT", "bus-voltage", "4.5 V", "adc0-temperature", "not ready"} {
		if !strings.Contains(out, s) {
			t.Errorf("expected %q in\n%s", s, out)
		}
	}
}

func TestRootViews(t *testing.T) {
	provider := &fakeProvider{status: testStatus()}
	var m tea.Model = NewRoot(provider)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = m.Update(statusMsg(provider.Status()))

	view := m.View()
	if !strings.Contains(view, "eps-flatsat") || !strings.Contains(view, "bus-voltage") {
		t.Errorf("unexpected readings view\n%s", view)
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if view := m.View(); !strings.Contains(view, "spi@GPIO11") {
		t.Errorf("unexpected devices view\n%s", view)
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if view := m.View(); !strings.Contains(view, "GPIO11") || !strings.Contains(view, "Claimant") {
		t.Errorf("unexpected pins view\n%s", view)
	}
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); cmd == nil {
		t.Error("expected quit command")
	}
}
