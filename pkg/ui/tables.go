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
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/flatsat/BoardWorker/pkg/service/objects"
	"github.com/flatsat/BoardWorker/pkg/service/registry"
)

var (
	readingColumns = []table.Column{
		{Title: "Object", Width: 20},
		{Title: "Device", Width: 10},
		{Title: "Channel", Width: 12},
		{Title: "Value", Width: 14},
		{Title: "Age", Width: 18},
	}
	deviceColumns = []table.Column{
		{Title: "Device", Width: 36},
		{Title: "State", Width: 6},
		{Title: "Leases", Width: 6},
		{Title: "Acquired", Width: 8},
		{Title: "Reclaimed", Width: 9},
	}
	pinColumns = []table.Column{
		{Title: "Pin", Width: 10},
		{Title: "Claimant", Width: 36},
		{Title: "Bound", Width: 6},
	}
)

// FormatValue formats the value of a reading with SI prefix and unit.
func FormatValue(r objects.Reading) string {
	if r.Failed() {
		return "error"
	}
	if r.Unit == "C" {
		return strconv.FormatFloat(r.Value, 'f', 2, 64) + " °C"
	}
	return humanize.SIWithDigits(r.Value, 3, r.Unit)
}

// ReadingRows builds table rows for the given readings.
func ReadingRows(readings []objects.Reading) []table.Row {
	rows := make([]table.Row, 0, len(readings))
	for _, r := range readings {
		rows = append(rows, table.Row{r.ObjectID, r.Device, r.Channel, FormatValue(r), humanize.Time(r.Timestamp)})
	}
	return rows
}

// DeviceRows builds table rows for the given registry devices.
func DeviceRows(devices []registry.DeviceStatus) []table.Row {
	rows := make([]table.Row, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, table.Row{d.Key, d.State, strconv.Itoa(d.ActiveLeases), strconv.Itoa(d.Acquisitions), strconv.Itoa(d.Reclaims)})
	}
	return rows
}

// PinRows builds table rows for the given registry pins.
func PinRows(pins []registry.PinStatus) []table.Row {
	rows := make([]table.Row, 0, len(pins))
	for _, p := range pins {
		rows = append(rows, table.Row{string(p.Pin), p.Claimant, strconv.FormatBool(p.Running)})
	}
	return rows
}

// RenderReadings renders the given readings as a table for a terminal.
func RenderReadings(readings []objects.Reading) string {
	t := lgtable.New().
		Border(lipgloss.NormalBorder()).
		Headers("OBJECT", "DEVICE", "CHANNEL", "VALUE", "ERROR", "TIME")
	for _, r := range readings {
		t.Row(r.ObjectID, r.Device, r.Channel, FormatValue(r), r.Error, r.Timestamp.Format(time.RFC3339))
	}
	return strings.TrimSpace(t.String()) + "\n"
}
