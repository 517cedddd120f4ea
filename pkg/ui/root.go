// Copyright 2023 Ewout Prangsma
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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/ssh"
	"github.com/dustin/go-humanize"

	"github.com/flatsat/BoardWorker/pkg/service"
)

const (
	statusRefreshInterval = time.Second
	viewReadings          = 0
	viewDevices           = 1
	viewPins              = 2
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	viewNames   = []string{"readings", "devices", "pins"}
)

// UI serves the status UI to SSH sessions.
type UI struct {
	provider service.StatusProvider
}

// New creates a UI showing the status of the given provider.
func New(provider service.StatusProvider) *UI {
	return &UI{provider: provider}
}

// Handler creates the model for a new SSH session.
func (u *UI) Handler(s ssh.Session) (tea.Model, []tea.ProgramOption) {
	pty, _, _ := s.Pty()
	r := NewRoot(u.provider)
	r.term = pty.Term
	r.width = pty.Window.Width
	r.height = pty.Window.Height
	return r, []tea.ProgramOption{tea.WithAltScreen()}
}

type Root struct {
	provider service.StatusProvider
	term     string
	width    int
	height   int
	loadAvg  string
	status   service.Status
	view     int
	table    table.Model

	showFile struct {
		active   bool
		viewPort viewport.Model
	}
}

var _ tea.Model = Root{}

// NewRoot creates the root model for the given provider.
func NewRoot(provider service.StatusProvider) Root {
	r := Root{
		provider: provider,
		table:    table.New(table.WithFocused(true), table.WithHeight(10)),
	}
	return r.refreshTable()
}

// Init is the first function that will be called. It returns an optional
// initial command. To not perform an initial command return nil.
func (r Root) Init() tea.Cmd {
	return tea.Batch(doReloadCPULoadAvg(), r.doReloadStatus(0))
}

// Update is called when a message is received. Use it to inspect messages
// and, in response, update the model and/or send a command.
func (r Root) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case loadAvgMsg:
		r.loadAvg = string(msg)
		return r, doReloadCPULoadAvg()
	case statusMsg:
		r.status = service.Status(msg)
		r = r.refreshTable()
		return r, r.doReloadStatus(statusRefreshInterval)
	case tea.WindowSizeMsg:
		r.height = msg.Height
		r.width = msg.Width
		r = r.refreshTable()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return r, tea.Quit
		case "tab":
			r.view = (r.view + 1) % len(viewNames)
			r = r.refreshTable()
			return r, nil
		case "k":
			r = r.openFile("/proc/kmsg")
		case "m":
			r = r.openFile("/proc/meminfo")
		case "esc":
			r.showFile.active = false
		}
	}

	// Handle keyboard and mouse events in the viewport
	if r.showFile.active {
		var cmd tea.Cmd
		r.showFile.viewPort, cmd = r.showFile.viewPort.Update(msg)
		cmds = append(cmds, cmd)
	} else {
		var cmd tea.Cmd
		r.table, cmd = r.table.Update(msg)
		cmds = append(cmds, cmd)
	}

	return r, tea.Batch(cmds...)
}

// View renders the program's UI, which is just a string. The view is
// rendered after every Update.
func (r Root) View() string {
	s := r.headerView()
	if r.showFile.active {
		return s + r.showFile.viewPort.View()
	}
	s += r.table.View() + "\n"
	s += helpStyle.Render("tab - Next view (" + viewNames[(r.view+1)%len(viewNames)] + ")  k - View /proc/kmsg  m - View /proc/meminfo  q - Disconnect")
	return s + "\n"
}

func (r Root) headerView() string {
	st := r.status
	title := headerStyle.Render(fmt.Sprintf("Board worker %s (%s)", st.Name, st.Version))
	info := fmt.Sprintf("host %s, worker %d, started %s", st.HostID, st.WorkerID, humanize.Time(st.StartedAt))
	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Left, title, "  ", strings.TrimSpace(r.loadAvg)),
		info,
		headerStyle.Render(viewNames[r.view]),
	) + "\n"
}

// refreshTable puts the current status in the table.
func (r Root) refreshTable() Root {
	var columns []table.Column
	var rows []table.Row
	switch r.view {
	case viewReadings:
		columns, rows = readingColumns, ReadingRows(r.status.Readings)
	case viewDevices:
		columns, rows = deviceColumns, DeviceRows(r.status.Registry.Devices)
	case viewPins:
		columns, rows = pinColumns, PinRows(r.status.Registry.Pins)
	}
	// Rows must be cleared before changing columns
	r.table.SetRows(nil)
	r.table.SetColumns(columns)
	r.table.SetRows(rows)
	if height := r.height - lipgloss.Height(r.headerView()) - 2; height > 2 {
		r.table.SetHeight(height)
	}
	return r
}

func (r Root) openFile(path string) Root {
	headerHeight := lipgloss.Height(r.headerView())

	content, _ := os.ReadFile(path)
	r.showFile.viewPort = viewport.New(r.width, r.height-headerHeight)
	r.showFile.viewPort.YPosition = headerHeight
	r.showFile.viewPort.SetContent(string(content))
	r.showFile.active = true

	return r
}

type loadAvgMsg string

func doReloadCPULoadAvg() tea.Cmd {
	return tea.Tick(time.Second*2, func(t time.Time) tea.Msg {
		if content, err := os.ReadFile("/proc/loadavg"); err != nil {
			return loadAvgMsg(err.Error())
		} else {
			return loadAvgMsg(string(content))
		}
	})
}

type statusMsg service.Status

func (r Root) doReloadStatus(delay time.Duration) tea.Cmd {
	provider := r.provider
	if delay == 0 {
		return func() tea.Msg { return statusMsg(provider.Status()) }
	}
	return tea.Tick(delay, func(t time.Time) tea.Msg {
		return statusMsg(provider.Status())
	})
}
