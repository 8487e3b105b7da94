// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Emberwell/lanterna/pkg/evlink"
	"github.com/Emberwell/lanterna/pkg/transfer"
)

var tuiShowAll bool

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive monitor for link traffic and transfers",
	Long: `Monitor EvLink traffic in an interactive terminal UI.

Shows live link statistics (frame rate, framing errors), a progress bar for
any file transfer in flight, and a scrolling event log. By default only
file_* events are logged; --show-all logs every event.

Supports both serial and WebSocket connections.`,
	RunE: runTui,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
	tuiCmd.Flags().BoolVar(&tuiShowAll, "show-all", false, "Log all events (not just transfers)")
}

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// transferState tracks the file transfer currently in flight, reconstructed
// from the reply events passing by.
type transferState struct {
	filename  string
	expected  int64
	written   int64
	flushes   int
	startedAt time.Time
	done      bool
	summary   string
}

// TUI model
type monitorModel struct {
	connInfo      string
	showAll       bool
	stats         *evlink.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int
	synchronized  bool
	invalidBytes  int
	width         int
	height        int
	quitting      bool

	transfer *transferState
	bar      progress.Model
}

// Messages
type monitorTickMsg time.Time
type linkEventMsg struct {
	event     *evlink.Event
	decodeErr error
	bytes     int
}
type monitorSyncMsg struct {
	invalidBytes int
}

func initialMonitorModel(connInfo string, showAll bool) monitorModel {
	stats := &evlink.Statistics{}
	stats.Reset()

	return monitorModel{
		connInfo:      connInfo,
		showAll:       showAll,
		stats:         stats,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
		bar:           progress.New(progress.WithDefaultGradient()),
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		monitorTickCmd(),
		tea.EnterAltScreen,
	)
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = m.width - 20

	case monitorTickMsg:
		m.stats.CalculateRates()
		return m, monitorTickCmd()

	case monitorSyncMsg:
		m.synchronized = true
		m.invalidBytes = msg.invalidBytes
		if msg.invalidBytes > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid bytes", msg.invalidBytes), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case linkEventMsg:
		m.stats.Bytes += uint64(msg.bytes)
		if msg.decodeErr != nil {
			if m.synchronized {
				m.stats.FramingErrors++
				m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
			}
		} else if msg.event != nil {
			m.stats.Frames++
			m.stats.LastFrameTime = time.Now()
			m.observeEvent(msg.event)
		}
	}

	return m, nil
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// observeEvent updates the transfer view from reply events and logs the
// event per the display mode.
func (m *monitorModel) observeEvent(ev *evlink.Event) {
	switch ev.Name {
	case transfer.EventFileCreateResponse:
		var body struct {
			Status       string `json:"status"`
			Filename     string `json:"filename"`
			ExpectedSize int64  `json:"expected_size"`
		}
		if json.Unmarshal(ev.Data, &body) == nil && body.Status == "success" {
			m.transfer = &transferState{
				filename:  body.Filename,
				expected:  body.ExpectedSize,
				startedAt: time.Now(),
			}
			m.addLogEntry(fmt.Sprintf("Transfer started: %s (%d bytes)", body.Filename, body.ExpectedSize), false)
			return
		}
		m.addLogEntry("Transfer create failed", true)

	case transfer.EventFileAppendAck:
		var ack struct {
			Status  string `json:"status"`
			Bytes   int    `json:"bytes"`
			Total   int64  `json:"total"`
			Message string `json:"message"`
		}
		if json.Unmarshal(ev.Data, &ack) != nil {
			return
		}
		if ack.Status != "ack" {
			m.addLogEntry(fmt.Sprintf("Append failed: %s", ack.Message), true)
			return
		}
		if m.transfer != nil && !m.transfer.done {
			m.transfer.written = ack.Total
			m.transfer.flushes++
		}

	case transfer.EventFileCloseResponse:
		var body struct {
			Status       string  `json:"status"`
			Filename     string  `json:"filename"`
			BytesWritten int64   `json:"bytes_written"`
			ElapsedMs    int64   `json:"elapsed_ms"`
			SpeedKbps    float64 `json:"speed_kbps"`
		}
		if json.Unmarshal(ev.Data, &body) == nil && body.Status == "success" {
			if m.transfer != nil {
				m.transfer.done = true
				m.transfer.written = body.BytesWritten
				m.transfer.summary = fmt.Sprintf("%d bytes in %d ms (%.1f KB/s)",
					body.BytesWritten, body.ElapsedMs, body.SpeedKbps)
			}
			m.addLogEntry(fmt.Sprintf("Transfer complete: %s", body.Filename), false)
			return
		}
		m.addLogEntry("Transfer close failed", true)

	default:
		if m.showAll || strings.HasPrefix(ev.Name, "file_") {
			m.addLogEntry(fmt.Sprintf("%s (%d bytes)", evlink.DescribeEvent(ev.Name), len(ev.Data)), false)
		}
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("LANTERNA - LINK MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' resets stats, 'q' quits",
		m.connInfo, func() string {
			if m.showAll {
				return "All events"
			}
			return "Transfers only"
		}())))
	s.WriteString("\n\n")

	// Sync status
	if !m.synchronized {
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
		s.WriteString("\n\n")
	} else {
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d invalid bytes)", m.invalidBytes)))
		}
		s.WriteString("\n\n")
	}

	// Statistics
	m.stats.CalculateRates()
	var errorPercent float64
	attempts := m.stats.Frames + m.stats.FramingErrors
	if attempts > 0 {
		errorPercent = float64(m.stats.FramingErrors) * 100.0 / float64(attempts)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Bytes:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Bytes)),
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Frames)),
		statsLabelStyle.Render("Errors:"), func() string {
			if m.stats.FramingErrors > 0 {
				return errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.FramingErrors, errorPercent))
			}
			return statsValueStyle.Render("0")
		}(),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Transfer section (only shown once a transfer has been seen)
	if m.transfer != nil {
		s.WriteString(statsLabelStyle.Render("Transfer:"))
		s.WriteString("\n")

		t := m.transfer
		transferContent := strings.Builder{}
		transferContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("File:"), statsValueStyle.Render(t.filename)))

		if t.done {
			transferContent.WriteString(fmt.Sprintf("%s %s\n",
				statsLabelStyle.Render("Done:"), statsValueStyle.Render(t.summary)))
			transferContent.WriteString(m.bar.ViewAs(1.0))
		} else {
			transferContent.WriteString(fmt.Sprintf("%s %s   %s %d\n",
				statsLabelStyle.Render("Written:"),
				statsValueStyle.Render(fmt.Sprintf("%d/%d bytes", t.written, t.expected)),
				statsLabelStyle.Render("Flushes:"), t.flushes,
			))
			percent := 0.0
			if t.expected > 0 {
				percent = float64(t.written) / float64(t.expected)
			}
			transferContent.WriteString(m.bar.ViewAs(percent))
		}

		s.WriteString(boxStyle.Render(transferContent.String()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 15 // Reserve space for header and stats
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

func runTui(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	m := initialMonitorModel(connInfo, tuiShowAll)
	p := tea.NewProgram(m)

	// Reader goroutine
	go func() {
		decoder := evlink.NewDecoder()
		synchronized := false
		invalidBytesBeforeSync := 0
		buf := make([]byte, 512)

		for {
			n, err := conn.Read(buf)
			if err != nil {
				if err == ErrConnectionClosed {
					p.Quit()
					return
				}
				continue
			}

			// One byte-count message per read keeps the message volume sane
			// on busy links.
			p.Send(linkEventMsg{bytes: n})

			for i := 0; i < n; i++ {
				event, decodeErr := decoder.DecodeByte(buf[i])

				if decodeErr != nil {
					if synchronized {
						p.Send(linkEventMsg{decodeErr: decodeErr})
					} else {
						invalidBytesBeforeSync++
					}
					continue
				}
				if event != nil {
					if !synchronized {
						synchronized = true
						p.Send(monitorSyncMsg{invalidBytes: invalidBytesBeforeSync})
					}
					p.Send(linkEventMsg{event: event})
				}
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
