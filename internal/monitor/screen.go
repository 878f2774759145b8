package monitor

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const statusLines = 8

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headingStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type screen struct {
	st      *view
	actions Actions
}

func newScreen(st *view, actions Actions) screen {
	return screen{st: st, actions: actions}
}

func (s screen) Init() tea.Cmd { return nil }

func (s screen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runMsg:
		msg.fn()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return s, tea.Quit
		case "c":
			call(s.actions.Connect)
		case "d":
			call(s.actions.Disconnect)
		case "x":
			call(s.actions.ClearStatus)
		}
	}
	return s, nil
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

func (s screen) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("groundlink"))
	b.WriteString("\n\n")
	b.WriteString(s.connectionView())
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(s.vehicleView()))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(s.statusView()))
	b.WriteString("\n")
	if r := s.st.response; r != nil {
		style := okStyle
		if !r.Success {
			style = errStyle
		}
		b.WriteString(style.Render(fmt.Sprintf("%s: %s", r.Command, r.Message)))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("c connect %s · d disconnect · x clear log · q quit", s.st.locator)))
	return b.String()
}

func (s screen) connectionView() string {
	c := s.st.conn
	line := stateStyle(c.Status).Render(c.Status)
	if c.Locator != "" {
		line += " " + c.Locator
	}
	if c.Message != "" {
		line += dimStyle.Render("  " + c.Message)
	}
	return line
}

func stateStyle(status string) lipgloss.Style {
	switch status {
	case "CONNECTED":
		return okStyle
	case "CONNECTING", "RECONNECTING":
		return warnStyle
	case "ERROR":
		return errStyle
	}
	return dimStyle
}

func (s screen) vehicleView() string {
	v := s.st.vehicle
	var lines []string
	lines = append(lines, headingStyle.Render("Vehicle"))

	sys := v.SystemStatus
	armed := "-"
	if sys.Armed != nil {
		armed = "DISARMED"
		if *sys.Armed {
			armed = "ARMED"
		}
	}
	lines = append(lines, fmt.Sprintf("Mode %-10s %s  Battery %s %s",
		strOr(sys.Mode, "-"), armed, floatOr(sys.BatteryVoltage, "%.2f V"), intOr(sys.BatteryRemaining, "%d%%")))

	if a := v.Attitude; a != nil {
		lines = append(lines, fmt.Sprintf("Roll %6.1f°  Pitch %6.1f°  Yaw %6.1f°", a.Roll, a.Pitch, a.Yaw))
	} else {
		lines = append(lines, "Attitude -")
	}

	p := v.Position
	alt := "-"
	if p.Altitude != nil {
		alt = fmt.Sprintf("%.1f m MSL, %.1f m AGL", p.Altitude.MSL, p.Altitude.AGL)
	}
	lines = append(lines, fmt.Sprintf("Pos %s, %s  Alt %s",
		floatOr(p.Lat, "%.6f"), floatOr(p.Lon, "%.6f"), alt))

	lines = append(lines, fmt.Sprintf("GPS fix %s  sats %s",
		intOr(v.GPS.FixType, "%d"), intOr(v.GPS.Satellites, "%d")))

	sh := v.SpeedHeading
	lines = append(lines, fmt.Sprintf("GS %s  AS %s  Hdg %s  Climb %s",
		floatOr(sh.Groundspeed, "%.1f m/s"), floatOr(sh.Airspeed, "%.1f m/s"),
		floatOr(sh.Heading, "%.0f°"), floatOr(sh.ClimbRate, "%.1f m/s")))

	if rc := v.RCChannels; rc != nil && len(rc.Channels) > 0 {
		n := len(rc.Channels)
		if n > 8 {
			n = 8
		}
		parts := make([]string, n)
		for i := 0; i < n; i++ {
			parts[i] = fmt.Sprintf("%d", rc.Channels[i])
		}
		lines = append(lines, "RC "+strings.Join(parts, " "))
	}
	return strings.Join(lines, "\n")
}

func (s screen) statusView() string {
	st := s.st.status
	lines := []string{headingStyle.Render("Status")}
	entries := st.Entries
	if len(entries) > statusLines {
		entries = entries[len(entries)-statusLines:]
	}
	if len(entries) == 0 {
		lines = append(lines, dimStyle.Render("no messages"))
	}
	for _, e := range entries {
		text := fmt.Sprintf("%s %s", e.Time.Format("15:04:05"), e.Text)
		lines = append(lines, severityStyle(e.Severity).Render(text))
	}
	return strings.Join(lines, "\n")
}

// severityStyle follows MAV_SEVERITY: 0..3 are errors, 4 is a warning.
func severityStyle(sev int) lipgloss.Style {
	switch {
	case sev <= 3:
		return errStyle
	case sev == 4:
		return warnStyle
	}
	return lipgloss.NewStyle()
}

func strOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func intOr(v *int, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

var _ tea.Model = screen{}
