package tui

import (
	"fmt"
	"strings"
)

// DashboardData holds data for the dashboard view.
type DashboardData struct {
	DaemonRunning   bool
	EngineRunning   bool
	EnginePID       int
	Uptime          string
	NetworkState    string
	Health          string
	ReconnectStatus string
	Attempts        int
	DownloadSpeed   float64
	UploadSpeed     float64
	PeakDownload    float64
	PeakUpload      float64
	LastError       string
	RecentAttempts  []AttemptInfo
}

// AttemptInfo represents a reconnection attempt for display.
type AttemptInfo struct {
	Number  int
	Time    string
	Reason  string
	Success bool
}

// Dashboard is the main dashboard view.
type Dashboard struct {
	data   *DashboardData
	width  int
	height int
}

// NewDashboard creates a new dashboard.
func NewDashboard(msg dataMsg, width, height int) *Dashboard {
	return &Dashboard{
		data:   msg.Data,
		width:  width,
		height: height,
	}
}

// SetSize updates the dashboard size.
func (d *Dashboard) SetSize(width, height int) {
	d.width = width
	d.height = height
}

// View renders the dashboard.
func (d *Dashboard) View() string {
	var sb strings.Builder

	header := HeaderStyle.Width(d.width).Render("🛡 TunnelGuard Dashboard")
	sb.WriteString(header)
	sb.WriteString("\n\n")

	sb.WriteString(d.renderTunnelSection())
	sb.WriteString("\n")
	sb.WriteString(d.renderTrafficSection())
	sb.WriteString("\n")
	sb.WriteString(d.renderAttemptsSection())
	sb.WriteString("\n")

	help := HelpStyle.Render("Press 'r' to refresh • 'q' to quit")
	sb.WriteString(help)

	return sb.String()
}

func (d *Dashboard) sectionWidth() int {
	w := d.width - 4
	if w < 40 {
		w = 40
	}
	return w
}

func (d *Dashboard) renderTunnelSection() string {
	engine := RenderStatus(d.data.EngineRunning, "running", "stopped")
	if d.data.EngineRunning && d.data.EnginePID > 0 {
		engine += DimStyle.Render(fmt.Sprintf(" (pid %d)", d.data.EnginePID))
	}

	content := fmt.Sprintf(
		"%s %s\n%s %s\n%s %s\n%s %s\n%s %s",
		LabelStyle.Render("Engine:"),
		engine,
		LabelStyle.Render("Uptime:"),
		ValueStyle.Render(d.data.Uptime),
		LabelStyle.Render("Network:"),
		ValueStyle.Render(d.data.NetworkState),
		LabelStyle.Render("Health:"),
		renderHealth(d.data.Health),
		LabelStyle.Render("Reconnect:"),
		renderReconnect(d.data.ReconnectStatus, d.data.Attempts),
	)

	if d.data.LastError != "" {
		content += "\n" + LabelStyle.Render("Last Error:") + " " + ErrorStyle.Render(d.data.LastError)
	}

	return SectionStyle.Width(d.sectionWidth()).Render(
		SectionTitleStyle.Render("🚇 Tunnel") + "\n" + content)
}

func (d *Dashboard) renderTrafficSection() string {
	barWidth := 20
	downBar := RenderBar(int(d.data.DownloadSpeed), int(d.data.PeakDownload), barWidth)
	upBar := RenderBar(int(d.data.UploadSpeed), int(d.data.PeakUpload), barWidth)

	content := fmt.Sprintf(
		"%s %s %s\n%s %s %s\n%s %s\n%s %s",
		LabelStyle.Render("Download:"),
		downBar,
		ValueStyle.Render(formatSpeed(d.data.DownloadSpeed)),
		LabelStyle.Render("Upload:"),
		upBar,
		ValueStyle.Render(formatSpeed(d.data.UploadSpeed)),
		LabelStyle.Render("Peak Down:"),
		ValueStyle.Render(formatSpeed(d.data.PeakDownload)),
		LabelStyle.Render("Peak Up:"),
		ValueStyle.Render(formatSpeed(d.data.PeakUpload)),
	)

	return SectionStyle.Width(d.sectionWidth()).Render(
		SectionTitleStyle.Render("📊 Traffic") + "\n" + content)
}

func (d *Dashboard) renderAttemptsSection() string {
	if len(d.data.RecentAttempts) == 0 {
		content := DimStyle.Render("No reconnection attempts recorded")
		return SectionStyle.Width(d.sectionWidth()).Render(
			SectionTitleStyle.Render("🔁 Reconnections") + "\n" + content)
	}

	var rows []string
	rows = append(rows, fmt.Sprintf("%-4s %-10s %-8s %s", "#", "Time", "Result", "Reason"))
	rows = append(rows, strings.Repeat("─", 50))

	for _, a := range d.data.RecentAttempts {
		result := RenderStatus(a.Success, "ok", "fail")
		reason := a.Reason
		if len(reason) > 28 {
			reason = reason[:25] + "..."
		}
		rows = append(rows, fmt.Sprintf("%-4d %-10s %-8s %s", a.Number, a.Time, result, reason))
	}

	content := strings.Join(rows, "\n")
	return SectionStyle.Width(d.sectionWidth()).Render(
		SectionTitleStyle.Render("🔁 Reconnections") + "\n" + content)
}

func renderHealth(health string) string {
	switch health {
	case "Good":
		return SuccessStyle.Render(health)
	case "Poor":
		return WarningStyle.Render(health)
	case "Disconnected":
		return ErrorStyle.Render(health)
	default:
		return DimStyle.Render(health)
	}
}

func renderReconnect(status string, attempts int) string {
	s := ValueStyle.Render(status)
	if attempts > 0 {
		s += DimStyle.Render(fmt.Sprintf(" (attempt %d)", attempts))
	}
	return s
}

func formatSpeed(bps float64) string {
	switch {
	case bps >= 1<<20:
		return fmt.Sprintf("%.1f MB/s", bps/(1<<20))
	case bps >= 1<<10:
		return fmt.Sprintf("%.1f KB/s", bps/(1<<10))
	default:
		return fmt.Sprintf("%.0f B/s", bps)
	}
}
