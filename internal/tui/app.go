// Package tui provides a terminal dashboard for the running daemon.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/user/tunnelguard/internal/daemon"
	"github.com/user/tunnelguard/internal/storage"
	"github.com/user/tunnelguard/internal/util"
)

// refreshInterval drives the periodic dashboard reload.
const refreshInterval = 2 * time.Second

// App is the main TUI application.
type App struct {
	db     *storage.DB
	config *util.Config
}

// NewApp creates a new TUI application.
func NewApp(db *storage.DB, cfg *util.Config) *App {
	return &App{
		db:     db,
		config: cfg,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(newModel(a.db, a.config), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// model is the main bubbletea model.
type model struct {
	db        *storage.DB
	config    *util.Config
	dashboard *Dashboard
	spinner   spinner.Model
	ready     bool
	width     int
	height    int
	err       error
}

func newModel(db *storage.DB, cfg *util.Config) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		db:      db,
		config:  cfg,
		spinner: s,
	}
}

// Init initializes the model.
func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		loadData(m.db, m.config),
		scheduleRefresh(),
	)
}

// Update handles messages.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, loadData(m.db, m.config)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.dashboard != nil {
			m.dashboard.SetSize(msg.Width, msg.Height)
		}

	case dataMsg:
		m.ready = true
		m.err = nil
		m.dashboard = NewDashboard(msg, m.width, m.height)

	case refreshMsg:
		return m, tea.Batch(loadData(m.db, m.config), scheduleRefresh())

	case errMsg:
		m.err = msg.err

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the UI.
func (m model) View() string {
	if m.err != nil {
		return ErrorStyle.Render("Error: " + m.err.Error())
	}

	if !m.ready {
		return LoadingStyle.Render(m.spinner.View() + " Loading...")
	}

	return m.dashboard.View()
}

// Messages
type dataMsg struct {
	Data *DashboardData
}

type refreshMsg struct{}

type errMsg struct {
	err error
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshMsg{}
	})
}

func loadData(db *storage.DB, cfg *util.Config) tea.Cmd {
	return func() tea.Msg {
		data, err := fetchDashboardData(db, cfg)
		if err != nil {
			return errMsg{err}
		}
		return dataMsg{Data: data}
	}
}

func fetchDashboardData(db *storage.DB, cfg *util.Config) (*DashboardData, error) {
	data := &DashboardData{}

	// The status file is the daemon's published snapshot. A missing file
	// just means the daemon is not running.
	if sf, err := daemon.ReadStatusFile(cfg.DataDir); err == nil {
		data.DaemonRunning = sf.Running
		data.EngineRunning = sf.EngineRunning
		data.EnginePID = sf.EnginePID
		data.Uptime = sf.Uptime
		data.NetworkState = sf.NetworkState
		data.Health = sf.Health
		data.ReconnectStatus = sf.ReconnectStatus
		data.Attempts = sf.Attempts
		data.DownloadSpeed = sf.DownloadSpeed
		data.UploadSpeed = sf.UploadSpeed
		data.LastError = sf.LastError
	}

	if db != nil {
		if attempts, err := storage.NewAttemptStorage(db).GetRecent(8); err == nil {
			for _, a := range attempts {
				data.RecentAttempts = append(data.RecentAttempts, AttemptInfo{
					Number:  a.Number,
					Time:    a.Timestamp.Format("15:04:05"),
					Reason:  a.Reason,
					Success: a.Success,
				})
			}
		}
		since := time.Now().Add(-time.Hour)
		if down, up, err := storage.NewSampleStorage(db).PeakSpeeds(since); err == nil {
			data.PeakDownload = down
			data.PeakUpload = up
		}
	}

	return data, nil
}
