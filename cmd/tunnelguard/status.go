package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/user/tunnelguard/internal/daemon"
	"github.com/user/tunnelguard/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and tunnel status",
	Long:  "Show the current status of the tunnelguard daemon and the supervised tunnel engine.",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1)

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("86"))

	runningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("46")).
		Bold(true)

	stoppedStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")).
		Bold(true)

	running, pid := daemon.CheckRunning(cfg.DataDir)

	fmt.Println(titleStyle.Render("TunnelGuard Status"))
	fmt.Println()

	fmt.Print(labelStyle.Render("Daemon: "))
	if running {
		fmt.Println(runningStyle.Render(fmt.Sprintf("Running (PID %d)", pid)))
	} else {
		fmt.Println(stoppedStyle.Render("Stopped"))
	}

	if sf, err := daemon.ReadStatusFile(cfg.DataDir); err == nil {
		fmt.Print(labelStyle.Render("Started: "))
		fmt.Println(valueStyle.Render(sf.StartTime))

		fmt.Print(labelStyle.Render("Uptime: "))
		fmt.Println(valueStyle.Render(sf.Uptime))

		fmt.Println()
		fmt.Println(titleStyle.Render("Tunnel"))

		fmt.Print(labelStyle.Render("  Engine: "))
		if sf.EngineRunning {
			fmt.Println(runningStyle.Render(fmt.Sprintf("Running (PID %d)", sf.EnginePID)))
		} else {
			fmt.Println(stoppedStyle.Render("Stopped"))
		}

		fmt.Printf("  %s %s\n", labelStyle.Render("Network:"), valueStyle.Render(sf.NetworkState))
		fmt.Printf("  %s %s\n", labelStyle.Render("Health:"), valueStyle.Render(sf.Health))
		fmt.Printf("  %s %s\n", labelStyle.Render("Reconnect:"), valueStyle.Render(sf.ReconnectStatus))
		if sf.Attempts > 0 {
			fmt.Printf("  %s %s\n", labelStyle.Render("Attempts:"),
				valueStyle.Render(fmt.Sprintf("%d", sf.Attempts)))
		}
		fmt.Printf("  %s %s\n", labelStyle.Render("Download:"),
			valueStyle.Render(fmt.Sprintf("%.0f B/s", sf.DownloadSpeed)))
		fmt.Printf("  %s %s\n", labelStyle.Render("Upload:"),
			valueStyle.Render(fmt.Sprintf("%.0f B/s", sf.UploadSpeed)))
		if sf.LastError != "" {
			fmt.Printf("  %s %s\n", labelStyle.Render("Last Error:"), stoppedStyle.Render(sf.LastError))
		}

		if len(sf.Jobs) > 0 {
			fmt.Println()
			fmt.Println(titleStyle.Render("Jobs"))

			for _, job := range sf.Jobs {
				statusStr := "idle"
				if job.Running {
					statusStr = "running"
				}
				fmt.Printf("  %s: %s (last: %s, errors: %d)\n",
					labelStyle.Render(job.Name),
					valueStyle.Render(statusStr),
					job.LastRun.Format("15:04:05"),
					job.ErrorCount)
			}
		}
	}

	db, err := storage.Initialize(cfg.DataDir)
	if err == nil {
		fmt.Println()
		fmt.Println(titleStyle.Render("Last 24 Hours"))

		since := time.Now().Add(-24 * time.Hour)

		if total, succeeded, err := storage.NewAttemptStorage(db).CountSince(since); err == nil {
			fmt.Printf("  %s %s\n",
				labelStyle.Render("Reconnections:"),
				valueStyle.Render(fmt.Sprintf("%d (%d successful)", total, succeeded)))
		}

		if down, up, err := storage.NewSampleStorage(db).PeakSpeeds(since); err == nil {
			fmt.Printf("  %s %s\n",
				labelStyle.Render("Peak download:"),
				valueStyle.Render(fmt.Sprintf("%.0f B/s", down)))
			fmt.Printf("  %s %s\n",
				labelStyle.Render("Peak upload:"),
				valueStyle.Render(fmt.Sprintf("%.0f B/s", up)))
		}

		if counts, err := storage.NewErrorStorage(db).CountByKind(since); err == nil && len(counts) > 0 {
			fmt.Println()
			fmt.Println(titleStyle.Render("Errors"))
			for kind, n := range counts {
				fmt.Printf("  %s %s\n",
					labelStyle.Render(kind+":"),
					valueStyle.Render(fmt.Sprintf("%d", n)))
			}
		}
	}

	return nil
}
