package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/tunnelguard/internal/daemon"
	"github.com/user/tunnelguard/internal/util"
	"github.com/user/tunnelguard/internal/web"
)

var (
	foreground   bool
	tunnelConfig string
	withWeb      bool
	startWebPort int
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tunnelguard daemon",
	Long:  "Start the tunnelguard daemon, launch the tunnel engine and begin monitoring.",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false,
		"Run in foreground instead of daemonizing")
	startCmd.Flags().StringVarP(&tunnelConfig, "tunnel-config", "t", "",
		"Path to the sing-box configuration file")
	startCmd.Flags().BoolVar(&withWeb, "with-web", false,
		"Also start the JSON status API server")
	startCmd.Flags().IntVar(&startWebPort, "web-port", 8080,
		"Port for the status API (when using --with-web)")
}

func runStart(cmd *cobra.Command, args []string) error {
	running, pid := daemon.CheckRunning(cfg.DataDir)
	if running {
		fmt.Printf("Daemon is already running (PID %d)\n", pid)
		return nil
	}

	if tunnelConfig != "" {
		cfg.TunnelConfig = tunnelConfig
	}

	if foreground {
		return runForeground()
	}

	return runDaemon()
}

func runForeground() error {
	fmt.Println("Starting tunnelguard in foreground mode...")

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	if withWeb {
		go func() {
			srv := web.NewServer(web.NewHandlers(d), startWebPort)
			fmt.Printf("Status API: http://localhost:%d/api/status\n", startWebPort)
			if err := srv.Start(); err != nil {
				util.Error("Web server error: %v", err)
			}
		}()
	}

	fmt.Println("TunnelGuard daemon started. Press Ctrl+C to stop.")

	d.Wait()

	return nil
}

func runDaemon() error {
	// Re-execute self in background
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{"start", "--foreground"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if cfg.TunnelConfig != "" {
		args = append(args, "--tunnel-config", cfg.TunnelConfig)
	}
	if withWeb {
		args = append(args, "--with-web", "--web-port", fmt.Sprintf("%d", startWebPort))
	}

	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	procAttr := &os.ProcAttr{
		Dir:   "/",
		Env:   os.Environ(),
		Files: []*os.File{nil, logFile, logFile},
		Sys: &syscall.SysProcAttr{
			Setsid: true,
		},
	}

	proc, err := os.StartProcess(executable, append([]string{executable}, args...), procAttr)
	if err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	if err := proc.Release(); err != nil {
		util.Warn("Failed to release process: %v", err)
	}

	fmt.Printf("TunnelGuard daemon started (PID %d)\n", proc.Pid)
	fmt.Printf("Logs: %s\n", cfg.LogFile)
	if withWeb {
		fmt.Printf("Status API: http://localhost:%d/api/status\n", startWebPort)
	}

	return nil
}
