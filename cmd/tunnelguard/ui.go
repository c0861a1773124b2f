package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/tunnelguard/internal/storage"
	"github.com/user/tunnelguard/internal/tui"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Launch the terminal dashboard",
	Long: `Launch an interactive terminal dashboard showing live tunnel status.

The dashboard shows:
- Engine state, health and network classification
- Live download and upload rates
- Recent reconnection attempts

The view refreshes automatically; press 'q' to quit.`,
	RunE: runUI,
}

func runUI(cmd *cobra.Command, args []string) error {
	db, err := storage.Initialize(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	app := tui.NewApp(db, cfg)
	return app.Run()
}
