package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/tunnelguard/internal/storage"
	"github.com/user/tunnelguard/internal/web"
)

var webPort int

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Start the JSON status API server",
	Long: `Start a standalone server exposing the tunnel status as JSON.

The server reads the daemon's published status file and the database,
so it can run next to an already started daemon.

Examples:
  tunnelguard web
  tunnelguard web --port 8080`,
	RunE: runWeb,
}

func init() {
	webCmd.Flags().IntVarP(&webPort, "port", "p", 8080, "Web server port")
}

func runWeb(cmd *cobra.Command, args []string) error {
	db, err := storage.Initialize(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	fmt.Printf("Starting status API on http://localhost:%d\n", webPort)
	fmt.Println("Press Ctrl+C to stop")

	srv := web.NewServer(web.NewStandaloneHandlers(db, cfg.DataDir), webPort)
	return srv.Start()
}
