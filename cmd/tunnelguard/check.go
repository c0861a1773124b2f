package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/tunnelguard/internal/engine"
)

var checkCmd = &cobra.Command{
	Use:   "check [config-file]",
	Short: "Validate a tunnel configuration",
	Long: `Validate a sing-box configuration file without starting anything.

The configuration must be a JSON object with inbounds and outbounds
sections, and every protocol in it must be supported. With no argument
the configured tunnel_config is checked.

The engine binary is also located and verified.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := cfg.TunnelConfig
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return fmt.Errorf("no configuration file given and tunnel_config is not set")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}

	if err := engine.ValidateConfig(string(data)); err != nil {
		fmt.Printf("✗ %s: %v\n", path, err)
		fmt.Printf("\nSupported protocols: %s\n", strings.Join(engine.SupportedProtocols(), ", "))
		os.Exit(1)
	}
	fmt.Printf("✓ %s: configuration is valid\n", path)

	s := engine.NewSupervisor(engine.Options{ExecutablePath: cfg.SingboxPath})
	if s.Initialize() {
		fmt.Printf("✓ engine binary: %s\n", s.Diagnostics().ExecutablePath)
	} else {
		fmt.Printf("✗ engine binary: %s\n", s.LastErrorMessage())
		os.Exit(1)
	}

	return nil
}
