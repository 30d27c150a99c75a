package commands

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/veridict/veridict/am"
	"github.com/veridict/veridict/logger"
	"github.com/veridict/veridict/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(verbosity int, cfg *am.Config, port int) {
	versionInfo := version.Get()

	pterm.DefaultBox.
		WithTitle("Veridict").
		WithTitleTopCenter().
		Println("Multi-stage claim validation pipeline")

	stageNames := make([]string, len(cfg.Stages))
	for i, s := range cfg.Stages {
		stageNames[i] = fmt.Sprintf("%s (target %d, ttl %ds)", s.Name, s.TargetWorkers, s.SlotTTLSeconds)
	}

	pterm.DefaultSection.Println("Server Info")
	pterm.Printf("Version:   %s (commit %s)\n", versionInfo.Version, versionInfo.Short())
	pterm.Printf("Port:      %d\n", port)
	pterm.Printf("Database:  %s\n", cfg.Database.Path)
	pterm.Printf("Verbosity: %s\n", logger.LevelName(verbosity))
	pterm.Printf("Stages:\n")
	for i, name := range stageNames {
		pterm.Printf("  %d. %s\n", i, name)
	}

	pterm.Info.Println("Press Ctrl+C to stop")
}
