package commands

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/teranos/janus/am"
	"github.com/teranos/janus/logger"
	"github.com/teranos/janus/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(verbosity int, cfg *am.Config, sessionID, journalPath string) {
	v := version.Get()

	pterm.DefaultHeader.WithFullWidth().Println("janus - FidesJS consent bridge")
	pterm.Println()

	rows := [][]string{
		{"Version", fmt.Sprintf("%s (commit %s)", v.Version, v.Short())},
		{"Session", sessionID},
		{"API", fmt.Sprintf("http://localhost:%d", cfg.GetServerPort())},
		{"Destination", cfg.GetDestinationURL()},
		{"Channel", cfg.GetChannel()},
		{"Browser", cfg.Browser.DevToolsURL},
		{"Verbosity", logger.LevelName(verbosity)},
	}
	if journalPath != "" {
		rows = append(rows, []string{"Journal", journalPath})
	}
	_ = pterm.DefaultTable.WithData(rows).Render()

	pterm.Println()
	pterm.Info.Println("Create a surface with: curl -X POST localhost:" + fmt.Sprint(cfg.GetServerPort()) + "/api/surfaces")
	pterm.Info.Println("Press Ctrl+C to stop")
}
