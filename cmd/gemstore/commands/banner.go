package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/teranos/gemstore/am"
	"github.com/teranos/gemstore/logger"
	"github.com/teranos/gemstore/server"
	"github.com/teranos/gemstore/version"
)

// printStartupBanner prints the node summary shown before the listeners open
func printStartupBanner(verbosity int, srv *server.Server, configPath string) {
	info := srv.Info()
	cfg := srv.Config()
	versionInfo := version.Get()

	pterm.DefaultHeader.
		WithFullWidth(false).
		WithBackgroundStyle(pterm.NewStyle(pterm.BgCyan)).
		WithTextStyle(pterm.NewStyle(pterm.FgBlack, pterm.Bold)).
		Println(fmt.Sprintf(" %s %s ", version.Name, versionInfo.Version))

	source := configPath
	if source == "" {
		source = "defaults"
	}

	rows := [][]string{
		{"Node", info.Nickname},
		{"Version", fmt.Sprintf("%s (commit %s)", versionInfo.Version, versionInfo.Short())},
		{"Config", source},
		{"Peer port", fmt.Sprintf("%s:%d", cfg.Node.BindAddress, cfg.Server.ServerListenerPort)},
		{"Client port", fmt.Sprintf("%s:%d", cfg.Node.BindAddress, cfg.Server.ClientListenerPort)},
		{"Sync mode", syncSummary(cfg)},
		{"Peers", fmt.Sprintf("%d configured", len(cfg.Sync.Peers))},
		{"Merge rules", mergeSummary(cfg)},
		{"Verbosity", logger.LevelName(verbosity)},
	}
	if cfg.Discovery.MDNS {
		rows = append(rows, []string{"Discovery", "mDNS"})
	}

	_ = pterm.DefaultTable.WithData(rows).Render()
	fmt.Println()
	pterm.Info.Println("Press Ctrl+C to stop")
}

func syncSummary(cfg *am.Config) string {
	if strings.EqualFold(cfg.Sync.Mode, am.SyncModeBroadcast) {
		if cfg.Sync.BroadcastRate > 0 {
			return fmt.Sprintf("broadcast (%.1f pushes/s)", cfg.Sync.BroadcastRate)
		}
		return "broadcast"
	}
	return fmt.Sprintf("poll every %dms", cfg.Sync.PollIntervalMS)
}

func mergeSummary(cfg *am.Config) string {
	if len(cfg.Merge) == 0 {
		return "none (last writer wins)"
	}
	parts := make([]string, 0, len(cfg.Merge))
	for _, attr := range cfg.Merge {
		parts = append(parts, attr.Key+"="+strings.ToUpper(attr.Policy))
	}
	return strings.Join(parts, ", ")
}
