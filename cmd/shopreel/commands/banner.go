package commands

import (
	"fmt"

	"github.com/teranos/shopreel/logger"
	"github.com/teranos/shopreel/sym"
	"github.com/teranos/shopreel/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(verbosity int, dbPath string) {
	// ANSI escape codes
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	magenta := "\033[35m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔══════════════════════════════════════════════╗\n")
	fmt.Printf("   ║                                              ║\n")
	fmt.Printf("   ║    ███████ ██   ██  ██████  ██████           ║\n")
	fmt.Printf("   ║    ██      ██   ██ ██    ██ ██   ██          ║\n")
	fmt.Printf("   ║    ███████ ███████ ██    ██ ██████           ║\n")
	fmt.Printf("   ║         ██ ██   ██ ██    ██ ██               ║\n")
	fmt.Printf("   ║    ███████ ██   ██  ██████  ██               ║\n")
	fmt.Printf("   ║    ██████  ███████ ███████ ██                ║\n")
	fmt.Printf("   ║    ██   ██ ██      ██      ██                ║\n")
	fmt.Printf("   ║    ██████  █████   █████   ██                ║\n")
	fmt.Printf("   ║    ██   ██ ██      ██      ██                ║\n")
	fmt.Printf("   ║    ██   ██ ███████ ███████ ███████           ║\n")
	fmt.Printf("   ║                                              ║\n")
	fmt.Printf("   ║   %s👁%s Classify  %s✂%s Edit  %s✎%s Script  %s%s%s Reel     ║\n",
		blue, reset+cyan+bold, yellow, reset+cyan+bold, green, reset+cyan+bold, magenta, sym.Reel, reset+cyan+bold)
	fmt.Printf("   ║                                              ║\n")
	fmt.Printf("   ╚══════════════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ ShopReel Info ─────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Built:     %s\n", green, reset, versionInfo.BuildTime)
	fmt.Printf("%s│%s Verbosity: %s\n", green, reset, logger.LevelName(verbosity))
	if dbPath != "" {
		fmt.Printf("%s│%s Database:  %s\n", green, reset, dbPath)
	}
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s✨ Trigger reel jobs via POST /api/reel/jobs%s\n", yellow, bold, reset)
	fmt.Printf("%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}
