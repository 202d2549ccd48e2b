package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the startup banner for one node and logs the
// structured startup record.
func PrintBanner(node string, config *Config, logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("DSPIDER")
	b.PrintCenteredText("Distributed Recruitment Spider")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Node", node, 15)
	b.PrintKeyValue("Version", GetVersion(), 15)
	b.PrintKeyValue("Environment", config.Environment, 15)
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("node", node).
		Str("version", GetVersion()).
		Str("environment", config.Environment).
		Msg("Node started")
}
