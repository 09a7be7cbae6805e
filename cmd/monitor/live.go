package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nmoreno/subastas-monitor/internal/collector"
	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/queue"
)

var (
	liveURL      string
	liveHeadless bool
	liveSession  string
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Monitor a live auction through a Chrome session",
	Long: `Opens the auction page in Chrome, captures its structure and session
cookies, and polls the offer endpoint from inside the page. Pass
--session to also write the captured session for the poll subcommand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url := liveURL
		if url == "" {
			url = cfg.Collector.AuctionURL
		}
		if url == "" {
			return fmt.Errorf("no auction: pass --url or set collector.auction_url")
		}

		sessionPath := liveSession
		if sessionPath == "" {
			sessionPath = cfg.Collector.SessionPath
		}

		headless := liveHeadless || cfg.Collector.Headless

		logger.Info("live monitoring", "url", url, "headless", headless)

		return runPipeline(cmd.Context(), func(raw *queue.Bounded[event.Event], control *queue.Control) (collector.Collector, error) {
			return collector.NewBrowser(collector.BrowserConfig{
				AuctionURL:  url,
				Headless:    headless,
				PollSeconds: cfg.Collector.PollSeconds,
				SessionPath: sessionPath,
			}, raw, control, logger), nil
		})
	},
}

func init() {
	liveCmd.Flags().StringVar(&liveURL, "url", "", "auction page URL (overrides config)")
	liveCmd.Flags().BoolVar(&liveHeadless, "headless", false, "run Chrome headless")
	liveCmd.Flags().StringVar(&liveSession, "session", "", "write the captured session to this file")
}
