package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nmoreno/subastas-monitor/internal/collector"
	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/portal"
	"github.com/nmoreno/subastas-monitor/internal/queue"
)

var (
	pollSessionPath string
	pollLight       bool
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the offer endpoint directly using a captured session",
	Long: `Polls BuscarOfertas over plain HTTP with cookies captured earlier by
the live subcommand. Lighter than a browser, but the session eventually
expires and must be recaptured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := pollSessionPath
		if path == "" {
			path = cfg.Collector.SessionPath
		}
		if path == "" {
			return fmt.Errorf("no session: pass --session or set collector.session_path")
		}

		session, err := portal.LoadSession(path)
		if err != nil {
			return err
		}

		client, err := portal.NewClient(session, portal.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("build portal client: %w", err)
		}

		pollCfg := collector.HTTPPollConfig{
			PollSeconds:            cfg.Collector.PollSeconds,
			MinPollSeconds:         cfg.Collector.MinPollSeconds,
			MaxPollSeconds:         cfg.Collector.MaxPollSeconds,
			Intensive:              !(pollLight || cfg.Collector.Light),
			Concurrency:            cfg.Collector.Concurrency,
			SessionExpiryThreshold: cfg.Collector.SessionExpiryThreshold,
		}

		logger.Info("polling with captured session",
			"session", path,
			"id_cot", session.IDCot,
			"items", len(session.Items),
			"intensive", pollCfg.Intensive,
		)

		return runPipeline(cmd.Context(), func(raw *queue.Bounded[event.Event], control *queue.Control) (collector.Collector, error) {
			return collector.NewHTTPPoll(pollCfg, session, client, raw, control, logger), nil
		})
	},
}

func init() {
	pollCmd.Flags().StringVar(&pollSessionPath, "session", "", "session file captured by the live subcommand")
	pollCmd.Flags().BoolVar(&pollLight, "light", false, "poll one line item per tick instead of all")
}
