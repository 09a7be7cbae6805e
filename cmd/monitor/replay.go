package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nmoreno/subastas-monitor/internal/collector"
	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/queue"
	"github.com/nmoreno/subastas-monitor/internal/scenario"
)

var replaySpeed float64

var replayCmd = &cobra.Command{
	Use:   "replay [scenario.json]",
	Short: "Replay a recorded auction scenario through the pipeline",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Collector.ScenarioPath
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("no scenario: pass a file argument or set collector.scenario_path")
		}

		scn, err := scenario.Load(path)
		if err != nil {
			return fmt.Errorf("load scenario: %w", err)
		}

		speed := replaySpeed
		if speed == 0 {
			speed = cfg.Collector.Speed
		}
		logger.Info("replaying scenario",
			"file", path,
			"name", scn.Name,
			"id_cot", scn.Subasta.IDCot,
			"speed", speed,
		)

		return runPipeline(cmd.Context(), func(raw *queue.Bounded[event.Event], control *queue.Control) (collector.Collector, error) {
			return collector.NewReplay(collector.ReplayConfig{Speed: speed}, scn, raw, control, logger), nil
		})
	},
}

func init() {
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 0, "playback speed multiplier (0 = config value)")
}
