package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nmoreno/subastas-monitor/internal/export"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <id_cot>",
	Short: "Export the cost sheet of an auction as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		rows, err := export.BuildRows(ctx, st, args[0])
		if err != nil {
			return err
		}

		out := os.Stdout
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		if err := export.WriteCSV(out, rows); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		logger.Info("cost sheet exported", "id_cot", args[0], "rows", len(rows))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <id_cot> <file.csv>",
	Short: "Import a cost sheet CSV into an auction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("open csv: %w", err)
		}
		defer f.Close()

		rows, err := export.ReadCSV(f)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		if err := export.ApplyRows(ctx, st, args[0], rows); err != nil {
			return err
		}
		logger.Info("cost sheet imported", "id_cot", args[0], "rows", len(rows))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
}
