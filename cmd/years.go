package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/stitch-cli/internal/measure"
)

var (
	yearsContextDir  string
	yearsMeasureType string
	yearsDateCol     string
	yearsUnitCol     string
	yearsValueCols   string
)

var yearsCmd = &cobra.Command{
	Use:   "years",
	Short: "List the yearly files detected in a measurement directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := measure.Open(
			pick(yearsContextDir, cfg.Context.Dir),
			pick(yearsMeasureType, cfg.Context.MeasureType),
			measure.Columns{
				Date:   pick(yearsDateCol, cfg.Context.DateCol),
				Unit:   pick(yearsUnitCol, cfg.Context.UnitCol),
				Values: splitCols(yearsValueCols),
			},
		)
		if err != nil {
			return err
		}

		for _, year := range store.Years() {
			path, _ := store.File(year)
			fmt.Printf("%d\t%s\n", year, path)
		}
		return nil
	},
}

func init() {
	f := yearsCmd.Flags()
	f.StringVar(&yearsContextDir, "context-dir", "", "directory of yearly measurement files")
	f.StringVar(&yearsMeasureType, "measure-type", "", "filename substring filter")
	f.StringVar(&yearsDateCol, "date-col", "", "date column in the measurement files")
	f.StringVar(&yearsUnitCol, "unit-col", "", "spatial-unit column in the measurement files")
	f.StringVar(&yearsValueCols, "value-cols", "", "comma-separated measurement value columns")
	rootCmd.AddCommand(yearsCmd)
}
