package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/stitch-cli/internal/linkage"
	"github.com/sells-group/stitch-cli/internal/measure"
	"github.com/sells-group/stitch-cli/internal/residence"
	"github.com/sells-group/stitch-cli/internal/table"
)

var (
	linkData        string
	linkContextDir  string
	linkOutput      string
	linkSummary     string
	linkIDCol       string
	linkDateCol     string
	linkUnitCol     string
	linkCtxDateCol  string
	linkCtxUnitCol  string
	linkValueCols   string
	linkMeasureType string
	linkLags        int
	linkLagList     string
	linkParallel    bool
	linkMaxWorkers  int
	linkMemoryMB    int
	linkUnitWidth   int
	linkKeepLagCols bool
	linkTempDir     string
	linkPGURL       string
	linkPGTable     string
	linkPGSchema    string

	linkHistory       string
	linkHistIDCol     string
	linkHistMoveCol   string
	linkHistYearCol   string
	linkHistMonthCol  string
	linkHistUnitCol   string
	linkHistSurveyCol string
	linkHistMovedMark string
	linkHistFirstMark string
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link lagged daily measures to the primary dataset",
	Long: `Run the full linkage pipeline: for every requested lag, compute each
observation's n-day-prior date and spatial unit (following residence
history when provided), extract the matching measurement rows from the
yearly context directory, and merge one column set per lag onto the
primary dataset.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := linkOptions()
		if err != nil {
			return err
		}
		log := zap.L().With(zap.String("command", "link"))

		primary, err := table.Load(pick(linkData, cfg.Data.Path))
		if err != nil {
			return eris.Wrap(err, "link: load primary dataset")
		}

		resolver, err := loadResolver()
		if err != nil {
			return err
		}

		store, err := measure.Open(
			pick(linkContextDir, cfg.Context.Dir),
			pick(linkMeasureType, cfg.Context.MeasureType),
			measure.Columns{
				Date:   pick(linkCtxDateCol, cfg.Context.DateCol),
				Unit:   pick(linkCtxUnitCol, cfg.Context.UnitCol),
				Values: splitCols(linkValueCols),
			},
		)
		if err != nil {
			return err
		}

		linked, summary, runErr := linkage.New(primary, resolver, store, opts).Run(ctx)

		if path := pick(linkSummary, cfg.Output.SummaryPath); path != "" && summary != nil {
			if err := summary.Write(path); err != nil {
				log.Warn("failed to write summary", zap.Error(err))
			}
		}
		if runErr != nil {
			return runErr
		}

		output := pick(linkOutput, cfg.Output.Path)
		if output != "" {
			if err := table.Save(linked, output); err != nil {
				return eris.Wrap(err, "link: save output")
			}
			log.Info("linked dataset written", zap.String("path", output))
		}

		if pgURL := pick(linkPGURL, cfg.Output.PostgresURL); pgURL != "" {
			if err := copyToPostgres(ctx, pgURL, linked); err != nil {
				return err
			}
		}

		return nil
	},
}

func init() {
	f := linkCmd.Flags()
	f.StringVar(&linkData, "data", "", "path to the primary dataset (csv, tsv, xlsx, db)")
	f.StringVar(&linkContextDir, "context-dir", "", "directory of yearly measurement files")
	f.StringVar(&linkOutput, "output", "", "path for the linked output table")
	f.StringVar(&linkSummary, "summary", "", "optional path for the YAML run summary")
	f.StringVar(&linkIDCol, "id-col", "", "identifier column in the primary dataset")
	f.StringVar(&linkDateCol, "date-col", "", "reference date column in the primary dataset")
	f.StringVar(&linkUnitCol, "unit-col", "", "spatial-unit column in the primary dataset")
	f.StringVar(&linkCtxDateCol, "context-date-col", "", "date column in the measurement files")
	f.StringVar(&linkCtxUnitCol, "context-unit-col", "", "spatial-unit column in the measurement files")
	f.StringVar(&linkValueCols, "value-cols", "", "comma-separated measurement value columns")
	f.StringVar(&linkMeasureType, "measure-type", "", "filename substring filter for the context directory")
	f.IntVar(&linkLags, "lags", -1, "number of lags to process (0..N-1 days)")
	f.StringVar(&linkLagList, "lag-list", "", "explicit comma-separated lag offsets (overrides --lags)")
	f.BoolVar(&linkParallel, "parallel", false, "extract lags in parallel")
	f.IntVar(&linkMaxWorkers, "max-workers", -1, "worker cap (0 = GOMAXPROCS)")
	f.IntVar(&linkMemoryMB, "memory-ceiling-mb", -1, "memory ceiling for the worker-count policy")
	f.IntVar(&linkUnitWidth, "unit-width", -1, "zero-pad numeric spatial-unit codes to this width (0 = off)")
	f.BoolVar(&linkKeepLagCols, "include-lag-date", false, "keep per-lag date/unit columns in the output")
	f.StringVar(&linkTempDir, "temp-dir", "", "base directory for intermediate lag artifacts")
	f.StringVar(&linkPGURL, "pg-url", "", "optional Postgres URL to COPY the result into")
	f.StringVar(&linkPGTable, "pg-table", "", "target Postgres table")
	f.StringVar(&linkPGSchema, "pg-schema", "", "target Postgres schema")

	f.StringVar(&linkHistory, "history", "", "optional residence-history file")
	f.StringVar(&linkHistIDCol, "hist-id-col", "", "identifier column in the history file")
	f.StringVar(&linkHistMoveCol, "hist-move-col", "", "move-indicator column in the history file")
	f.StringVar(&linkHistYearCol, "hist-year-col", "", "move-year column in the history file")
	f.StringVar(&linkHistMonthCol, "hist-month-col", "", "move-month column in the history file")
	f.StringVar(&linkHistUnitCol, "hist-unit-col", "", "spatial-unit column in the history file")
	f.StringVar(&linkHistSurveyCol, "hist-survey-year-col", "", "survey-year column in the history file")
	f.StringVar(&linkHistMovedMark, "hist-moved-mark", "", "source value marking a move row")
	f.StringVar(&linkHistFirstMark, "hist-first-mark", "", "source value marking a first-tract row")

	rootCmd.AddCommand(linkCmd)
}

// pick prefers the flag value and falls back to configuration.
func pick(flag, conf string) string {
	if flag != "" {
		return flag
	}
	return conf
}

func pickInt(flag, conf int) int {
	if flag >= 0 {
		return flag
	}
	return conf
}

// splitCols parses a comma-separated column list, falling back to the
// configured list when the flag is empty.
func splitCols(flag string) []string {
	raw := pick(flag, strings.Join(cfg.Context.ValueCols, ","))
	var cols []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

func linkOptions() (linkage.Options, error) {
	lags, err := lagOffsets()
	if err != nil {
		return linkage.Options{}, err
	}

	base := pick(linkTempDir, cfg.Link.TempDir)
	if base == "" {
		base = os.TempDir()
	}

	return linkage.Options{
		IDCol:           pick(linkIDCol, cfg.Data.IDCol),
		DateCol:         pick(linkDateCol, cfg.Data.DateCol),
		UnitCol:         pick(linkUnitCol, cfg.Data.UnitCol),
		Lags:            lags,
		Parallel:        linkParallel || cfg.Link.Parallel,
		MaxWorkers:      pickInt(linkMaxWorkers, cfg.Link.MaxWorkers),
		MemoryCeilingMB: pickInt(linkMemoryMB, cfg.Link.MemoryCeilingMB),
		UnitWidth:       pickInt(linkUnitWidth, cfg.Link.UnitWidth),
		KeepLagColumns:  linkKeepLagCols || cfg.Link.KeepLagColumns,
		TempDir:         filepath.Join(base, "stitch-"+uuid.NewString()),
	}, nil
}

func lagOffsets() ([]int, error) {
	if list := linkLagList; list != "" {
		var lags []int
		for _, s := range strings.Split(list, ",") {
			lag, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return nil, eris.Wrapf(err, "link: parse lag offset %q", s)
			}
			lags = append(lags, lag)
		}
		return lags, nil
	}
	if len(cfg.Link.LagList) > 0 && linkLags < 0 {
		return cfg.Link.LagList, nil
	}

	n := pickInt(linkLags, cfg.Link.Lags)
	lags := make([]int, n)
	for i := range lags {
		lags[i] = i
	}
	return lags, nil
}

func loadResolver() (*residence.Resolver, error) {
	path := pick(linkHistory, cfg.History.Path)
	if path == "" {
		return nil, nil
	}

	hist, err := table.Load(path)
	if err != nil {
		return nil, eris.Wrap(err, "link: load residence history")
	}

	events, err := residence.Decode(hist, residence.Source{
		IDCol:         pick(linkHistIDCol, cfg.History.IDCol),
		MoveCol:       pick(linkHistMoveCol, cfg.History.MoveCol),
		YearCol:       pick(linkHistYearCol, cfg.History.YearCol),
		MonthCol:      pick(linkHistMonthCol, cfg.History.MonthCol),
		UnitCol:       pick(linkHistUnitCol, cfg.History.UnitCol),
		SurveyYearCol: pick(linkHistSurveyCol, cfg.History.SurveyYearCol),
		MovedMark:     pick(linkHistMovedMark, cfg.History.MovedMark),
		FirstMark:     pick(linkHistFirstMark, cfg.History.FirstMark),
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("residence history loaded", zap.Int("events", len(events)))
	return residence.NewResolver(events), nil
}

func copyToPostgres(ctx context.Context, pgURL string, linked *table.Table) error {
	name := pick(linkPGTable, cfg.Output.Table)
	if name == "" {
		return eris.New("link: --pg-table required with --pg-url")
	}

	pool, err := pgxpool.New(ctx, pgURL)
	if err != nil {
		return eris.Wrap(err, "link: connect postgres")
	}
	defer pool.Close()

	n, err := table.CopyTable(ctx, pool, pick(linkPGSchema, cfg.Output.Schema), name, linked)
	if err != nil {
		return err
	}
	zap.L().Info("linked dataset copied to postgres",
		zap.String("table", name),
		zap.Int64("rows", n),
	)
	return nil
}
