package linkage

import (
	"context"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/stitch-cli/internal/measure"
	"github.com/sells-group/stitch-cli/internal/residence"
	"github.com/sells-group/stitch-cli/internal/table"
)

// Options configures a linkage run.
type Options struct {
	IDCol   string
	DateCol string
	UnitCol string

	Lags            []int
	Parallel        bool
	MaxWorkers      int // 0 = GOMAXPROCS
	MemoryCeilingMB int
	UnitWidth       int // zero-pad numeric unit codes to this width; 0 = off
	KeepLagColumns  bool

	TempDir string // per-run artifact directory; caller owns its naming
}

// LagResult records one lag task's terminal state: DONE (Path set) or
// FAILED (Err set).
type LagResult struct {
	Lag       int
	Path      string
	Matched   int
	Unmatched int
	Err       error
}

// Orchestrator drives the full pipeline: validate, extract every lag
// through a bounded worker pool, then merge the per-lag artifacts onto
// the primary dataset.
type Orchestrator struct {
	primary  *table.Table
	resolver *residence.Resolver
	store    *measure.Store
	opts     Options
}

// New builds an orchestrator. resolver may be nil when no residence
// history was supplied; every resolve then falls back to the base unit.
func New(primary *table.Table, resolver *residence.Resolver, store *measure.Store, opts Options) *Orchestrator {
	return &Orchestrator{primary: primary, resolver: resolver, store: store, opts: opts}
}

// Run executes the pipeline and returns the linked table and run summary.
// Individual lag failures do not abort the run; they surface in the
// summary and as unmatched columns. A cancelled context aborts after
// in-flight lags finish and reports the run incomplete.
func (o *Orchestrator) Run(ctx context.Context) (*table.Table, *Summary, error) {
	log := zap.L().With(zap.String("component", "linkage.orchestrator"))

	// INIT
	obs, err := o.buildObservations()
	if err != nil {
		return nil, nil, err
	}
	o.store.SetUnitWidth(o.opts.UnitWidth)
	o.store.SetUnitFilter(o.unitUniverse(obs))

	workers := o.workerCount(obs)
	if err := os.MkdirAll(o.opts.TempDir, 0o755); err != nil {
		return nil, nil, eris.Wrapf(err, "linkage: create temp dir %s", o.opts.TempDir)
	}

	log.Info("starting linkage run",
		zap.Int("observations", obs.Len()),
		zap.Int("lags", len(o.opts.Lags)),
		zap.Bool("parallel", o.opts.Parallel),
		zap.Int("workers", workers),
		zap.String("temp_dir", o.opts.TempDir),
	)

	// EXTRACTING
	results := o.extractAll(ctx, obs, workers)

	summary := o.buildSummary(obs, workers, results)
	if err := ctx.Err(); err != nil {
		// Unstarted lags never launched; artifacts are retained for
		// diagnosis rather than merged into a silently partial result.
		summary.Log()
		return nil, summary, eris.Wrap(err, "linkage: run incomplete")
	}

	// MERGING
	linked, err := o.merge(obs, results)
	if err != nil {
		summary.Log()
		return nil, summary, err
	}

	// Artifacts are only diagnostic once merged.
	if err := os.RemoveAll(o.opts.TempDir); err != nil {
		log.Warn("failed to remove temp dir", zap.String("temp_dir", o.opts.TempDir), zap.Error(err))
	}

	summary.Log()
	return linked, summary, nil
}

// buildObservations validates the primary table and parses it once into
// the shared read-only view.
func (o *Orchestrator) buildObservations() (*Observations, error) {
	if len(o.opts.Lags) == 0 {
		return nil, table.NewConfigError(eris.New("linkage: no lag offsets requested"))
	}
	for _, lag := range o.opts.Lags {
		if lag < 0 {
			return nil, table.NewConfigError(eris.Errorf("linkage: negative lag offset %d", lag))
		}
	}
	if err := o.primary.Require(o.opts.IDCol, o.opts.DateCol, o.opts.UnitCol); err != nil {
		return nil, err
	}

	idIdx, _ := o.primary.ColIndex(o.opts.IDCol)
	dateIdx, _ := o.primary.ColIndex(o.opts.DateCol)
	unitIdx, _ := o.primary.ColIndex(o.opts.UnitCol)

	n := o.primary.Len()
	obs := &Observations{
		IDs:   make([]string, n),
		Dates: make([]time.Time, n),
		Units: make([]string, n),
	}
	seen := make(map[string]int, n)
	for r := 0; r < n; r++ {
		id := strings.TrimSpace(o.primary.Cell(r, idIdx))
		if id == "" {
			return nil, table.NewConfigError(eris.Errorf("linkage: row %d has empty identifier", r))
		}
		if prev, dup := seen[id]; dup {
			return nil, table.NewConfigError(eris.Errorf("linkage: duplicate identifier %q (rows %d and %d)", id, prev, r))
		}
		seen[id] = r

		date, ok := measure.ParseDate(o.primary.Cell(r, dateIdx))
		if !ok {
			return nil, table.NewConfigError(eris.Errorf("linkage: row %d has unparseable date %q in column %s", r, o.primary.Cell(r, dateIdx), o.opts.DateCol))
		}
		obs.IDs[r] = id
		obs.Dates[r] = date
		obs.Units[r] = measure.NormalizeUnit(o.primary.Cell(r, unitIdx), o.opts.UnitWidth)
	}
	return obs, nil
}

// unitUniverse is the superset of spatial units a run can resolve to:
// every base unit plus every unit in any residence timeline. Bounds the
// store's per-year cache.
func (o *Orchestrator) unitUniverse(obs *Observations) map[string]struct{} {
	units := make(map[string]struct{}, len(obs.Units))
	for _, u := range obs.Units {
		if u != "" {
			units[u] = struct{}{}
		}
	}
	for _, u := range o.resolver.Units() {
		if u = measure.NormalizeUnit(u, o.opts.UnitWidth); u != "" {
			units[u] = struct{}{}
		}
	}
	return units
}

// workerCount caps concurrency so worker count times the expected
// per-worker yearly-file cache stays under the memory ceiling.
func (o *Orchestrator) workerCount(obs *Observations) int {
	if !o.opts.Parallel {
		return 1
	}

	workers := o.opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if len(o.opts.Lags) < workers {
		workers = len(o.opts.Lags)
	}

	minYear, maxYear := o.requiredYearSpan(obs)
	// Per-worker cost: the largest yearly file in the span, doubled for
	// parse overhead.
	perWorker := o.store.LargestFileBytes(minYear, maxYear) * 2
	if perWorker > 0 && o.opts.MemoryCeilingMB > 0 {
		byMemory := int(int64(o.opts.MemoryCeilingMB) << 20 / perWorker)
		if byMemory < workers {
			workers = byMemory
		}
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// requiredYearSpan is the year range lag targets can fall into.
func (o *Orchestrator) requiredYearSpan(obs *Observations) (int, int) {
	if obs.Len() == 0 {
		return 0, 0
	}
	minDate, maxDate := obs.Dates[0], obs.Dates[0]
	for _, d := range obs.Dates[1:] {
		if d.Before(minDate) {
			minDate = d
		}
		if d.After(maxDate) {
			maxDate = d
		}
	}
	maxLag := 0
	for _, lag := range o.opts.Lags {
		if lag > maxLag {
			maxLag = lag
		}
	}
	return minDate.AddDate(0, 0, -maxLag).Year(), maxDate.Year()
}

// storePool hands out n store clones through a channel. Tasks borrow a
// clone and return it when done, so each clone's yearly-file cache serves
// every lag that runs on its worker slot, not just one.
func storePool(base *measure.Store, n int) chan *measure.Store {
	pool := make(chan *measure.Store, n)
	for i := 0; i < n; i++ {
		pool <- base.Clone()
	}
	return pool
}

// extractAll runs one task per lag through a bounded pool. Each task
// borrows a worker-slot store clone; task errors are recorded, never
// propagated, so one bad lag cannot abort the others.
func (o *Orchestrator) extractAll(ctx context.Context, obs *Observations, workers int) []LagResult {
	results := make([]LagResult, len(o.opts.Lags))
	clones := storePool(o.store, workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, lag := range o.opts.Lags {
		results[i].Lag = lag
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}

			store := <-clones
			defer func() { clones <- store }()

			ext := NewExtractor(obs, o.resolver, store, o.opts.IDCol, o.opts.DateCol, o.opts.UnitCol, o.opts.UnitWidth, o.opts.KeepLagColumns)
			ex, err := ext.Extract(gctx, lag)
			if err != nil {
				zap.L().Error("lag extraction failed", zap.Int("lag", lag), zap.Error(err))
				results[i].Err = err
				return nil
			}

			path, err := WriteArtifact(ex, o.opts.TempDir)
			if err != nil {
				zap.L().Error("lag artifact write failed", zap.Int("lag", lag), zap.Error(err))
				results[i].Err = err
				return nil
			}

			results[i].Path = path
			results[i].Matched = ex.Matched
			results[i].Unmatched = ex.Unmatched
			return nil
		})
	}

	_ = g.Wait() // tasks never return errors; Wait orders all writes to results
	return results
}

// merge left-joins every lag's artifact onto the primary table, in lag
// order regardless of completion order. Failed lags contribute columns
// filled with the unmatched marker.
func (o *Orchestrator) merge(obs *Observations, results []LagResult) (*table.Table, error) {
	sorted := append([]LagResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lag < sorted[j].Lag })

	rowOf := make(map[string]int, obs.Len())
	for i, id := range obs.IDs {
		rowOf[id] = i
	}

	linked := table.New(o.primary.Cols...)
	for r := range o.primary.Rows {
		row := make([]string, len(o.primary.Cols))
		for c := range o.primary.Cols {
			row[c] = o.primary.Cell(r, c)
		}
		linked.Append(row)
	}

	for _, res := range sorted {
		cols, values := o.emptyLagColumns(res.Lag, obs.Len())
		if res.Err == nil {
			art, err := ReadArtifact(res.Path)
			if err != nil {
				return nil, err
			}
			if err := fillFromArtifact(art, o.opts.IDCol, rowOf, cols, values); err != nil {
				return nil, eris.Wrapf(err, "linkage: merge lag %d", res.Lag)
			}
		}
		if err := linked.AppendColumns(cols, values); err != nil {
			return nil, eris.Wrapf(err, "linkage: merge lag %d", res.Lag)
		}
	}
	return linked, nil
}

// emptyLagColumns builds the lag's output column names and all-unmatched
// value slices.
func (o *Orchestrator) emptyLagColumns(lag, rows int) ([]string, [][]string) {
	var cols []string
	if o.opts.KeepLagColumns {
		cols = append(cols, LagColumn(o.opts.DateCol, lag), LagColumn(o.opts.UnitCol, lag))
	}
	for _, v := range o.store.Columns().Values {
		cols = append(cols, LagColumn(v, lag))
	}
	values := make([][]string, len(cols))
	for i := range values {
		values[i] = make([]string, rows)
	}
	return cols, values
}

// fillFromArtifact copies artifact cells into the pre-sized column
// slices, joining on identifier.
func fillFromArtifact(art *table.Table, idCol string, rowOf map[string]int, cols []string, values [][]string) error {
	if err := art.Require(append([]string{idCol}, cols...)...); err != nil {
		return err
	}
	idIdx, _ := art.ColIndex(idCol)
	colIdx := make([]int, len(cols))
	for i, c := range cols {
		colIdx[i], _ = art.ColIndex(c)
	}
	for r := range art.Rows {
		target, ok := rowOf[art.Cell(r, idIdx)]
		if !ok {
			continue // artifact row for an identifier not in the primary table
		}
		for i, c := range colIdx {
			values[i][target] = art.Cell(r, c)
		}
	}
	return nil
}

// buildSummary assembles the end-of-run report.
func (o *Orchestrator) buildSummary(obs *Observations, workers int, results []LagResult) *Summary {
	s := &Summary{
		Observations:  obs.Len(),
		LagsRequested: len(o.opts.Lags),
		Workers:       workers,
	}
	sorted := append([]LagResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lag < sorted[j].Lag })
	for _, res := range sorted {
		ls := LagSummary{Lag: res.Lag, Matched: res.Matched, Unmatched: res.Unmatched}
		if res.Err != nil {
			ls.Failed = true
			ls.Error = res.Err.Error()
			s.FailedLags = append(s.FailedLags, res.Lag)
		} else if total := res.Matched + res.Unmatched; total > 0 {
			ls.MatchRate = float64(res.Matched) / float64(total)
		}
		s.PerLag = append(s.PerLag, ls)
	}
	return s
}
