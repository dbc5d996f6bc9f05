package linkage

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stitch-cli/internal/measure"
	"github.com/sells-group/stitch-cli/internal/residence"
	"github.com/sells-group/stitch-cli/internal/table"
)

// Observations is the read-only primary-dataset view shared by all lag
// tasks: identifiers, reference dates, and base spatial units, aligned by
// index. Parsed once during INIT.
type Observations struct {
	IDs   []string
	Dates []time.Time
	Units []string
}

// Len returns the observation count.
func (o *Observations) Len() int {
	return len(o.IDs)
}

// Extract is the result of one lag: a table keyed by identifier plus
// match accounting. Unmatched cells are empty. Keys counts the distinct
// (date, unit) pairs actually fetched, never more than the observation
// count.
type Extract struct {
	Lag       int
	Keys      int
	Matched   int
	Unmatched int
	Table     *table.Table
}

// Extractor produces the extract for single lag offsets. Each worker owns
// one Extractor with its own store clone; the observations and resolver
// are shared read-only.
type Extractor struct {
	obs      *Observations
	resolver *residence.Resolver
	store    *measure.Store

	idCol     string
	dateCol   string
	unitCol   string
	unitWidth int
	keep      bool // keep lag-date/lag-unit columns in the extract
}

// NewExtractor builds an extractor over the given observation view.
func NewExtractor(obs *Observations, resolver *residence.Resolver, store *measure.Store, idCol, dateCol, unitCol string, unitWidth int, keepLagColumns bool) *Extractor {
	return &Extractor{
		obs:       obs,
		resolver:  resolver,
		store:     store,
		idCol:     idCol,
		dateCol:   dateCol,
		unitCol:   unitCol,
		unitWidth: unitWidth,
		keep:      keepLagColumns,
	}
}

// Extract computes the lag's (target date, target unit) key per
// observation, deduplicates the key set, fetches the matching measurement
// rows once, and fans the fetched values back out onto every observation
// that requested each key.
func (e *Extractor) Extract(ctx context.Context, lag int) (*Extract, error) {
	n := e.obs.Len()
	targetKeys := make([]measure.Key, n)
	wantFetch := make(map[measure.Key]struct{}, n)

	for i := 0; i < n; i++ {
		target := TargetDate(e.obs.Dates[i], lag)
		unit := measure.NormalizeUnit(e.resolver.Resolve(e.obs.IDs[i], e.obs.Units[i], target), e.unitWidth)
		key := measure.NewKey(target, unit)
		targetKeys[i] = key
		if unit != "" {
			wantFetch[key] = struct{}{}
		}
	}

	records, err := e.store.Fetch(ctx, wantFetch)
	if err != nil {
		return nil, eris.Wrapf(err, "linkage: fetch lag %d", lag)
	}

	valueCols := e.store.Columns().Values
	cols := []string{e.idCol}
	if e.keep {
		cols = append(cols, LagColumn(e.dateCol, lag), LagColumn(e.unitCol, lag))
	}
	for _, v := range valueCols {
		cols = append(cols, LagColumn(v, lag))
	}

	ex := &Extract{Lag: lag, Keys: len(wantFetch), Table: table.New(cols...)}
	for i := 0; i < n; i++ {
		row := make([]string, 0, len(cols))
		row = append(row, e.obs.IDs[i])
		if e.keep {
			row = append(row, targetKeys[i].Date, targetKeys[i].Unit)
		}
		if vals, ok := records[targetKeys[i]]; ok {
			row = append(row, vals...)
			ex.Matched++
		} else {
			row = append(row, make([]string, len(valueCols))...)
			ex.Unmatched++
		}
		ex.Table.Append(row)
	}

	zap.L().Debug("lag extracted",
		zap.Int("lag", lag),
		zap.Int("keys", len(wantFetch)),
		zap.Int("matched", ex.Matched),
		zap.Int("unmatched", ex.Unmatched),
	)
	return ex, nil
}

// WriteArtifact persists an extract as a sqlite table under dir and
// returns its path.
func WriteArtifact(ex *Extract, dir string) (string, error) {
	path := filepath.Join(dir, ArtifactName(ex.Lag))
	if err := table.Save(ex.Table, path); err != nil {
		return "", eris.Wrapf(err, "linkage: write artifact for lag %d", ex.Lag)
	}
	return path, nil
}

// ReadArtifact loads a persisted extract table.
func ReadArtifact(path string) (*table.Table, error) {
	t, err := table.Load(path)
	if err != nil {
		return nil, eris.Wrapf(err, "linkage: read artifact %s", path)
	}
	return t, nil
}
