// Package measure represents a directory of yearly long-format
// measurement files and serves key-filtered lookups against them without
// loading more than the years a request actually touches.
package measure

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stitch-cli/internal/table"
)

var yearPattern = regexp.MustCompile(`\d{4}`)

// Columns names the layout of every yearly file. Files are addressed by
// column name, never position.
type Columns struct {
	Date   string
	Unit   string
	Values []string
}

// Key identifies one measurement record: a calendar day and a spatial
// unit. Date is normalized to "2006-01-02".
type Key struct {
	Date string
	Unit string
}

// NewKey builds a key from a parsed date.
func NewKey(date time.Time, unit string) Key {
	return Key{Date: date.Format("2006-01-02"), Unit: unit}
}

// Year returns the year component of the key's date.
func (k Key) Year() int {
	y, _ := strconv.Atoi(k.Date[:4])
	return y
}

// Store is one scanned measurement directory plus a lazy per-year cache.
// The cache is private to the Store: workers run on independent Clones so
// no locking is needed.
type Store struct {
	dir   string
	cols  Columns
	files map[int]fileInfo

	unitFilter map[string]struct{}
	unitWidth  int
	cache      map[int]map[Key][]string
}

type fileInfo struct {
	path string
	size int64
}

// Open scans dir for yearly measurement files whose name contains filter
// (when non-empty), extracts the 4-digit year from each filename, and
// validates that all in-scope files agree on column layout. Unsupported
// extensions are skipped with a warning. Any scan or layout problem is a
// ConfigError raised here, before extraction starts.
func Open(dir, filter string, cols Columns) (*Store, error) {
	log := zap.L().With(zap.String("component", "measure.store"))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, table.NewConfigError(eris.Wrapf(err, "measure: read directory %s", dir))
	}

	files := make(map[int]fileInfo)
	var reference []string
	var referenceFile string

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if filter != "" && !strings.Contains(name, filter) {
			continue
		}
		path := filepath.Join(dir, name)
		if !table.SupportedExt(name) {
			log.Warn("skipping file with unsupported extension", zap.String("file", name))
			continue
		}

		yearStr := yearPattern.FindString(name)
		if yearStr == "" {
			return nil, table.NewConfigError(eris.Errorf("measure: no 4-digit year in filename: %s", name))
		}
		year, _ := strconv.Atoi(yearStr)
		if prev, ok := files[year]; ok {
			return nil, table.NewConfigError(eris.Errorf("measure: duplicate year %d: %s and %s", year, filepath.Base(prev.path), name))
		}

		header, err := table.Header(path)
		if err != nil {
			return nil, table.NewConfigError(eris.Wrapf(err, "measure: read header of %s", name))
		}
		if err := requireCols(header, cols, name); err != nil {
			return nil, err
		}
		if reference == nil {
			reference = header
			referenceFile = name
		} else if !sameColumns(reference, header) {
			return nil, table.NewConfigError(eris.Errorf(
				"measure: column layout of %s (%v) differs from %s (%v)", name, header, referenceFile, reference))
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, table.NewConfigError(eris.Wrapf(err, "measure: stat %s", name))
		}
		files[year] = fileInfo{path: path, size: info.Size()}
	}

	if len(files) == 0 {
		return nil, table.NewConfigError(eris.Errorf("measure: no measurement files matching %q in %s", filter, dir))
	}

	log.Info("scanned measurement directory",
		zap.String("dir", dir),
		zap.String("filter", filter),
		zap.Int("files", len(files)),
	)
	return &Store{dir: dir, cols: cols, files: files}, nil
}

// Clone returns a store with the same scan state and an empty cache.
// Each worker owns a clone; caches are never shared.
func (s *Store) Clone() *Store {
	return &Store{
		dir:        s.dir,
		cols:       s.cols,
		files:      s.files,
		unitFilter: s.unitFilter,
		unitWidth:  s.unitWidth,
	}
}

// SetUnitFilter restricts loaded rows to the given spatial units. Set
// once before any Fetch; it bounds the per-year cache to the units a run
// can actually request.
func (s *Store) SetUnitFilter(units map[string]struct{}) {
	s.unitFilter = units
}

// SetUnitWidth enables zero-padding of numeric unit codes in loaded
// files. Set once before any Fetch, with the same width applied to the
// keys being fetched.
func (s *Store) SetUnitWidth(width int) {
	s.unitWidth = width
}

// Columns returns the configured layout.
func (s *Store) Columns() Columns {
	return s.cols
}

// Years lists the available years in ascending order.
func (s *Store) Years() []int {
	years := make([]int, 0, len(s.files))
	for y := range s.files {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// File returns the path of a year's file, if present.
func (s *Store) File(year int) (string, bool) {
	f, ok := s.files[year]
	return f.path, ok
}

// LargestFileBytes returns the size of the biggest file within
// [minYear, maxYear]. Used by the worker-count memory policy.
func (s *Store) LargestFileBytes(minYear, maxYear int) int64 {
	var max int64
	for y, f := range s.files {
		if y >= minYear && y <= maxYear && f.size > max {
			max = f.size
		}
	}
	return max
}

// Fetch returns the measurement values for every requested key that
// exists in the directory. Keys are partitioned by year; each needed
// yearly file is loaded at most once per store lifetime. Keys whose year
// has no file, or whose row is absent, are simply missing from the
// result.
func (s *Store) Fetch(ctx context.Context, keys map[Key]struct{}) (map[Key][]string, error) {
	byYear := make(map[int][]Key)
	for k := range keys {
		byYear[k.Year()] = append(byYear[k.Year()], k)
	}

	result := make(map[Key][]string)
	for year, yearKeys := range byYear {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "measure: fetch cancelled")
		}
		if _, ok := s.files[year]; !ok {
			continue // no file for this year; keys stay unmatched
		}
		rows, err := s.loadYear(year)
		if err != nil {
			return nil, err
		}
		for _, k := range yearKeys {
			if vals, ok := rows[k]; ok {
				result[k] = vals
			}
		}
	}
	return result, nil
}

// loadYear reads one yearly file into the cache, keeping only rows that
// pass the unit filter.
func (s *Store) loadYear(year int) (map[Key][]string, error) {
	if rows, ok := s.cache[year]; ok {
		return rows, nil
	}

	f := s.files[year]
	log := zap.L().With(zap.String("component", "measure.store"), zap.Int("year", year))
	log.Info("loading yearly file", zap.String("file", filepath.Base(f.path)))
	start := time.Now()

	t, err := table.Load(f.path)
	if err != nil {
		return nil, eris.Wrapf(err, "measure: load %s", f.path)
	}

	dateIdx, _ := t.ColIndex(s.cols.Date)
	unitIdx, _ := t.ColIndex(s.cols.Unit)
	valIdx := make([]int, len(s.cols.Values))
	for i, v := range s.cols.Values {
		valIdx[i], _ = t.ColIndex(v)
	}

	rows := make(map[Key][]string)
	for r := range t.Rows {
		unit := NormalizeUnit(t.Cell(r, unitIdx), s.unitWidth)
		if s.unitFilter != nil {
			if _, ok := s.unitFilter[unit]; !ok {
				continue
			}
		}
		date, ok := ParseDate(t.Cell(r, dateIdx))
		if !ok {
			return nil, eris.Errorf("measure: unparseable date %q in %s row %d", t.Cell(r, dateIdx), filepath.Base(f.path), r)
		}
		key := NewKey(date, unit)
		if _, dup := rows[key]; dup {
			return nil, eris.Errorf("measure: duplicate (date, unit) pair (%s, %s) in %s", key.Date, unit, filepath.Base(f.path))
		}
		vals := make([]string, len(valIdx))
		for i, c := range valIdx {
			vals[i] = t.Cell(r, c)
		}
		rows[key] = vals
	}

	if s.cache == nil {
		s.cache = make(map[int]map[Key][]string)
	}
	s.cache[year] = rows

	log.Info("yearly file loaded",
		zap.Int("rows_kept", len(rows)),
		zap.Int("rows_total", t.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return rows, nil
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"1/2/2006",
	"01/02/2006",
}

// NormalizeUnit zero-pads numeric-rendered spatial-unit codes to width
// digits, so codes that lost leading zeros in a numeric column still
// join ("1001020100" and "1001020100.0" both become "01001020100" at
// width 11). Zero width disables padding; non-numeric codes pass
// through trimmed.
func NormalizeUnit(s string, width int) string {
	s = strings.TrimSpace(s)
	if width <= 0 || s == "" {
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < 0 {
		return s
	}
	return fmt.Sprintf("%0*d", width, int64(f))
}

// ParseDate parses the date renderings accepted in measurement and
// observation files, at day precision.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func requireCols(header []string, cols Columns, file string) error {
	have := make(map[string]struct{}, len(header))
	for _, h := range header {
		have[h] = struct{}{}
	}
	var missing []string
	for _, want := range append([]string{cols.Date, cols.Unit}, cols.Values...) {
		if _, ok := have[want]; !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return table.NewConfigError(eris.Errorf("measure: %s missing column(s) %v (available: %v)", file, missing, header))
	}
	return nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
