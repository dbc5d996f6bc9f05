// Package residence decodes residence-change histories and answers which
// spatial unit was active for an identifier at any date.
package residence

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stitch-cli/internal/table"
)

// Kind tags a residence event. The source encodes these as magic values
// (a moved mark on the move-indicator column, a first-tract sentinel on
// the move-year column); the tag replaces them at load time.
type Kind int

const (
	// Entry marks the first known residence for an identifier. Coverage
	// is left-open: dates before the entry resolve to the entry's unit.
	Entry Kind = iota
	// Move marks a change of residence effective at (year, month).
	Move
)

func (k Kind) String() string {
	if k == Entry {
		return "entry"
	}
	return "move"
}

// Event is one decoded residence-history row.
type Event struct {
	ID        string
	Kind      Kind
	Effective time.Time // first day of the effective month
	Unit      string
}

// Source names the five history columns and the two sentinel values of
// the external format.
type Source struct {
	IDCol         string
	MoveCol       string
	YearCol       string
	MonthCol      string
	UnitCol       string
	SurveyYearCol string
	MovedMark     string
	FirstMark     string
}

// Decode translates a residence-history table into events. A row whose
// move-year cell equals the first-tract sentinel is an Entry effective in
// January of its survey year; a row whose move-indicator cell equals the
// moved mark is a Move effective at (move year, move month). Rows
// matching neither are skipped. Missing or invalid months default to
// January.
func Decode(t *table.Table, src Source) ([]Event, error) {
	if err := t.Require(src.IDCol, src.MoveCol, src.YearCol, src.MonthCol, src.UnitCol, src.SurveyYearCol); err != nil {
		return nil, err
	}

	idIdx, _ := t.ColIndex(src.IDCol)
	moveIdx, _ := t.ColIndex(src.MoveCol)
	yearIdx, _ := t.ColIndex(src.YearCol)
	monthIdx, _ := t.ColIndex(src.MonthCol)
	unitIdx, _ := t.ColIndex(src.UnitCol)
	surveyIdx, _ := t.ColIndex(src.SurveyYearCol)

	var (
		events  []Event
		skipped int
	)
	for r := range t.Rows {
		id := strings.TrimSpace(t.Cell(r, idIdx))
		unit := strings.TrimSpace(t.Cell(r, unitIdx))
		if id == "" {
			skipped++
			continue
		}

		switch {
		case sentinelEqual(t.Cell(r, yearIdx), src.FirstMark):
			year, ok := parseYear(t.Cell(r, surveyIdx))
			if !ok {
				return nil, table.NewConfigError(eris.Errorf("residence: row %d: entry event has unparseable survey year %q", r, t.Cell(r, surveyIdx)))
			}
			events = append(events, Event{
				ID:        id,
				Kind:      Entry,
				Effective: monthStart(year, 1),
				Unit:      unit,
			})
		case strings.TrimSpace(t.Cell(r, moveIdx)) == src.MovedMark:
			year, ok := parseYear(t.Cell(r, yearIdx))
			if !ok {
				return nil, table.NewConfigError(eris.Errorf("residence: row %d: move event has unparseable year %q", r, t.Cell(r, yearIdx)))
			}
			events = append(events, Event{
				ID:        id,
				Kind:      Move,
				Effective: monthStart(year, parseMonth(t.Cell(r, monthIdx))),
				Unit:      unit,
			})
		default:
			skipped++
		}
	}

	if skipped > 0 {
		zap.L().Debug("residence history rows skipped",
			zap.Int("skipped", skipped),
			zap.Int("decoded", len(events)),
		)
	}
	return events, nil
}

func monthStart(year, month int) time.Time {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}

// parseYear accepts integer and float renderings ("2011", "2011.0").
func parseYear(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	y := int(f)
	if y < 1000 || y > 9999 {
		return 0, false
	}
	return y, true
}

// parseMonth defaults to January for blank or out-of-range values.
func parseMonth(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 1
	}
	m := int(f)
	if m < 1 || m > 12 {
		return 1
	}
	return m
}

// sentinelEqual compares a cell against a sentinel, numerically when both
// parse as numbers ("999" matches "999.0"), by trimmed string otherwise.
func sentinelEqual(cell, mark string) bool {
	if mark == "" {
		return false
	}
	cell = strings.TrimSpace(cell)
	if cell == mark {
		return true
	}
	cf, cerr := strconv.ParseFloat(cell, 64)
	mf, merr := strconv.ParseFloat(mark, 64)
	return cerr == nil && merr == nil && cf == mf
}
