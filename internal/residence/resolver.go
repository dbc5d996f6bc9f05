package residence

import (
	"sort"
	"time"
)

type interval struct {
	start time.Time
	unit  string
}

// Resolver answers "which spatial unit was active for this identifier at
// date D". Built once per run; Resolve is read-only and safe for
// concurrent use.
type Resolver struct {
	timelines map[string][]interval
}

// NewResolver groups events by identifier and stable-sorts each group by
// effective date. When two events share an effective month, the later one
// in input order wins.
func NewResolver(events []Event) *Resolver {
	timelines := make(map[string][]interval)
	for _, ev := range events {
		timelines[ev.ID] = append(timelines[ev.ID], interval{start: ev.Effective, unit: ev.Unit})
	}
	for id, tl := range timelines {
		sort.SliceStable(tl, func(i, j int) bool {
			return tl[i].start.Before(tl[j].start)
		})
		timelines[id] = tl
	}
	return &Resolver{timelines: timelines}
}

// Empty reports whether the resolver carries any history at all.
func (r *Resolver) Empty() bool {
	return r == nil || len(r.timelines) == 0
}

// Units returns every spatial unit appearing in any timeline. Together
// with the observations' base units this bounds the set of units a run
// can ever resolve to.
func (r *Resolver) Units() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var units []string
	for _, tl := range r.timelines {
		for _, iv := range tl {
			if _, ok := seen[iv.unit]; !ok {
				seen[iv.unit] = struct{}{}
				units = append(units, iv.unit)
			}
		}
	}
	return units
}

// Resolve returns the spatial unit active for id at date. Identifiers
// with no history fall back to base. Dates before the earliest event
// resolve to the earliest event's unit (entry coverage is left-open).
func (r *Resolver) Resolve(id, base string, date time.Time) string {
	if r == nil {
		return base
	}
	tl := r.timelines[id]
	if len(tl) == 0 {
		return base
	}
	// Latest interval whose start is <= date.
	i := sort.Search(len(tl), func(i int) bool {
		return tl[i].start.After(date)
	})
	if i == 0 {
		return tl[0].unit
	}
	return tl[i-1].unit
}
