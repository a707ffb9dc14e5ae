// Package shiftcalendar indexes per-line break spans and shift windows and
// answers the working-time, active-shift, and last-ended-shift queries
// every engine needs (§4.3).
package shiftcalendar

import (
	"sort"
	"time"

	"github.com/magnaline/productiontelemetry/internal/domain"
)

// Index holds the merged break spans and sorted shift windows for every
// line. A new Index is built by config.Calendar.Refresh on its own
// scheduled task; engine ticks only read it and never trigger a rebuild.
type Index struct {
	breaksByLine map[string][]domain.BreakSpan // merged, disjoint, sorted by Start
	shiftsByLine map[string][]domain.ShiftWindow // sorted by Start, today+yesterday
}

// Build constructs an Index from the raw break rows and shift rows loaded
// for today and yesterday. Breaks are merged per line into disjoint
// intervals; shifts are sorted by start.
func Build(breaks []domain.BreakSpan, shifts []domain.ShiftWindow) *Index {
	idx := &Index{
		breaksByLine: map[string][]domain.BreakSpan{},
		shiftsByLine: map[string][]domain.ShiftWindow{},
	}
	byLine := map[string][]domain.BreakSpan{}
	for _, b := range breaks {
		if !b.IsActive {
			continue
		}
		byLine[b.LineID] = append(byLine[b.LineID], b)
	}
	for line, spans := range byLine {
		idx.breaksByLine[line] = mergeSpans(spans)
	}
	for _, s := range shifts {
		idx.shiftsByLine[s.LineID] = append(idx.shiftsByLine[s.LineID], s)
	}
	for line, ws := range idx.shiftsByLine {
		sorted := append([]domain.ShiftWindow(nil), ws...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
		idx.shiftsByLine[line] = sorted
	}
	return idx
}

// mergeSpans sorts break spans by start and merges overlapping/adjacent
// ones into disjoint [start,end) intervals.
func mergeSpans(spans []domain.BreakSpan) []domain.BreakSpan {
	sorted := append([]domain.BreakSpan(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var merged []domain.BreakSpan
	for _, s := range sorted {
		if len(merged) == 0 {
			merged = append(merged, s)
			continue
		}
		last := &merged[len(merged)-1]
		if !s.Start.After(last.End) {
			if s.End.After(last.End) {
				last.End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// WorkingMs returns (end-start) minus the overlap with every merged break
// on line, clamped at >= 0 (§4.3, P4).
func (idx *Index) WorkingMs(start, end time.Time, line string) time.Duration {
	total := end.Sub(start)
	if total < 0 {
		total = 0
	}
	var breakMs time.Duration
	for _, b := range idx.breaksByLine[line] {
		breakMs += overlap(start, end, b.Start, b.End)
	}
	working := total - breakMs
	if working < 0 {
		working = 0
	}
	return working
}

func overlap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}

// ActiveShift returns the single window with Start <= now < End, searching
// the line's indexed windows (yesterday's and today's) in start order (§4.3).
func (idx *Index) ActiveShift(line string, now time.Time) (domain.ShiftWindow, bool) {
	for _, w := range idx.shiftsByLine[line] {
		if w.Contains(now) {
			return w, true
		}
	}
	return domain.ShiftWindow{}, false
}

// LastEndedShift returns the most recent window with End <= now and
// (now - End) <= grace, or false if none qualifies (§4.3).
func (idx *Index) LastEndedShift(line string, now time.Time, grace time.Duration) (domain.ShiftWindow, bool) {
	var best domain.ShiftWindow
	found := false
	for _, w := range idx.shiftsByLine[line] {
		if w.End.After(now) {
			continue
		}
		if now.Sub(w.End) > grace {
			continue
		}
		if !found || w.End.After(best.End) {
			best = w
			found = true
		}
	}
	return best, found
}

// FindShift looks up a specific shift window by its identity (line, shift
// ID, local date), used by the production publisher to recover a closed
// shift's end time for BucketID derivation (§6).
func (idx *Index) FindShift(line, shiftID, shiftLocalDate string) (domain.ShiftWindow, bool) {
	for _, w := range idx.shiftsByLine[line] {
		if w.ShiftID == shiftID && w.ShiftLocalDate == shiftLocalDate {
			return w, true
		}
	}
	return domain.ShiftWindow{}, false
}

// ShiftsOnLine returns every known window on a line, sorted by start —
// used by the rollup engine's dense daily bootstrap (§4.4).
func (idx *Index) ShiftsOnLine(line string) []domain.ShiftWindow {
	return idx.shiftsByLine[line]
}
