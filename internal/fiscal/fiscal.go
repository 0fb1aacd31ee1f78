package fiscal

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Year identifies a fiscal year by the calendar year it starts in.
// Fiscal years run June 1 through May 31 of the following calendar year.
// All boundary math is done in UTC so that every process instance agrees
// on which side of June 1 a timestamp falls.
type Year int

// startMonth is the first month of a fiscal year.
const startMonth = time.June

// YearOf returns the fiscal year containing t.
// June through December of calendar year Y map to fiscal year Y;
// January through May map to fiscal year Y-1.
func YearOf(t time.Time) Year {
	t = t.UTC()
	if t.Month() >= startMonth {
		return Year(t.Year())
	}
	return Year(t.Year() - 1)
}

// Parse converts a label of the form "<start>_<start+1>" into a Year.
func Parse(label string) (Year, error) {
	start, end, ok := strings.Cut(label, "_")
	if !ok {
		return 0, fmt.Errorf("fiscal year label %q is not of the form <start>_<end>", label)
	}
	startYear, err := strconv.Atoi(start)
	if err != nil {
		return 0, fmt.Errorf("fiscal year label %q has non-numeric start year", label)
	}
	endYear, err := strconv.Atoi(end)
	if err != nil {
		return 0, fmt.Errorf("fiscal year label %q has non-numeric end year", label)
	}
	if endYear != startYear+1 {
		return 0, fmt.Errorf("fiscal year label %q must span consecutive years", label)
	}
	if startYear < 1 {
		return 0, fmt.Errorf("fiscal year label %q has an implausible start year", label)
	}
	return Year(startYear), nil
}

// Label returns the "<start>_<end>" form, e.g. "2024_2025".
func (y Year) Label() string {
	return fmt.Sprintf("%d_%d", int(y), int(y)+1)
}

// Start returns June 1 00:00:00 UTC of the starting calendar year.
func (y Year) Start() time.Time {
	return time.Date(int(y), startMonth, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the exclusive upper bound, June 1 00:00:00 UTC of the
// following calendar year.
func (y Year) End() time.Time {
	return y.Next().Start()
}

// Contains reports whether t falls within the fiscal year.
func (y Year) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(y.Start()) && t.Before(y.End())
}

// Next returns the following fiscal year.
func (y Year) Next() Year {
	return y + 1
}

// Prev returns the preceding fiscal year.
func (y Year) Prev() Year {
	return y - 1
}

func (y Year) String() string {
	return y.Label()
}
