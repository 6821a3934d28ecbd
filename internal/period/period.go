// Package period resolves and validates the billing period a run summarizes.
package period

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPeriod is returned (wrapped) for malformed billing periods.
var ErrInvalidPeriod = errors.New("invalid billing period")

// MaxDays is the longest billing period accepted, in days.
const MaxDays = 90

const dateLayout = "2006-01-02"

// Kind names how a billing period is derived.
type Kind string

const (
	CurrentMonth Kind = "current_month"
	LastMonth    Kind = "last_month"
	Last3Months  Kind = "last_3_months"
	Custom       Kind = "custom"
)

// BillingPeriod is an inclusive date range. Start and End are local-day dates.
type BillingPeriod struct {
	Start time.Time
	End   time.Time
}

// New validates start and end and returns the period truncated to whole days.
func New(start, end time.Time) (BillingPeriod, error) {
	p := BillingPeriod{Start: day(start), End: day(end)}
	if err := p.Validate(); err != nil {
		return BillingPeriod{}, err
	}
	return p, nil
}

// Validate checks start <= end and the 90 day ceiling.
func (p BillingPeriod) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidPeriod)
	}
	if p.Start.After(p.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidPeriod, p.Start.Format(dateLayout), p.End.Format(dateLayout))
	}
	if p.End.After(p.Start.AddDate(0, 0, MaxDays)) {
		return fmt.Errorf("%w: period %s exceeds 90 days", ErrInvalidPeriod, p)
	}
	return nil
}

// StartUnix is the first second of the start day, in the period's location.
func (p BillingPeriod) StartUnix() int64 {
	return p.Start.Unix()
}

// EndUnix is the last second of the end day, in the period's location.
func (p BillingPeriod) EndUnix() int64 {
	return p.End.AddDate(0, 0, 1).Add(-time.Second).Unix()
}

// Days counts the calendar days in the period, both ends included.
func (p BillingPeriod) Days() int {
	sy, sm, sd := p.Start.Date()
	ey, em, ed := p.End.Date()
	start := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	end := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours()/24) + 1
}

func (p BillingPeriod) String() string {
	return p.Start.Format(dateLayout) + " to " + p.End.Format(dateLayout)
}

// ParseKind validates a configured kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case CurrentMonth, LastMonth, Last3Months, Custom:
		return k, nil
	case "":
		return CurrentMonth, nil
	default:
		return "", fmt.Errorf("%w: unknown range %q", ErrInvalidPeriod, s)
	}
}

// ParseDate parses a YYYY-MM-DD date in the local zone.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: parse date %q: %v", ErrInvalidPeriod, s, err)
	}
	return t, nil
}

// Resolve computes the period for kind relative to now. start and end are only
// used by Custom.
func Resolve(kind Kind, now time.Time, start, end *time.Time) (BillingPeriod, error) {
	today := day(now)
	y, m, _ := today.Date()
	loc := today.Location()
	switch kind {
	case CurrentMonth, "":
		return New(time.Date(y, m, 1, 0, 0, 0, 0, loc), today)
	case LastMonth:
		first := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return New(first.AddDate(0, -1, 0), first.AddDate(0, 0, -1))
	case Last3Months:
		// the current month plus the two before it, clamped to MaxDays
		start := time.Date(y, m-2, 1, 0, 0, 0, 0, loc)
		if today.After(start.AddDate(0, 0, MaxDays)) {
			start = today.AddDate(0, 0, -MaxDays)
		}
		return New(start, today)
	case Custom:
		if start == nil || end == nil {
			return BillingPeriod{}, fmt.Errorf("%w: custom range requires both start and end", ErrInvalidPeriod)
		}
		return New(*start, *end)
	default:
		return BillingPeriod{}, fmt.Errorf("%w: unknown range %q", ErrInvalidPeriod, kind)
	}
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
