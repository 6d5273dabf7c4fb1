package analytics

import (
	"fmt"
	"time"

	"github.com/mailsift/mailsift/internal/model"
)

// Period is the bucket width of a timeline.
type Period string

const (
	Days   Period = "days"
	Weeks  Period = "weeks"
	Months Period = "months"
)

// ParsePeriod accepts days, weeks or months. The empty string means days.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", Days:
		return Days, nil
	case Weeks, Months:
		return Period(s), nil
	}
	return "", fmt.Errorf("unknown period %q (want days, weeks or months)", s)
}

// start truncates t to the beginning of its bucket. Weeks start on Monday.
func (p Period) start(t time.Time) time.Time {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case Weeks:
		offset := (int(t.Weekday()) + 6) % 7
		return t.AddDate(0, 0, -offset)
	case Months:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

func (p Period) next(t time.Time) time.Time {
	switch p {
	case Weeks:
		return t.AddDate(0, 0, 7)
	case Months:
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, 0, 1)
}

// Label formats a bucket start: 2006-01-02 for days, the Monday/Sunday span
// for weeks and 2006-01 for months.
func (p Period) Label(start time.Time) string {
	switch p {
	case Weeks:
		return start.Format(model.DateLayout) + "/" + start.AddDate(0, 0, 6).Format(model.DateLayout)
	case Months:
		return start.Format("2006-01")
	}
	return start.Format(model.DateLayout)
}

// buckets lists every bucket start from the one holding min to the one
// holding max, inclusive.
func (p Period) buckets(min, max time.Time) []time.Time {
	var out []time.Time
	for t, end := p.start(min), p.start(max); !t.After(end); t = p.next(t) {
		out = append(out, t)
	}
	return out
}
