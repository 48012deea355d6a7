// Package timewindow is the one shared implementation of date/time interval
// arithmetic. Every admissibility check in the engine goes through
// Window.Overlaps so item, computer and quota logic cannot drift apart.
package timewindow

import (
	"fmt"
	"time"

	"BRMS-backend/internal/reserve_mgmt/apierr"
)

const (
	DateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Window is a half-open interval: an inclusive calendar-date range plus an
// optional minutes-of-day range [TimeFrom, TimeTo). Windows without a time
// component occupy their dates whole-day.
type Window struct {
	DateFrom time.Time // midnight UTC
	DateTo   time.Time // midnight UTC, >= DateFrom
	TimeFrom int       // minutes of day, valid only when Timed
	TimeTo   int
	Timed    bool
}

// Policy is the per-resource-kind validation rule set, built from deployment
// config.
type Policy struct {
	RequireTimes bool
	SameDay      bool // window must start and end on one date
	CloseMinute  int  // latest allowed TimeTo; 0 = no bound
	MaxMinutes   int  // max TimeTo-TimeFrom; 0 = no bound
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ParseTimeOfDay parses "HH:MM" into minutes since midnight.
func ParseTimeOfDay(s string) (int, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func FormatTimeOfDay(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// New builds a Window from wire-format strings. timeFrom/timeTo must both be
// given or both be empty.
func New(dateFrom, dateTo, timeFrom, timeTo string) (Window, error) {
	df, err := ParseDate(dateFrom)
	if err != nil {
		return Window{}, apierr.InvalidWindow("date_from must be YYYY-MM-DD")
	}
	dt, err := ParseDate(dateTo)
	if err != nil {
		return Window{}, apierr.InvalidWindow("date_to must be YYYY-MM-DD")
	}
	if df.After(dt) {
		return Window{}, apierr.InvalidWindow("date_from is after date_to").
			WithDetail("date_from", dateFrom).
			WithDetail("date_to", dateTo)
	}

	w := Window{DateFrom: df, DateTo: dt}
	if timeFrom == "" && timeTo == "" {
		return w, nil
	}
	if timeFrom == "" || timeTo == "" {
		return Window{}, apierr.InvalidWindow("time_from and time_to must be given together")
	}
	tf, err := ParseTimeOfDay(timeFrom)
	if err != nil {
		return Window{}, apierr.InvalidWindow("time_from must be HH:MM")
	}
	tt, err := ParseTimeOfDay(timeTo)
	if err != nil {
		return Window{}, apierr.InvalidWindow("time_to must be HH:MM")
	}
	if tf >= tt {
		return Window{}, apierr.InvalidWindow("time_from must be before time_to").
			WithDetail("time_from", timeFrom).
			WithDetail("time_to", timeTo)
	}
	w.TimeFrom, w.TimeTo, w.Timed = tf, tt, true
	return w, nil
}

// Validate applies the resource-kind policy on top of the structural checks
// done by New.
func (w Window) Validate(p Policy) error {
	if p.RequireTimes && !w.Timed {
		return apierr.InvalidWindow("time_from and time_to are required for this resource")
	}
	if p.SameDay && !w.DateFrom.Equal(w.DateTo) {
		return apierr.InvalidWindow("window must start and end on the same date").
			WithDetail("date_from", w.DateFromString()).
			WithDetail("date_to", w.DateToString())
	}
	if !w.Timed {
		return nil
	}
	if p.MaxMinutes > 0 && w.TimeTo-w.TimeFrom > p.MaxMinutes {
		return apierr.InvalidWindow("session exceeds the maximum duration").
			WithDetail("max_minutes", p.MaxMinutes)
	}
	if p.CloseMinute > 0 && w.TimeTo > p.CloseMinute {
		return apierr.InvalidWindow("window ends after closing time").
			WithDetail("closes_at", FormatTimeOfDay(p.CloseMinute))
	}
	return nil
}

// Overlaps reports whether the two windows occupy a common instant. Date
// ranges are inclusive; when both windows carry times the minutes-of-day
// ranges are compared half-open, so back-to-back sessions do not conflict.
// If either side has no time component the shared dates conflict whole-day.
func (w Window) Overlaps(o Window) bool {
	if w.DateFrom.After(o.DateTo) || o.DateFrom.After(w.DateTo) {
		return false
	}
	if w.Timed && o.Timed {
		return w.TimeFrom < o.TimeTo && o.TimeFrom < w.TimeTo
	}
	return true
}

// ExtendTo returns a copy of w ending at the new date. Used for renewals,
// where only the extension tail needs a fresh admissibility check.
func (w Window) ExtendTo(newDateTo time.Time) Window {
	w.DateTo = newDateTo
	return w
}

func (w Window) DateFromString() string { return w.DateFrom.Format(DateLayout) }
func (w Window) DateToString() string   { return w.DateTo.Format(DateLayout) }

// TimeStrings returns the wire representation of the time range, empty when
// untimed.
func (w Window) TimeStrings() (string, string) {
	if !w.Timed {
		return "", ""
	}
	return FormatTimeOfDay(w.TimeFrom), FormatTimeOfDay(w.TimeTo)
}
