// Package constraint evaluates temporal activation windows and
// separation-of-duty cardinality rules. Both checks are pure functions over
// the supplied entities; the package holds no state.
package constraint

import (
	"strings"
	"time"

	"github.com/bastion-iam/bastion/internal/shared"
)

// Temporal restricts when a role may be activated or an account used.
// Times are HHMM integers, dates are YYYYMMDD strings, and DayMask is a
// subset of the digits 1-7 where 1 is Sunday (empty means every day).
// Zero/empty fields leave that dimension unrestricted, except that a
// half-specified lock window is treated as unevaluable and fails closed.
type Temporal struct {
	BeginTime     int    `json:"begin_time,omitempty"`
	EndTime       int    `json:"end_time,omitempty"`
	BeginDate     string `json:"begin_date,omitempty"`
	EndDate       string `json:"end_date,omitempty"`
	BeginLockDate string `json:"begin_lock_date,omitempty"`
	EndLockDate   string `json:"end_lock_date,omitempty"`
	DayMask       string `json:"day_mask,omitempty"`
	TimeoutMins   int    `json:"timeout_mins,omitempty"`
}

// IsZero reports whether the constraint restricts nothing.
func (c Temporal) IsZero() bool {
	return c.BeginTime == 0 && c.EndTime == 0 &&
		c.BeginDate == "" && c.EndDate == "" &&
		c.BeginLockDate == "" && c.EndLockDate == "" &&
		c.DayMask == ""
}

const dateLayout = "20060102"

// ValidateTemporal reports whether the constraint permits activity at the
// given instant. Evaluating the same constraint against the same instant is
// deterministic. Any field that cannot be evaluated fails the check rather
// than passing it.
func ValidateTemporal(c Temporal, now time.Time) error {
	if err := checkDayMask(c.DayMask, now); err != nil {
		return err
	}
	if err := checkDateWindow(c.BeginDate, c.EndDate, now); err != nil {
		return err
	}
	if err := checkLockWindow(c.BeginLockDate, c.EndLockDate, now); err != nil {
		return err
	}
	if err := checkTimeWindow(c.BeginTime, c.EndTime, now); err != nil {
		return err
	}
	return nil
}

func checkDayMask(mask string, now time.Time) error {
	mask = strings.TrimSpace(mask)
	if mask == "" || strings.EqualFold(mask, "all") {
		return nil
	}
	// time.Weekday numbers Sunday as 0; the mask numbers it 1.
	today := byte('1' + int(now.Weekday()))
	for i := 0; i < len(mask); i++ {
		d := mask[i]
		if d < '1' || d > '7' {
			return shared.E(shared.KindTemporalConstraint, "constraint: malformed day mask %q", mask)
		}
		if d == today {
			return nil
		}
	}
	return shared.E(shared.KindTemporalConstraint, "constraint: day mask %q excludes %s", mask, now.Weekday())
}

func checkDateWindow(begin, end string, now time.Time) error {
	today := now.Format(dateLayout)
	if begin != "" {
		b, err := time.Parse(dateLayout, begin)
		if err != nil {
			return shared.E(shared.KindTemporalConstraint, "constraint: malformed begin date %q", begin)
		}
		if today < b.Format(dateLayout) {
			return shared.E(shared.KindTemporalConstraint, "constraint: not valid before %s", begin)
		}
	}
	if end != "" {
		e, err := time.Parse(dateLayout, end)
		if err != nil {
			return shared.E(shared.KindTemporalConstraint, "constraint: malformed end date %q", end)
		}
		if today > e.Format(dateLayout) {
			return shared.E(shared.KindTemporalConstraint, "constraint: not valid after %s", end)
		}
	}
	return nil
}

// checkLockWindow rejects activity inside [begin, end). A window with only
// one bound cannot be evaluated and fails closed.
func checkLockWindow(begin, end string, now time.Time) error {
	if begin == "" && end == "" {
		return nil
	}
	if begin == "" || end == "" {
		return shared.E(shared.KindTemporalConstraint, "constraint: lock window requires both bounds")
	}
	if _, err := time.Parse(dateLayout, begin); err != nil {
		return shared.E(shared.KindTemporalConstraint, "constraint: malformed lock begin %q", begin)
	}
	if _, err := time.Parse(dateLayout, end); err != nil {
		return shared.E(shared.KindTemporalConstraint, "constraint: malformed lock end %q", end)
	}
	today := now.Format(dateLayout)
	if today >= begin && today < end {
		return shared.E(shared.KindTemporalConstraint, "constraint: locked from %s until %s", begin, end)
	}
	return nil
}

func checkTimeWindow(begin, end int, now time.Time) error {
	if begin == 0 && end == 0 {
		return nil
	}
	if !validHHMM(begin) || !validHHMM(end) || begin > end {
		return shared.E(shared.KindTemporalConstraint, "constraint: malformed time window %04d-%04d", begin, end)
	}
	current := now.Hour()*100 + now.Minute()
	if current < begin || current > end {
		return shared.E(shared.KindTemporalConstraint, "constraint: outside window %04d-%04d", begin, end)
	}
	return nil
}

func validHHMM(v int) bool {
	return v >= 0 && v <= 2359 && v%100 < 60
}
