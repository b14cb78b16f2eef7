package commission

import (
	"time"

	"github.com/example/clinic-finance/internal/fault"
)

const dateLayout = "2006-01-02"

// Overlap describes how one persisted commission record intersects a
// candidate period for the same doctor.
type Overlap struct {
	RecordID     int64   `json:"record_id"`
	DoctorName   string  `json:"doctor_name"`
	PeriodStart  string  `json:"period_start"`
	PeriodEnd    string  `json:"period_end"`
	OverlapStart string  `json:"overlap_start"`
	OverlapEnd   string  `json:"overlap_end"`
	OverlapDays  int     `json:"overlap_days"`
	Amount       float64 `json:"amount"`
}

// ParsePeriod validates a start/end date pair. Both boundaries are
// inclusive calendar days.
func ParsePeriod(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fault.New(fault.Validation, "start date %q is not in YYYY-MM-DD form", start)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fault.New(fault.Validation, "end date %q is not in YYYY-MM-DD form", end)
	}
	if s.After(e) {
		return time.Time{}, time.Time{}, fault.New(fault.Validation, "period start %s is after period end %s", start, end)
	}
	return s, e, nil
}

// intersect computes the inclusive intersection of two day ranges.
// overlapDays is an inclusive day count and is >= 1 whenever ok is true.
func intersect(aStart, aEnd, bStart, bEnd time.Time) (start, end time.Time, days int, ok bool) {
	start = aStart
	if bStart.After(start) {
		start = bStart
	}
	end = aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, 0, false
	}
	days = int(end.Sub(start).Hours()/24) + 1
	return start, end, days, true
}
