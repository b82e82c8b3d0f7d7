package types

import (
	"fmt"
	"time"
)

// Status represents a member's attendance status in the roster service
type Status string

const (
	StatusPresent     Status = "Present"
	StatusAbsent      Status = "Absent"
	StatusLateArrival Status = "Late Arrival"
	StatusVirtual     Status = "Virtual"
)

// Member is a roster member managed by the engine for one school day.
// Identity is the stable external identifier; DisplayName is informational only.
type Member struct {
	ID          string
	DisplayName string
	Status      Status
}

// Profile holds read-only reference data for a member, cached per process
type Profile struct {
	MemberID  string
	FirstName string
	LastName  string
	Grade     string
	Homeroom  string
}

// Grouping is an attendance grouping (homeroom, dismissal group) in the
// roster service. Location is matched against the configured dismissal
// location pattern to decide eligibility.
type Grouping struct {
	ID       string
	Name     string
	Location string
}

// ScanEvent is a single badge scan reported by the access log service
type ScanEvent struct {
	ActorID   string
	ActorName string
	Timestamp time.Time
}

// ChangeType classifies a dismissal change series
type ChangeType string

const (
	ChangeTypeBus    ChangeType = "Bus"
	ChangeTypePickup ChangeType = "Pickup"
	ChangeTypeWalker ChangeType = "Walker"
)

// ChangeRecord is one entry in a member's dismissal-change calendar.
// A record is "default" when it merely restates the member's standing
// routing; only non-default records are worth restoring after an
// absent mark clears them.
type ChangeRecord struct {
	MemberID string
	SeriesID string
	Type     ChangeType
	RouteID  string
	StopID   string
	Date     time.Time
	Default  bool
}

// BusStop is one stop on a bus route
type BusStop struct {
	StopID string
	Name   string
}

// MarkResult is the outcome of a batch status write.
// Invariant: Succeeded + Failed == Total.
type MarkResult struct {
	Succeeded int
	Failed    int
	Total     int
}

// Partial reports whether some, but not all, writes failed
func (r MarkResult) Partial() bool {
	return r.Failed > 0 && r.Succeeded > 0
}

// TimeOfDay is a wall-clock time without a date
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24-hour)
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return t, nil
}

// On attaches a calendar date to the time of day in the given location
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, 0, 0, loc)
}

// Before reports whether t is strictly earlier in the day than other
func (t TimeOfDay) Before(other TimeOfDay) bool {
	if t.Hour != other.Hour {
		return t.Hour < other.Hour
	}
	return t.Minute < other.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// AttendanceWindow is the daily attendance window: scans between Start and
// End count toward the initial mark, late arrivals are swept until Dismissal.
// The three values carry no date; callers attach the current day at run time.
type AttendanceWindow struct {
	Start     TimeOfDay
	End       TimeOfDay
	Dismissal TimeOfDay
	Location  *time.Location
}

// Bounds returns the window start and end materialized on the given date
func (w AttendanceWindow) Bounds(date time.Time) (start, end time.Time) {
	return w.Start.On(date, w.Location), w.End.On(date, w.Location)
}

// DismissalAt returns the school dismissal instant on the given date
func (w AttendanceWindow) DismissalAt(date time.Time) time.Time {
	return w.Dismissal.On(date, w.Location)
}

// Validate checks window ordering: start < end < dismissal
func (w AttendanceWindow) Validate() error {
	if !w.Start.Before(w.End) {
		return fmt.Errorf("attendance window start %s must precede end %s", w.Start, w.End)
	}
	if !w.End.Before(w.Dismissal) {
		return fmt.Errorf("attendance window end %s must precede dismissal %s", w.End, w.Dismissal)
	}
	if w.Location == nil {
		return fmt.Errorf("attendance window requires a time zone")
	}
	return nil
}
