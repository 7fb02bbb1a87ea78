package domain

import (
	"fmt"
	"time"
)

// Availability is derived from a quiz and the current time, it is never stored.
type Availability struct {
	Available        bool           `json:"is_available"`
	RegistrationOpen bool           `json:"registration_open"`
	TimeUntilStart   *time.Duration `json:"time_until_start"`
	TimeUntilEnd     *time.Duration `json:"time_until_end"`
}

// Availability reports whether the quiz can be taken at now.
func (q Quiz) Availability(now time.Time) Availability {
	return Availability{
		Available:        q.IsAvailable(now),
		RegistrationOpen: q.RegistrationOpen(),
		TimeUntilStart:   until(q.IsScheduled, q.StartDatetime, now),
		TimeUntilEnd:     until(q.IsScheduled, q.EndDatetime, now),
	}
}

func (q Quiz) IsAvailable(now time.Time) bool {
	if !q.IsScheduled {
		return true
	}

	if q.StartDatetime != nil && now.Before(*q.StartDatetime) {
		return false
	}

	if q.EndDatetime != nil && now.After(*q.EndDatetime) {
		return false
	}

	return true
}

// RegistrationOpen is always true, there is no deadline besides the scheduling window.
func (Quiz) RegistrationOpen() bool {
	return true
}

func until(scheduled bool, bound *time.Time, now time.Time) *time.Duration {
	if !scheduled || bound == nil || !now.Before(*bound) {
		return nil
	}

	d := bound.Sub(now)
	return &d
}

// UnavailableReason explains to a user why the quiz cannot be taken at now.
func (q Quiz) UnavailableReason(now time.Time) string {
	if !q.IsScheduled {
		return "This quiz is not available."
	}

	if d := until(q.IsScheduled, q.StartDatetime, now); d != nil {
		days := int(*d / (24 * time.Hour))
		rest := *d % (24 * time.Hour)
		return fmt.Sprintf("This quiz is scheduled to start in %d days, %d hours, %d minutes.",
			days, int(rest/time.Hour), int(rest%time.Hour/time.Minute))
	}

	return "This quiz has ended."
}
