// Package gate implements the funded-status-and-recency eligibility check
// applied to candidate project records before deeper extraction is attempted.
package gate

import (
	"strings"
	"time"
)

// Reason is the reportable outcome of a gate evaluation. The four reasons are
// distinct and never collapsed.
type Reason string

const (
	ReasonFundedAndRecent Reason = "funded_status_and_recent_date"
	ReasonNotFunded       Reason = "recent_date_but_status_not_funded"
	ReasonTooOld          Reason = "funded_status_but_too_old"
	ReasonInsufficient    Reason = "insufficient_data_for_gate"
)

// Result is the gate decision for one candidate.
type Result struct {
	InScope    bool       `json:"in_scope"`
	Reason     Reason     `json:"reason"`
	AnchorDate *time.Time `json:"anchor_date,omitempty"`
}

const dateLayout = "2006-01-02"

// Evaluate decides whether a candidate qualifies for deeper processing.
// The anchor date is the start date if parseable, else the end date, else
// unknown. The recency window is an exact calendar-year subtraction from
// today, not a 365-day approximation. Dates that fail to parse as YYYY-MM-DD
// are treated as absent, not as errors.
func Evaluate(status, startDate, endDate string, lookbackYears int, acceptedStatuses []string, today time.Time) Result {
	funded := statusAccepted(status, acceptedStatuses)

	anchor := parseDate(startDate)
	if anchor == nil {
		anchor = parseDate(endDate)
	}

	withinWindow := false
	if anchor != nil {
		cutoff := time.Date(today.Year()-lookbackYears, today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
		withinWindow = !anchor.Before(cutoff)
	}

	res := Result{AnchorDate: anchor}
	switch {
	case funded && withinWindow:
		res.InScope = true
		res.Reason = ReasonFundedAndRecent
	case !funded && withinWindow:
		res.Reason = ReasonNotFunded
	case funded && !withinWindow:
		res.Reason = ReasonTooOld
	default:
		res.Reason = ReasonInsufficient
	}
	return res
}

func statusAccepted(status string, accepted []string) bool {
	norm := strings.ToLower(strings.TrimSpace(status))
	if norm == "" {
		return false
	}
	for _, a := range accepted {
		if norm == strings.ToLower(strings.TrimSpace(a)) {
			return true
		}
	}
	return false
}

func parseDate(s string) *time.Time {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &t
}
