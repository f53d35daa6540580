// Package workflow holds the approval state machine: statuses, verdicts,
// approver lists and the status resolver. It has no I/O.
package workflow

import (
	"fmt"
	"strings"
)

// Status is the aggregate status of an assignment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusInReview  Status = "in_review"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusFinalized Status = "finalized"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusInReview, StatusApproved, StatusRejected, StatusFinalized:
		return true
	}
	return false
}

// AcceptsDecisions reports whether approvers may still vote.
func (s Status) AcceptsDecisions() bool {
	return s == StatusDraft || s == StatusInReview
}

// Resolved reports whether the approvers have reached a verdict.
func (s Status) Resolved() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s Status) String() string { return string(s) }

// ParseStatus parses a status name, ignoring case and surrounding space.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", v)
	}
	return s, nil
}

// Verdict is one approver's decision.
type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

func (v Verdict) Valid() bool {
	switch v {
	case VerdictPending, VerdictApproved, VerdictRejected:
		return true
	}
	return false
}

func (v Verdict) String() string { return string(v) }

// ParseVerdict parses a verdict name, ignoring case and surrounding space.
func ParseVerdict(v string) (Verdict, error) {
	d := Verdict(strings.ToLower(strings.TrimSpace(v)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown decision %q", v)
	}
	return d, nil
}
