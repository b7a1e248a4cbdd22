package scheduling

import (
	"errors"
	"fmt"
)

// Collaborator errors. Backend and repository implementations wrap these so
// callers can match them with errors.Is.
var (
	ErrAuthExpired    = errors.New("session expired, sign in again")
	ErrForbidden      = errors.New("not permitted for this role")
	ErrNetwork        = errors.New("backend unreachable")
	ErrServerConflict = errors.New("slot was taken or changed on the server")
	ErrValidation     = errors.New("backend rejected the request")
	ErrNotFound       = errors.New("not found")
)

// Reason classifies why a proposal was rejected.
type Reason string

const (
	ReasonMissingField           Reason = "missing_field"
	ReasonInvalidField           Reason = "invalid_field"
	ReasonDateInPast             Reason = "date_in_past"
	ReasonClosedDay              Reason = "closed_day"
	ReasonOutsideOperatingHours  Reason = "outside_operating_hours"
	ReasonInsufficientLeadTime   Reason = "insufficient_lead_time"
	ReasonSlotConflict           Reason = "slot_conflict"
	ReasonCoordinatorUnavailable Reason = "coordinator_unavailable"
)

// Rejection is the validator's verdict when a proposal cannot be booked.
type Rejection struct {
	Reason Reason `json:"reason"`
	Field  string `json:"field,omitempty"`
	Detail string `json:"detail"`
}

func (r *Rejection) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s (%s): %s", r.Reason, r.Field, r.Detail)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

func reject(reason Reason, field, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// ValidationError carries the backend's flattened field messages.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return ErrValidation.Error()
	}
	msg := e.Messages[0]
	for _, m := range e.Messages[1:] {
		msg += "; " + m
	}
	return ErrValidation.Error() + ": " + msg
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
