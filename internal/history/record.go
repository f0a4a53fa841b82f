package history

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"kubeheal-backend/internal/anomaly"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

func ParseOutcome(value string) (Outcome, error) {
	switch Outcome(strings.ToLower(strings.TrimSpace(value))) {
	case OutcomeSucceeded:
		return OutcomeSucceeded, nil
	case OutcomeFailed:
		return OutcomeFailed, nil
	}
	return "", fmt.Errorf("unknown outcome %q", value)
}

var ErrInvalidRecord = errors.New("invalid remediation record")

// Record is one executed remediation. Records are never updated once
// appended.
type Record struct {
	ID          string           `json:"id"`
	AnomalyID   string           `json:"anomalyId"`
	ActionID    string           `json:"actionId"`
	ResourceKey string           `json:"resourceKey"`
	Kind        anomaly.Kind     `json:"kind"`
	Severity    anomaly.Severity `json:"severity"`
	RequestedAt time.Time        `json:"requestedAt"`
	CompletedAt time.Time        `json:"completedAt"`
	Outcome     Outcome          `json:"outcome"`
	Detail      string           `json:"detail,omitempty"`
}

func (r Record) Validate() error {
	if strings.TrimSpace(r.AnomalyID) == "" {
		return fmt.Errorf("%w: anomalyId is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.ActionID) == "" {
		return fmt.Errorf("%w: actionId is required", ErrInvalidRecord)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, r.Kind)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: severity must be one of low, medium, high, critical", ErrInvalidRecord)
	}
	if r.RequestedAt.IsZero() {
		return fmt.Errorf("%w: requestedAt is required", ErrInvalidRecord)
	}
	if !r.CompletedAt.IsZero() && r.CompletedAt.Before(r.RequestedAt) {
		return fmt.Errorf("%w: completedAt before requestedAt", ErrInvalidRecord)
	}
	if _, err := ParseOutcome(string(r.Outcome)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}
