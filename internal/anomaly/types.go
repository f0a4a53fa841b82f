package anomaly

import (
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindResourceExhaustion Kind = "ResourceExhaustion"
	KindOomRisk            Kind = "OomRisk"
	KindCrashLoop          Kind = "CrashLoop"
	KindConnectionFailure  Kind = "ConnectionFailure"
	KindOther              Kind = "Other"
)

var Kinds = []Kind{KindResourceExhaustion, KindOomRisk, KindCrashLoop, KindConnectionFailure, KindOther}

func ParseKind(value string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(value, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown anomaly kind %q", value)
}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Severity is ordered: comparisons between severities are meaningful.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "unknown"
}

func ParseSeverity(value string) (Severity, error) {
	for sev, name := range severityNames {
		if strings.EqualFold(strings.TrimSpace(value), name) {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", value)
}

func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Status string

const (
	StatusDetected      Status = "detected"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
)

func (s Status) Open() bool {
	return s == StatusDetected || s == StatusInvestigating
}

func ParseStatus(value string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusDetected:
		return StatusDetected, nil
	case StatusInvestigating:
		return StatusInvestigating, nil
	case StatusResolved:
		return StatusResolved, nil
	}
	return "", fmt.Errorf("unknown status %q", value)
}

// Candidate is what the classifier hands to the registry for one sample.
type Candidate struct {
	ResourceKey     string    `json:"resourceKey"`
	Namespace       string    `json:"namespace"`
	PodName         string    `json:"podName"`
	NodeName        string    `json:"nodeName,omitempty"`
	Kind            Kind      `json:"kind"`
	Severity        Severity  `json:"severity"`
	Description     string    `json:"description"`
	SuggestedAction string    `json:"suggestedAction"`
	ObservedAt      time.Time `json:"observedAt"`
}

// Anomaly is owned by the Registry; callers only ever see copies.
type Anomaly struct {
	ID              string     `json:"id"`
	ResourceKey     string     `json:"resourceKey"`
	Namespace       string     `json:"namespace"`
	PodName         string     `json:"podName"`
	NodeName        string     `json:"nodeName,omitempty"`
	Kind            Kind       `json:"kind"`
	Severity        Severity   `json:"severity"`
	FirstObserved   time.Time  `json:"firstObserved"`
	LastObserved    time.Time  `json:"lastObserved"`
	Description     string     `json:"description"`
	Status          Status     `json:"status"`
	SuggestedAction string     `json:"suggestedAction"`
	Attempts        int        `json:"attempts"`
	Resolution      string     `json:"resolution,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`

	// lastSeenCycle is the sweep cycle in which the condition was last re-detected.
	lastSeenCycle uint64
}
