package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type PodStatus string

const (
	PodRunning   PodStatus = "Running"
	PodPending   PodStatus = "Pending"
	PodFailed    PodStatus = "Failed"
	PodSucceeded PodStatus = "Succeeded"
	PodUnknown   PodStatus = "Unknown"
)

type EventType string

const (
	EventNormal  EventType = "Normal"
	EventWarning EventType = "Warning"
)

var ErrInvalidSample = errors.New("invalid sample")

// Sample is one observation of a pod at a point in time. Samples are values
// and are never mutated after they leave a Source.
type Sample struct {
	PodName            string    `json:"podName"`
	Namespace          string    `json:"namespace"`
	NodeName           string    `json:"nodeName"`
	CPUPercent         float64   `json:"cpuPercent"`
	MemoryPercent      float64   `json:"memoryPercent"`
	NetworkBytesPerSec float64   `json:"networkBytesPerSec"`
	PodStatus          PodStatus `json:"podStatus"`
	PodReason          string    `json:"podReason,omitempty"`
	RestartCount       int       `json:"restartCount"`
	ErrorMessage       string    `json:"errorMessage,omitempty"`
	LatestEventReason  string    `json:"latestEventReason,omitempty"`
	EventType          EventType `json:"eventType"`
	EventMessage       string    `json:"eventMessage,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// ResourceKey identifies the pod a sample belongs to.
func (s Sample) ResourceKey() string {
	return ResourceKey(s.Namespace, s.PodName)
}

func ResourceKey(namespace, pod string) string {
	return namespace + "/" + pod
}

func (s Sample) Validate() error {
	if strings.TrimSpace(s.PodName) == "" {
		return fmt.Errorf("%w: pod name is empty", ErrInvalidSample)
	}
	if strings.TrimSpace(s.Namespace) == "" {
		return fmt.Errorf("%w: namespace is empty for pod %s", ErrInvalidSample, s.PodName)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp for pod %s", ErrInvalidSample, s.PodName)
	}
	for _, v := range []float64{s.CPUPercent, s.MemoryPercent, s.NetworkBytesPerSec} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite usage for pod %s", ErrInvalidSample, s.PodName)
		}
	}
	if s.CPUPercent < 0 || s.MemoryPercent < 0 || s.NetworkBytesPerSec < 0 {
		return fmt.Errorf("%w: negative usage for pod %s", ErrInvalidSample, s.PodName)
	}
	if s.RestartCount < 0 {
		return fmt.Errorf("%w: negative restart count for pod %s", ErrInvalidSample, s.PodName)
	}
	switch s.PodStatus {
	case PodRunning, PodPending, PodFailed, PodSucceeded, PodUnknown:
	default:
		return fmt.Errorf("%w: unknown pod status %q", ErrInvalidSample, s.PodStatus)
	}
	switch s.EventType {
	case EventNormal, EventWarning:
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidSample, s.EventType)
	}
	return nil
}

// ParsePodStatus maps free-form status text onto the known phases. Anything
// unrecognised becomes Unknown rather than an error since kubectl output and
// exported fixtures disagree on casing.
func ParsePodStatus(value string) PodStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "running":
		return PodRunning
	case "pending":
		return PodPending
	case "failed":
		return PodFailed
	case "succeeded", "completed":
		return PodSucceeded
	default:
		return PodUnknown
	}
}

func ParseEventType(value string) EventType {
	if strings.EqualFold(strings.TrimSpace(value), string(EventWarning)) {
		return EventWarning
	}
	return EventNormal
}
