package anomaly

import "time"

type EventType string

const (
	EventDetected      EventType = "detected"
	EventUpdated       EventType = "updated"
	EventInvestigating EventType = "investigating"
	EventReopened      EventType = "reopened"
	EventResolved      EventType = "resolved"
)

// Event is delivered to observers after every registry mutation. Anomaly is
// a snapshot taken while the mutation held the lock.
type Event struct {
	Type    EventType `json:"type"`
	Anomaly Anomaly   `json:"anomaly"`
	At      time.Time `json:"at"`
}

// Observer must not block for long: it runs on the goroutine that mutated
// the registry.
type Observer interface {
	OnAnomalyEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnAnomalyEvent(e Event) { f(e) }
