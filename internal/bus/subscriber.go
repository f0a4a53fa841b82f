package bus

import (
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/history"
)

// Message is one decoded bus message. Exactly one of Anomaly and Record is
// set, depending on the subject.
type Message struct {
	Subject string
	Anomaly *anomaly.Event
	Record  *history.Record
	Err     error
}

type Subscriber struct {
	Conn *nats.Conn
}

func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url, nats.Name("kubehealctl"))
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: conn}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		s.Conn.Drain()
		s.Conn.Close()
	}
}

// Subscribe delivers every anomaly event and remediation record to handler.
func (s *Subscriber) Subscribe(handler func(Message)) ([]*nats.Subscription, error) {
	var subs []*nats.Subscription
	for _, subject := range []string{SubjectAnomalyAll, SubjectRemediationRecorded} {
		sub, err := s.Conn.Subscribe(subject, func(msg *nats.Msg) {
			handler(Decode(msg.Subject, msg.Data))
		})
		if err != nil {
			for _, prev := range subs {
				_ = prev.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func Decode(subject string, data []byte) Message {
	m := Message{Subject: subject}
	if strings.HasPrefix(subject, SubjectAnomalyPrefix) {
		var evt anomaly.Event
		if m.Err = json.Unmarshal(data, &evt); m.Err == nil {
			m.Anomaly = &evt
		}
		return m
	}
	var rec history.Record
	if m.Err = json.Unmarshal(data, &rec); m.Err == nil {
		m.Record = &rec
	}
	return m
}
