// Package bus publishes anomaly lifecycle events and remediation records on
// NATS.
package bus

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/history"
)

const (
	SubjectAnomalyPrefix       = "anomaly."
	SubjectAnomalyAll          = "anomaly.>"
	SubjectRemediationRecorded = "remediation.recorded"
)

// AnomalySubject returns e.g. "anomaly.detected".
func AnomalySubject(t anomaly.EventType) string {
	return SubjectAnomalyPrefix + string(t)
}

type conn interface {
	Publish(subject string, data []byte) error
}

type Publisher struct {
	Conn   *nats.Conn
	conn   conn
	logger *zap.Logger
}

func NewPublisher(url string, logger *zap.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("kubeheal-backend"))
	if err != nil {
		return nil, err
	}
	p := newPublisher(nc, logger)
	p.Conn = nc
	return p, nil
}

func newPublisher(c conn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{conn: c, logger: logger}
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}

// OnAnomalyEvent makes the publisher a registry observer. Publish failures
// are logged; they never block the registry.
func (p *Publisher) OnAnomalyEvent(e anomaly.Event) {
	if err := p.Publish(AnomalySubject(e.Type), e); err != nil {
		p.logger.Warn("publish anomaly event", zap.String("type", string(e.Type)), zap.String("anomaly", e.Anomaly.ID), zap.Error(err))
	}
}

// OnRecord is registered as a dispatcher hook.
func (p *Publisher) OnRecord(rec history.Record) {
	if err := p.Publish(SubjectRemediationRecorded, rec); err != nil {
		p.logger.Warn("publish remediation record", zap.String("record", rec.ID), zap.Error(err))
	}
}
