// Package events publishes deposit and withdrawal lifecycle events to NATS.
//
// Events carry identifiers and state only. Secrets, preimages and full notes
// never appear on the bus.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"veilcore/internal/metrics"
)

// Subjects. The middle token is the pool id.
const (
	SubjectDepositPrefix  = "veil.deposit"
	SubjectWithdrawPrefix = "veil.withdraw"
)

// Event is one lifecycle transition.
type Event struct {
	ID        string    `json:"id"`
	PoolID    uint64    `json:"pool_id"`
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher pushes lifecycle events to NATS. A nil Publisher is a valid
// no-op, so services can run without a bus configured.
type Publisher struct {
	conn *nats.Conn
	log  *logrus.Logger
}

// Connect dials NATS and returns a publisher.
func Connect(url string, log *logrus.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	log.WithField("url", url).Info("connected to NATS")
	return &Publisher{conn: conn, log: log}, nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.log.WithError(err).Warn("NATS drain failed")
	}
}

// DepositEvent publishes a deposit state transition.
func (p *Publisher) DepositEvent(ev Event) {
	p.publish(SubjectDepositPrefix, ev)
}

// WithdrawEvent publishes a withdrawal state transition.
func (p *Publisher) WithdrawEvent(ev Event) {
	p.publish(SubjectWithdrawPrefix, ev)
}

// publish is fire-and-forget: a bus failure must never fail the flow that
// emitted the event.
func (p *Publisher) publish(prefix string, ev Event) {
	if p == nil || p.conn == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	subject := prefix + "." + ev.State
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.WithError(err).Error("marshaling lifecycle event")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		metrics.EventsPublishFailed.WithLabelValues(subject).Inc()
		p.log.WithError(err).WithField("subject", subject).Warn("event publish failed")
		return
	}
	metrics.EventsPublished.WithLabelValues(subject).Inc()
}
