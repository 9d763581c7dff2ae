// Package fanout mirrors global events to the cross-server bus so
// sibling game servers can keep their lobbies current.
package fanout

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
)

// Message is the wire envelope published for every mirrored event.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher pushes events to NATS. A nil Publisher is valid and drops
// everything, which is how single-server deployments run.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *log.Logger
}

// Connect dials the bus. An empty URL returns a nil publisher.
func Connect(url, subject string, logger *log.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, subject: subject, logger: logger.WithPrefix("fanout")}, nil
}

// Publish mirrors one event. Failures are logged, never surfaced; the
// bus is best effort and must not stall game traffic.
func (p *Publisher) Publish(event string, payload any) {
	if p == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("drop unencodable event", "event", event, "err", err)
		return
	}
	data, err := json.Marshal(Message{Event: event, Payload: raw})
	if err != nil {
		p.logger.Warn("drop unencodable envelope", "event", event, "err", err)
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		p.logger.Warn("publish failed", "event", event, "err", err)
	}
}

// Subscribe delivers mirrored events from other servers. The handler
// runs on the NATS delivery goroutine.
func (p *Publisher) Subscribe(handler func(event string, payload json.RawMessage)) error {
	if p == nil {
		return nil
	}
	_, err := p.nc.Subscribe(p.subject, func(msg *nats.Msg) {
		var m Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			p.logger.Warn("drop undecodable message", "err", err)
			return
		}
		handler(m.Event, m.Payload)
	})
	return err
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Close()
}
