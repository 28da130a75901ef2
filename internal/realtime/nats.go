package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"flowstudio/internal/engine"
)

// ProgressSubject is the subject node transitions of one execution are
// published on.
func ProgressSubject(tenantID, executionID string) string {
	return fmt.Sprintf("tenant.%s.workflow.%s.progress", tenantID, executionID)
}

// NATSBridge subscribes to NATS subjects and pushes messages into the Hub.
type NATSBridge struct {
	conn     *nats.Conn
	hub      *Hub
	tenantID string
	logger   zerolog.Logger
}

func NewNATSBridge(conn *nats.Conn, tenantID string, hub *Hub, logger zerolog.Logger) *NATSBridge {
	return &NATSBridge{conn: conn, hub: hub, tenantID: tenantID, logger: logger}
}

// Subscribe listens for progress messages on tenant.<tenantID>.workflow.*.progress
func (b *NATSBridge) Subscribe() error {
	subject := ProgressSubject(b.tenantID, "*")
	if _, err := b.conn.Subscribe(subject, b.handle); err != nil {
		return fmt.Errorf("nats subscribe %q: %w", subject, err)
	}
	b.logger.Info().Str("subject", subject).Msg("NATS bridge subscribed")
	return nil
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	executionID, err := executionIDFromSubject(msg.Subject)
	if err != nil {
		b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Ignoring progress message")
		return
	}

	data, err := json.Marshal(outgoingMsg{
		Type:        TypeProgress,
		ExecutionID: executionID,
		Payload:     json.RawMessage(msg.Data),
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to marshal progress envelope")
		return
	}
	b.hub.Broadcast(executionID, data)
}

// Close drains the NATS connection.
func (b *NATSBridge) Close() {
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn().Err(err).Msg("NATS drain failed")
	}
}

// executionIDFromSubject extracts the id from "tenant.<tid>.workflow.<executionId>.progress".
func executionIDFromSubject(subject string) (string, error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 5 || parts[2] != "workflow" || parts[4] != "progress" {
		return "", fmt.Errorf("unexpected progress subject %q", subject)
	}
	if parts[3] == "" {
		return "", fmt.Errorf("empty execution id in %q", subject)
	}
	return parts[3], nil
}

// MessagePublisher is satisfied by *nats.Conn.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// Publisher forwards engine node transitions to NATS.
type Publisher struct {
	conn     MessagePublisher
	tenantID string
	logger   zerolog.Logger
}

func NewPublisher(conn MessagePublisher, tenantID string, logger zerolog.Logger) *Publisher {
	return &Publisher{conn: conn, tenantID: tenantID, logger: logger}
}

// NodeStatusChanged never blocks the engine on a publish failure.
func (p *Publisher) NodeStatusChanged(event engine.NodeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to marshal node event")
		return
	}
	if err := p.conn.Publish(ProgressSubject(p.tenantID, event.ExecutionID), data); err != nil {
		p.logger.Warn().
			Err(err).
			Str("executionId", event.ExecutionID).
			Str("nodeId", event.NodeID).
			Msg("Failed to publish node event")
	}
}

// HubPublisher feeds node transitions straight into a local hub, for
// deployments without NATS.
type HubPublisher struct {
	hub    *Hub
	logger zerolog.Logger
}

func NewHubPublisher(hub *Hub, logger zerolog.Logger) *HubPublisher {
	return &HubPublisher{hub: hub, logger: logger}
}

func (p *HubPublisher) NodeStatusChanged(event engine.NodeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to marshal node event")
		return
	}
	data, err := json.Marshal(outgoingMsg{Type: TypeProgress, ExecutionID: event.ExecutionID, Payload: payload})
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to marshal progress envelope")
		return
	}
	p.hub.Broadcast(event.ExecutionID, data)
}
