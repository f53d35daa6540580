package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-doc-approvals/internal/service"
	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
)

// MessagePublisher sends raw messages on a subject. Implemented by
// natsclient.Client.
type MessagePublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher turns assignment events into notification messages
// for the notifications service.
//
// Subject convention: <prefix>.<event kind>, e.g.
// notifications.approvals.decision_recorded.
//
// Publishing is non-fatal: failures are logged and never reach the workflow.
type NotificationPublisher struct {
	nats    MessagePublisher
	prefix  string
	timeout time.Duration
	log     zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS client.
func NewNotificationPublisher(nats MessagePublisher, prefix string, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{
		nats:    nats,
		prefix:  prefix,
		timeout: 5 * time.Second,
		log:     log.With().Str("component", "notifications").Logger(),
	}
}

// HandleEvent is a service.EventHandler.
func (p *NotificationPublisher) HandleEvent(e service.Event) {
	if p.nats == nil {
		return
	}
	recipients, actionable := recipientsFor(e)
	if len(recipients) == 0 {
		return
	}

	payload := map[string]any{
		"document_type": e.DocumentType,
		"document_id":   e.DocumentID,
		"status":        string(e.Status),
	}
	if e.Decision != "" {
		payload["decision"] = string(e.Decision)
		payload["approver_id"] = e.ApproverID
	}

	severity := "info"
	if e.Status == workflow.StatusRejected {
		severity = "warning"
	}

	event := &NotificationEvent{
		EventType:    string(e.Kind),
		ActorID:      e.ChangedBy,
		Recipients:   recipients,
		ResourceType: e.DocumentType,
		ResourceID:   e.DocumentID,
		IsActionable: actionable,
		Severity:     severity,
		Category:     "document_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("notification: failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	subject := fmt.Sprintf("%s.%s", p.prefix, e.Kind)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("assignment_id", e.AssignmentID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("assignment_id", e.AssignmentID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}

// recipientsFor picks who hears about e. Approvers are asked to act when the
// assignment is (re)opened for review; everyone else is informed.
func recipientsFor(e service.Event) (recipients []string, actionable bool) {
	for _, id := range e.ApproverIDs {
		if id != e.ChangedBy {
			recipients = append(recipients, id)
		}
	}
	switch e.Kind {
	case service.EventAssignmentCreated, service.EventApproversChanged:
		return recipients, e.Status == workflow.StatusInReview
	default:
		return recipients, false
	}
}
