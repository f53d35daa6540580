package service

import (
	"sync"
	"time"

	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
	"github.com/pesio-ai/be-doc-approvals/pkg/logger"
)

// EventKind names an assignment mutation.
type EventKind string

const (
	EventAssignmentCreated   EventKind = "assignment_created"
	EventApproversChanged    EventKind = "approvers_changed"
	EventDecisionRecorded    EventKind = "decision_recorded"
	EventAssignmentFinalized EventKind = "assignment_finalized"
	EventAssignmentRemoved   EventKind = "assignment_removed"
)

// Event describes one assignment mutation.
type Event struct {
	Kind         EventKind        `json:"kind"`
	AssignmentID string           `json:"assignment_id"`
	DocumentID   string           `json:"document_id"`
	DocumentType string           `json:"document_type"`
	Status       workflow.Status  `json:"status"`
	ApproverID   string           `json:"approver_id,omitempty"`
	Decision     workflow.Verdict `json:"decision,omitempty"`
	ApproverIDs  []string         `json:"approver_ids,omitempty"`
	ChangedBy    string           `json:"changed_by,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// EventHandler receives events. Delivery is synchronous on the caller's
// goroutine, so handlers must not block.
type EventHandler func(Event)

type eventBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]EventHandler
	log      *logger.Logger
}

func newEventBus(log *logger.Logger) *eventBus {
	return &eventBus{handlers: make(map[int]EventHandler), log: log}
}

func (b *eventBus) subscribe(h EventHandler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// publish delivers e at most once to every current subscriber. A panicking
// handler is logged and skipped.
func (b *eventBus) publish(e Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, e)
	}
}

func (b *eventBus) deliver(h EventHandler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event", string(e.Kind)).
				Str("assignment_id", e.AssignmentID).
				Msg("Event handler panicked")
		}
	}()
	h(e)
}
