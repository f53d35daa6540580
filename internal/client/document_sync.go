package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/pesio-ai/be-doc-approvals/internal/service"
	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

// BreakerConfig tunes the circuit breaker around document writes.
type BreakerConfig struct {
	MaxFailures uint32        // consecutive upstream failures that open the circuit
	OpenTimeout time.Duration // how long the circuit stays open before a probe
}

// GuardedDocumentSync wraps a service.DocumentSync in a circuit breaker so a
// failing document table stops costing a round trip on every decision.
// Domain errors (unknown document, bad table name) do not count as failures.
type GuardedDocumentSync struct {
	next service.DocumentSync
	cb   *gobreaker.CircuitBreaker
}

var _ service.DocumentSync = (*GuardedDocumentSync)(nil)

// NewGuardedDocumentSync creates a breaker-protected DocumentSync.
func NewGuardedDocumentSync(next service.DocumentSync, cfg BreakerConfig, log zerolog.Logger) *GuardedDocumentSync {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	log = log.With().Str("component", "document_sync").Logger()

	settings := gobreaker.Settings{
		Name:        "document-sync",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}
	return &GuardedDocumentSync{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (g *GuardedDocumentSync) UpdateStatus(ctx context.Context, table, documentID string, status workflow.Status) error {
	return g.run(func() error { return g.next.UpdateStatus(ctx, table, documentID, status) })
}

func (g *GuardedDocumentSync) LinkApproval(ctx context.Context, table, documentID, assignmentID string) error {
	return g.run(func() error { return g.next.LinkApproval(ctx, table, documentID, assignmentID) })
}

func (g *GuardedDocumentSync) ResetApproval(ctx context.Context, table, documentID string) error {
	return g.run(func() error { return g.next.ResetApproval(ctx, table, documentID) })
}

// State reports the breaker state, for health output.
func (g *GuardedDocumentSync) State() string {
	return g.cb.State().String()
}

func (g *GuardedDocumentSync) run(fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errors.Upstream(err, "document sync unavailable")
	}
	return err
}
