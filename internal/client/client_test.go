package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-doc-approvals/internal/memstore"
	"github.com/pesio-ai/be-doc-approvals/internal/repository"
	"github.com/pesio-ai/be-doc-approvals/internal/service"
	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
	"github.com/pesio-ai/be-doc-approvals/pkg/auth"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

func strPtr(s string) *string { return &s }

// ── identity ─────────────────────────────────────────────────────────────────

func TestContextIdentity(t *testing.T) {
	_, err := ContextIdentity{}.CurrentPrincipal(context.Background())
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))

	ctx := auth.WithUserContext(context.Background(), &auth.UserContext{UserID: "u-1", DisplayName: "Ann"})
	p, err := ContextIdentity{}.CurrentPrincipal(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.Principal{ID: "u-1", DisplayName: "Ann"}, p)
}

// ── profile directory ────────────────────────────────────────────────────────

type countingProfiles struct {
	ProfileSource
	calls [][]string
	err   error
}

func (c *countingProfiles) GetByIDs(ctx context.Context, ids []string) ([]*repository.Profile, error) {
	c.calls = append(c.calls, append([]string(nil), ids...))
	if c.err != nil {
		return nil, c.err
	}
	return c.ProfileSource.GetByIDs(ctx, ids)
}

func TestProfileDirectoryCaches(t *testing.T) {
	store := memstore.New()
	store.AddProfile(repository.Profile{ID: "u1", FullName: strPtr("  Ann Lee ")})
	store.AddProfile(repository.Profile{ID: "u2", Login: strPtr("bob")})
	source := &countingProfiles{ProfileSource: store.Profiles()}
	dir := NewProfileDirectory(source, time.Minute, zerolog.Nop())
	ctx := context.Background()

	names, err := dir.DisplayNames(ctx, []string{"u1", "u2", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u1": "Ann Lee", "u2": "bob"}, names)

	names, err = dir.DisplayNames(ctx, []string{"u1", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u1": "Ann Lee"}, names)
	assert.Len(t, source.calls, 1, "second lookup served from cache")

	dir.Forget("u1")
	_, err = dir.DisplayNames(ctx, []string{"u1"})
	require.NoError(t, err)
	require.Len(t, source.calls, 2)
	assert.Equal(t, []string{"u1"}, source.calls[1])
}

func TestProfileDirectoryReportsSourceFailure(t *testing.T) {
	source := &countingProfiles{ProfileSource: memstore.New().Profiles(), err: fmt.Errorf("db down")}
	dir := NewProfileDirectory(source, time.Minute, zerolog.Nop())

	names, err := dir.DisplayNames(context.Background(), []string{"u1"})
	assert.Error(t, err)
	assert.Empty(t, names)
}

// ── guarded document sync ────────────────────────────────────────────────────

type flakyDocuments struct {
	calls int
	err   error
}

func (f *flakyDocuments) UpdateStatus(context.Context, string, string, workflow.Status) error {
	f.calls++
	return f.err
}

func (f *flakyDocuments) LinkApproval(context.Context, string, string, string) error {
	f.calls++
	return f.err
}

func (f *flakyDocuments) ResetApproval(context.Context, string, string) error {
	f.calls++
	return f.err
}

func TestGuardedDocumentSyncOpensOnUpstreamFailures(t *testing.T) {
	docs := &flakyDocuments{err: errors.Upstream(fmt.Errorf("conn refused"), "failed to update document status")}
	g := NewGuardedDocumentSync(docs, BreakerConfig{MaxFailures: 3, OpenTimeout: time.Hour}, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Error(t, g.UpdateStatus(ctx, "contracts", "1", workflow.StatusApproved))
	}
	assert.Equal(t, "open", g.State())

	err := g.LinkApproval(ctx, "contracts", "1", "a1")
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, 3, docs.calls, "open breaker skips the call")
}

func TestGuardedDocumentSyncIgnoresDomainErrors(t *testing.T) {
	docs := &flakyDocuments{err: errors.NotFound("document", "1")}
	g := NewGuardedDocumentSync(docs, BreakerConfig{MaxFailures: 2}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		err := g.ResetApproval(context.Background(), "contracts", "1")
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	}
	assert.Equal(t, "closed", g.State())
	assert.Equal(t, 5, docs.calls)
}

// ── notifications ────────────────────────────────────────────────────────────

type published struct {
	subject string
	data    []byte
}

type fakeNATS struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeNATS) Publish(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject, data})
	return nil
}

func TestNotificationPublisher(t *testing.T) {
	nats := &fakeNATS{}
	p := NewNotificationPublisher(nats, "notifications.approvals", zerolog.Nop())

	p.HandleEvent(service.Event{
		Kind:         service.EventApproversChanged,
		AssignmentID: "a1",
		DocumentType: "contract",
		DocumentID:   "c-1",
		Status:       workflow.StatusInReview,
		ApproverIDs:  []string{"alice", "author", "bob"},
		ChangedBy:    "author",
	})
	require.Len(t, nats.msgs, 1)
	assert.Equal(t, "notifications.approvals.approvers_changed", nats.msgs[0].subject)

	var n NotificationEvent
	require.NoError(t, json.Unmarshal(nats.msgs[0].data, &n))
	assert.Equal(t, []string{"alice", "bob"}, n.Recipients)
	assert.True(t, n.IsActionable)
	assert.Equal(t, "c-1", n.ResourceID)
	assert.Equal(t, "in_review", n.Payload["status"])

	p.HandleEvent(service.Event{
		Kind:        service.EventDecisionRecorded,
		Status:      workflow.StatusRejected,
		ApproverID:  "alice",
		Decision:    workflow.VerdictRejected,
		ApproverIDs: []string{"alice"},
		ChangedBy:   "alice",
	})
	assert.Len(t, nats.msgs, 1, "no recipients, nothing published")

	nats.err = fmt.Errorf("nats: connection closed")
	assert.NotPanics(t, func() {
		p.HandleEvent(service.Event{Kind: service.EventAssignmentFinalized, ApproverIDs: []string{"alice"}, ChangedBy: "author"})
	})
}

// ── redis fan-out ────────────────────────────────────────────────────────────

type fakeRedis struct {
	channel string
	message []byte
	err     error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestRedisEventPublisher(t *testing.T) {
	rdb := &fakeRedis{}
	p := NewRedisEventPublisher(rdb, "document-approvals", zerolog.Nop())

	require.NoError(t, p.Publish(context.Background(), service.Event{
		Kind:         service.EventAssignmentRemoved,
		AssignmentID: "a1",
		Status:       workflow.StatusDraft,
	}))
	assert.Equal(t, "document-approvals", rdb.channel)

	var e service.Event
	require.NoError(t, json.Unmarshal(rdb.message, &e))
	assert.Equal(t, service.EventAssignmentRemoved, e.Kind)
	assert.Equal(t, "a1", e.AssignmentID)

	rdb.err = fmt.Errorf("redis: nil")
	assert.Error(t, p.Publish(context.Background(), e))
	assert.NotPanics(t, func() { p.HandleEvent(e) })
}

// ── gRPC error mapping ───────────────────────────────────────────────────────

func TestFromGRPCError(t *testing.T) {
	st, err := status.New(codes.PermissionDenied, "bob is not an approver").
		WithDetails(&errdetails.ErrorInfo{Reason: string(errors.ErrCodeNotAnApprover), Domain: "docapprovals"})
	require.NoError(t, err)
	assert.True(t, errors.Is(fromGRPCError(st.Err()), errors.ErrNotAnApprover))

	assert.True(t, errors.Is(fromGRPCError(status.Error(codes.NotFound, "missing")), errors.ErrNotFound))
	assert.True(t, errors.Is(fromGRPCError(status.Error(codes.FailedPrecondition, "finalized")), errors.ErrAssignmentClosed))
	assert.True(t, errors.IsRetryable(fromGRPCError(status.Error(codes.Unavailable, "down"))))
	assert.Equal(t, errors.ErrCodeInternal, errors.CodeOf(fromGRPCError(status.Error(codes.Internal, "boom"))))
}
