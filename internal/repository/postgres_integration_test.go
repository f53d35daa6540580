//go:build integration

package repository

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/pesio-ai/be-doc-approvals/internal/workflow"
	"github.com/pesio-ai/be-doc-approvals/pkg/database"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

// Run with: go test -tags integration ./internal/repository/...
// against a scratch database named by TEST_DB_HOST, TEST_DB_PORT,
// TEST_DB_USER, TEST_DB_PASSWORD and TEST_DB_NAME.

type PostgresSuite struct {
	suite.Suite
	ctx         context.Context
	db          *database.DB
	assignments *AssignmentRepository
	decisions   *DecisionRepository
	history     *StatusHistoryRepository
	rules       *ApprovalRulesRepository
}

func TestPostgresSuite(t *testing.T) {
	if os.Getenv("TEST_DB_HOST") == "" {
		t.Skip("TEST_DB_HOST not set")
	}
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	s.ctx = context.Background()
	port, _ := strconv.Atoi(os.Getenv("TEST_DB_PORT"))
	if port == 0 {
		port = 5432
	}
	db, err := database.New(s.ctx, database.Config{
		Host:     os.Getenv("TEST_DB_HOST"),
		Port:     port,
		User:     os.Getenv("TEST_DB_USER"),
		Password: os.Getenv("TEST_DB_PASSWORD"),
		Database: os.Getenv("TEST_DB_NAME"),
		SSLMode:  "disable",
	})
	s.Require().NoError(err)
	s.db = db

	schema, err := os.ReadFile("../../migrations/0001_document_approvals.sql")
	s.Require().NoError(err)
	_, err = db.Exec(s.ctx, string(schema))
	s.Require().NoError(err)

	s.assignments = NewAssignmentRepository(db)
	s.decisions = NewDecisionRepository(db)
	s.history = NewStatusHistoryRepository(db)
	s.rules = NewApprovalRulesRepository(db)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *PostgresSuite) create(approvers ...workflow.Approver) *Assignment {
	status := workflow.StatusDraft
	if len(approvers) > 0 {
		status = workflow.StatusInReview
	}
	a, created, err := s.assignments.GetOrCreate(s.ctx, &Assignment{
		DocumentType: "contract",
		DocumentID:   uuid.NewString(),
		Status:       status,
		Approvers:    approvers,
		CreatedBy:    "author",
	})
	s.Require().NoError(err)
	s.Require().True(created)
	return a
}

func (s *PostgresSuite) decide(a *Assignment, approverID string, v workflow.Verdict) *Decision {
	d := &Decision{
		AssignmentID: a.ID,
		DocumentType: a.DocumentType,
		DocumentID:   a.DocumentID,
		ApproverID:   approverID,
		Decision:     v,
	}
	if v == workflow.VerdictRejected {
		comment := "needs work"
		d.Comment = &comment
	}
	s.Require().NoError(s.decisions.Upsert(s.ctx, d))
	return d
}

func approverList(ids ...string) []workflow.Approver {
	out := make([]workflow.Approver, len(ids))
	for i, id := range ids {
		out[i] = workflow.Approver{ID: id, DisplayName: id}
	}
	return out
}

func (s *PostgresSuite) pendingIDs(approverID string) []string {
	pending, err := s.assignments.ListPendingForApprover(s.ctx, approverID)
	s.Require().NoError(err)
	ids := make([]string, len(pending))
	for i, a := range pending {
		ids[i] = a.ID
	}
	return ids
}

func (s *PostgresSuite) TestGetOrCreateConverges() {
	a := s.create(approverList("alice", "bob")...)
	s.Equal(1, a.Version)
	s.Equal([]string{"alice", "bob"}, a.ApproverIDs())

	again, created, err := s.assignments.GetOrCreate(s.ctx, &Assignment{
		DocumentType: a.DocumentType,
		DocumentID:   a.DocumentID,
		Status:       workflow.StatusDraft,
		CreatedBy:    "someone-else",
	})
	s.Require().NoError(err)
	s.False(created)
	s.Equal(a.ID, again.ID)
	s.Equal(workflow.StatusInReview, again.Status)
}

func (s *PostgresSuite) TestVersionGuard() {
	a := s.create()

	updated, err := s.assignments.UpdateApprovers(s.ctx, ApproversUpdate{
		ID:        a.ID,
		Version:   a.Version,
		Approvers: approverList("alice"),
		Status:    workflow.StatusInReview,
	})
	s.Require().NoError(err)
	s.Equal(a.Version+1, updated.Version)
	s.Nil(updated.ReopenedAt)

	_, err = s.assignments.UpdateStatus(s.ctx, a.ID, a.Version, workflow.StatusApproved)
	s.True(errors.Is(err, errors.ErrConflict), "stale version must not write")

	_, err = s.assignments.UpdateStatus(s.ctx, uuid.NewString(), 1, workflow.StatusApproved)
	s.True(errors.Is(err, errors.ErrNotFound))

	got, err := s.assignments.GetByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(workflow.StatusInReview, got.Status)
}

func (s *PostgresSuite) TestDecisionUpsertKeepsOneRow() {
	a := s.create(approverList("alice")...)
	first := s.decide(a, "alice", workflow.VerdictRejected)
	second := s.decide(a, "alice", workflow.VerdictApproved)
	s.Equal(first.ID, second.ID)
	s.False(second.DecidedAt.Before(first.DecidedAt))

	rows, err := s.decisions.ListByAssignment(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(workflow.VerdictApproved, rows[0].Decision)
	s.Nil(rows[0].Comment)
}

func (s *PostgresSuite) TestPendingIgnoresVerdictsBeforeReopen() {
	a := s.create(approverList("alice", "bob")...)
	s.Contains(s.pendingIDs("alice"), a.ID)

	s.decide(a, "alice", workflow.VerdictApproved)
	s.NotContains(s.pendingIDs("alice"), a.ID)
	s.Contains(s.pendingIDs("bob"), a.ID)

	reopened, err := s.assignments.UpdateApprovers(s.ctx, ApproversUpdate{
		ID:        a.ID,
		Version:   a.Version,
		Approvers: approverList("alice", "bob"),
		Status:    workflow.StatusInReview,
		Reopen:    true,
	})
	s.Require().NoError(err)
	s.Require().NotNil(reopened.ReopenedAt)
	s.Contains(s.pendingIDs("alice"), a.ID, "a verdict from before the reopen is stale")

	s.decide(a, "alice", workflow.VerdictApproved)
	s.NotContains(s.pendingIDs("alice"), a.ID)
}

func (s *PostgresSuite) TestRemovalRollsBackAsAUnit() {
	a := s.create(approverList("alice")...)
	s.decide(a, "alice", workflow.VerdictApproved)

	err := s.db.InTransaction(s.ctx, func(ctx context.Context) error {
		if err := s.decisions.DeleteByAssignment(ctx, a.ID); err != nil {
			return err
		}
		return s.assignments.Delete(ctx, uuid.NewString())
	})
	s.True(errors.Is(err, errors.ErrNotFound))

	rows, err := s.decisions.ListByAssignment(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Len(rows, 1, "the decision delete must roll back with the failed assignment delete")

	err = s.db.InTransaction(s.ctx, func(ctx context.Context) error {
		if err := s.decisions.DeleteByAssignment(ctx, a.ID); err != nil {
			return err
		}
		return s.assignments.Delete(ctx, a.ID)
	})
	s.Require().NoError(err)

	_, err = s.assignments.GetByID(s.ctx, a.ID)
	s.True(errors.Is(err, errors.ErrNotFound))
	rows, err = s.decisions.ListByAssignment(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Empty(rows)
}

func (s *PostgresSuite) TestHistoryOutlivesAssignment() {
	a := s.create()
	prev := string(workflow.StatusDraft)
	s.Require().NoError(s.history.Append(s.ctx, &StatusHistoryEntry{
		AssignmentID:   &a.ID,
		DocumentType:   a.DocumentType,
		DocumentID:     a.DocumentID,
		PreviousStatus: &prev,
		NextStatus:     workflow.StatusInReview,
		ChangedBy:      "author",
	}))
	s.Require().NoError(s.assignments.Delete(s.ctx, a.ID))

	entries, err := s.history.ListByDocument(s.ctx, a.DocumentType, a.DocumentID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(workflow.StatusInReview, entries[0].NextStatus)
}

func (s *PostgresSuite) TestRulesRoundTrip() {
	docType := "type-" + uuid.NewString()
	rule := &ApprovalRule{
		DocumentType: docType,
		RuleName:     "legal",
		IsActive:     true,
		Approvers:    approverList("carol"),
		Priority:     10,
	}
	s.Require().NoError(s.rules.Create(s.ctx, rule))
	s.NotEmpty(rule.ID)

	found, err := s.rules.FindMatchingRule(s.ctx, docType)
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(rule.ID, found.ID)
	s.Equal([]string{"carol"}, workflow.ApproverIDs(found.Approvers))

	s.Require().NoError(s.rules.Delete(s.ctx, rule.ID))
	_, err = s.rules.GetByID(s.ctx, rule.ID)
	s.True(errors.Is(err, errors.ErrNotFound))
}
