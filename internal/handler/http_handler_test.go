package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-doc-approvals/internal/client"
	"github.com/pesio-ai/be-doc-approvals/internal/memstore"
	"github.com/pesio-ai/be-doc-approvals/internal/service"
	api "github.com/pesio-ai/be-doc-approvals/pkg/approvalsapi"
	"github.com/pesio-ai/be-doc-approvals/pkg/auth"
	"github.com/pesio-ai/be-doc-approvals/pkg/logger"
)

const testUserHeader = "X-Test-User"

func newTestService(store *memstore.Store) *service.ApprovalWorkflowService {
	return service.NewApprovalWorkflowService(
		store.Assignments(),
		store.Decisions(),
		store.History(),
		client.ContextIdentity{},
		logger.Nop(),
		service.Options{
			Rules:     store.Rules(),
			Documents: store.Documents(),
			Names:     client.NewProfileDirectory(store.Profiles(), time.Minute, zerolog.Nop()),
		},
	)
}

// fakeAuth stands in for auth.Middleware: the caller is whoever the test
// header names.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(testUserHeader); id != "" {
			r = r.WithContext(auth.WithUserContext(r.Context(), &auth.UserContext{UserID: id}))
		}
		next.ServeHTTP(w, r)
	})
}

type httpFixture struct {
	t      *testing.T
	store  *memstore.Store
	router *mux.Router
}

func newHTTPFixture(t *testing.T) *httpFixture {
	store := memstore.New()
	h := NewHTTPHandler(newTestService(store), store.Rules(), logger.Nop())
	r := mux.NewRouter()
	r.Use(fakeAuth)
	h.Register(r)
	return &httpFixture{t: t, store: store, router: r}
}

func (f *httpFixture) do(method, path, user string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(f.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func (f *httpFixture) ensure(docID string, approverIDs ...string) *api.Assignment {
	f.t.Helper()
	req := api.EnsureAssignmentRequest{DocumentType: "contract", DocumentID: docID}
	for _, id := range approverIDs {
		req.Approvers = append(req.Approvers, api.Approver{ID: id})
	}
	rec := f.do(http.MethodPost, "/api/v1/assignments", "author", req)
	require.Contains(f.t, []int{http.StatusOK, http.StatusCreated}, rec.Code, rec.Body.String())
	return decodeBody[api.OutcomeResponse](f.t, rec).Assignment
}

func TestHTTPEnsureAssignment(t *testing.T) {
	f := newHTTPFixture(t)
	req := api.EnsureAssignmentRequest{DocumentType: "contract", DocumentID: "c-1"}

	rec := f.do(http.MethodPost, "/api/v1/assignments", "author", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[api.OutcomeResponse](t, rec)
	assert.True(t, first.Created)
	assert.Equal(t, "draft", first.Assignment.Status)
	assert.Equal(t, "author", first.Assignment.CreatedBy)

	rec = f.do(http.MethodPost, "/api/v1/assignments", "author", req)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[api.OutcomeResponse](t, rec)
	assert.False(t, second.Created)
	assert.Equal(t, first.Assignment.ID, second.Assignment.ID)

	rec = f.do(http.MethodGet, "/api/v1/documents/contract/c-1/assignment", "author", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.Assignment.ID, decodeBody[api.AssignmentResponse](t, rec).Assignment.ID)
}

func TestHTTPApprovalFlow(t *testing.T) {
	f := newHTTPFixture(t)
	a := f.ensure("c-1")
	base := "/api/v1/assignments/" + a.ID

	rec := f.do(http.MethodPut, base+"/approvers", "author", api.SetApproversRequest{
		Approvers: []api.Approver{{ID: "alice"}, {ID: "bob"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "in_review", decodeBody[api.OutcomeResponse](t, rec).Assignment.Status)

	rec = f.do(http.MethodPost, base+"/decisions", "alice", api.RecordDecisionRequest{Decision: "approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "in_review", decodeBody[api.OutcomeResponse](t, rec).Assignment.Status)

	rec = f.do(http.MethodGet, "/api/v1/approvals/pending", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[api.ListAssignmentsResponse](t, rec).Assignments, 1)

	rec = f.do(http.MethodPost, base+"/decisions", "bob", api.RecordDecisionRequest{Decision: "approved", Comment: "ok"})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[api.OutcomeResponse](t, rec)
	assert.Equal(t, "approved", out.Assignment.Status)
	assert.Equal(t, "in_review", out.PreviousStatus)

	rec = f.do(http.MethodGet, base+"/decisions", "author", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeBody[api.ListDecisionsResponse](t, rec).Decisions
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0].ApproverID)
	assert.Equal(t, "approved", rows[1].Decision)

	rec = f.do(http.MethodPost, base+"/finalize", "author", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "finalized", decodeBody[api.OutcomeResponse](t, rec).Assignment.Status)

	rec = f.do(http.MethodPut, base+"/approvers", "author", api.SetApproversRequest{Approvers: []api.Approver{{ID: "carol"}}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ASSIGNMENT_CLOSED", decodeBody[errorEnvelope](t, rec).Error.Code)

	rec = f.do(http.MethodGet, "/api/v1/documents/contract/c-1/history", "author", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trail []string
	for _, e := range decodeBody[api.StatusHistoryResponse](t, rec).Entries {
		trail = append(trail, e.NextStatus)
	}
	assert.Equal(t, []string{"draft", "in_review", "approved", "finalized"}, trail)
}

func TestHTTPErrors(t *testing.T) {
	f := newHTTPFixture(t)
	a := f.ensure("c-1", "alice")
	base := "/api/v1/assignments/" + a.ID

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		hdr    []string
		status int
		code   string
	}{
		{"unknown assignment", http.MethodGet, "/api/v1/assignments/nope", "author", nil, nil, http.StatusNotFound, "NOT_FOUND"},
		{"unknown field", http.MethodPost, "/api/v1/assignments", "author", `{"document_type":"x","document_id":"1","bogus":true}`, nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"missing document id", http.MethodPost, "/api/v1/assignments", "author", api.EnsureAssignmentRequest{DocumentType: "contract"}, nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad verdict", http.MethodPost, base + "/decisions", "alice", api.RecordDecisionRequest{Decision: "maybe"}, nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"not an approver", http.MethodPost, base + "/decisions", "mallory", api.RecordDecisionRequest{Decision: "approved"}, nil, http.StatusForbidden, "NOT_AN_APPROVER"},
		{"anonymous", http.MethodPost, base + "/decisions", "", api.RecordDecisionRequest{Decision: "approved"}, nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"stale version", http.MethodPut, base + "/approvers", "author", api.SetApproversRequest{Approvers: []api.Approver{{ID: "bob"}}}, []string{"If-Match", `"7"`}, http.StatusConflict, "CONFLICT"},
		{"finalize in review", http.MethodPost, base + "/finalize", "author", nil, nil, http.StatusConflict, "ASSIGNMENT_CLOSED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.user, tt.body, tt.hdr...)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody[errorEnvelope](t, rec).Error.Code)
		})
	}
}

func TestHTTPRemoveAssignment(t *testing.T) {
	f := newHTTPFixture(t)
	a := f.ensure("c-1", "alice")

	rec := f.do(http.MethodDelete, "/api/v1/assignments/"+a.ID, "author", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "in_review", decodeBody[api.OutcomeResponse](t, rec).PreviousStatus)

	rec = f.do(http.MethodGet, "/api/v1/assignments/"+a.ID, "author", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPApprovalRules(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/approval-rules", "admin", map[string]interface{}{
		"document_type": "contract",
		"rule_name":     "legal review",
		"approvers":     []api.Approver{{ID: "alice"}, {ID: "alice"}, {ID: "bob"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rule := decodeBody[map[string]interface{}](t, rec)
	id, _ := rule["id"].(string)
	require.NotEmpty(t, id)
	assert.Len(t, rule["approvers"], 2, "duplicates collapse")

	a := f.ensure("c-9")
	assert.Equal(t, "in_review", a.Status)
	assert.Len(t, a.Approvers, 2)

	rec = f.do(http.MethodGet, "/api/v1/approval-rules?document_type=contract", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[map[string][]interface{}](t, rec)["rules"], 1)

	rec = f.do(http.MethodPost, "/api/v1/approval-rules", "admin", map[string]interface{}{"document_type": "contract"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodDelete, "/api/v1/approval-rules/"+id, "admin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/approval-rules/"+id, "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
