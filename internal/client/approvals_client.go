package client

import (
	"context"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	api "github.com/pesio-ai/be-doc-approvals/pkg/approvalsapi"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

// ApprovalsGRPCClient calls the approvals gRPC service. Document services use
// it to open and drive approvals for their own documents.
type ApprovalsGRPCClient struct {
	conn *grpc.ClientConn
}

// NewApprovalsGRPCClient dials the approvals gRPC service. Extra options are
// appended to the defaults (insecure transport, metadata forwarding).
func NewApprovalsGRPCClient(addr string, opts ...grpc.DialOption) (*ApprovalsGRPCClient, error) {
	dial := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(forwardMetadata),
	}, opts...)
	conn, err := grpc.NewClient(addr, dial...)
	if err != nil {
		return nil, err
	}
	return &ApprovalsGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *ApprovalsGRPCClient) Close() error {
	return c.conn.Close()
}

// EnsureAssignment returns the document's assignment, creating it if needed.
func (c *ApprovalsGRPCClient) EnsureAssignment(ctx context.Context, req api.EnsureAssignmentRequest) (*api.OutcomeResponse, error) {
	var resp api.OutcomeResponse
	if err := c.invoke(ctx, api.MethodEnsureAssignment, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAssignment returns an assignment by id.
func (c *ApprovalsGRPCClient) GetAssignment(ctx context.Context, id string) (*api.Assignment, error) {
	var resp api.AssignmentResponse
	if err := c.invoke(ctx, api.MethodGetAssignment, api.AssignmentRef{ID: id}, &resp); err != nil {
		return nil, err
	}
	return resp.Assignment, nil
}

// GetAssignmentForDocument returns the document's assignment, or nil if it
// has none.
func (c *ApprovalsGRPCClient) GetAssignmentForDocument(ctx context.Context, documentType, documentID string) (*api.Assignment, error) {
	var resp api.AssignmentResponse
	err := c.invoke(ctx, api.MethodGetAssignmentForDocument, api.DocumentRef{DocumentType: documentType, DocumentID: documentID}, &resp)
	if errors.HasCode(err, errors.ErrCodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Assignment, nil
}

// SetApprovers replaces the approver list.
func (c *ApprovalsGRPCClient) SetApprovers(ctx context.Context, req api.SetApproversRequest) (*api.OutcomeResponse, error) {
	var resp api.OutcomeResponse
	if err := c.invoke(ctx, api.MethodSetApprovers, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordDecision stores the caller's verdict.
func (c *ApprovalsGRPCClient) RecordDecision(ctx context.Context, assignmentID, decision, comment string) (*api.OutcomeResponse, error) {
	var resp api.OutcomeResponse
	req := api.RecordDecisionRequest{AssignmentID: assignmentID, Decision: decision, Comment: comment}
	if err := c.invoke(ctx, api.MethodRecordDecision, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Finalize closes an approved assignment.
func (c *ApprovalsGRPCClient) Finalize(ctx context.Context, assignmentID, comment string) (*api.OutcomeResponse, error) {
	var resp api.OutcomeResponse
	if err := c.invoke(ctx, api.MethodFinalize, api.FinalizeRequest{AssignmentID: assignmentID, Comment: comment}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoveAssignment deletes an assignment and resets its document.
func (c *ApprovalsGRPCClient) RemoveAssignment(ctx context.Context, assignmentID string) (*api.OutcomeResponse, error) {
	var resp api.OutcomeResponse
	if err := c.invoke(ctx, api.MethodRemoveAssignment, api.AssignmentRef{ID: assignmentID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDecisions returns the decision sheet of an assignment.
func (c *ApprovalsGRPCClient) ListDecisions(ctx context.Context, assignmentID string) ([]api.DecisionRow, error) {
	var resp api.ListDecisionsResponse
	if err := c.invoke(ctx, api.MethodListDecisions, api.AssignmentRef{ID: assignmentID}, &resp); err != nil {
		return nil, err
	}
	return resp.Decisions, nil
}

// ListPending returns open assignments waiting on approverID (the caller when
// empty).
func (c *ApprovalsGRPCClient) ListPending(ctx context.Context, approverID string) ([]*api.Assignment, error) {
	var resp api.ListAssignmentsResponse
	if err := c.invoke(ctx, api.MethodListPending, api.ListPendingRequest{ApproverID: approverID}, &resp); err != nil {
		return nil, err
	}
	return resp.Assignments, nil
}

// StatusHistory returns a document's status trail.
func (c *ApprovalsGRPCClient) StatusHistory(ctx context.Context, documentType, documentID string) ([]api.HistoryEntry, error) {
	var resp api.StatusHistoryResponse
	if err := c.invoke(ctx, api.MethodStatusHistory, api.DocumentRef{DocumentType: documentType, DocumentID: documentID}, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *ApprovalsGRPCClient) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := api.ToStruct(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request")
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return fromGRPCError(err)
	}
	if err := api.FromStruct(out, resp); err != nil {
		return errors.Upstream(err, "malformed response from approvals service")
	}
	return nil
}

// fromGRPCError turns a status error back into a coded application error.
// The server attaches the original code as an ErrorInfo reason; the status
// code is the fallback.
func fromGRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return errors.Upstream(err, "approvals service call failed")
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetReason() != "" {
			return errors.New(errors.Code(info.GetReason()), st.Message())
		}
	}

	var code errors.Code
	switch st.Code() {
	case codes.InvalidArgument:
		code = errors.ErrCodeInvalidInput
	case codes.NotFound:
		code = errors.ErrCodeNotFound
	case codes.Aborted:
		code = errors.ErrCodeConflict
	case codes.FailedPrecondition:
		code = errors.ErrCodeAssignmentClosed
	case codes.PermissionDenied:
		code = errors.ErrCodeForbidden
	case codes.Unauthenticated:
		code = errors.ErrCodeUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return errors.Upstream(err, "approvals service unavailable")
	default:
		code = errors.ErrCodeInternal
	}
	return errors.New(code, st.Message())
}
