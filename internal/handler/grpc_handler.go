package handler

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-doc-approvals/internal/service"
	api "github.com/pesio-ai/be-doc-approvals/pkg/approvalsapi"
	"github.com/pesio-ai/be-doc-approvals/pkg/auth"
	"github.com/pesio-ai/be-doc-approvals/pkg/errors"
)

// ApprovalsServer is the server API of the approvals gRPC service. Every
// message is a google.protobuf.Struct shaped like the approvalsapi types.
type ApprovalsServer interface {
	EnsureAssignment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAssignment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAssignmentForDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetApprovers(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordDecision(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Finalize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveAssignment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListDecisions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPending(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StatusHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structMethod func(ApprovalsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call structMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ApprovalsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: api.FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ApprovalsServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ApprovalsServiceDesc describes the approvals gRPC service.
var ApprovalsServiceDesc = grpc.ServiceDesc{
	ServiceName: api.ServiceName,
	HandlerType: (*ApprovalsServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(api.MethodEnsureAssignment, ApprovalsServer.EnsureAssignment),
		unaryMethod(api.MethodGetAssignment, ApprovalsServer.GetAssignment),
		unaryMethod(api.MethodGetAssignmentForDocument, ApprovalsServer.GetAssignmentForDocument),
		unaryMethod(api.MethodSetApprovers, ApprovalsServer.SetApprovers),
		unaryMethod(api.MethodRecordDecision, ApprovalsServer.RecordDecision),
		unaryMethod(api.MethodFinalize, ApprovalsServer.Finalize),
		unaryMethod(api.MethodRemoveAssignment, ApprovalsServer.RemoveAssignment),
		unaryMethod(api.MethodListDecisions, ApprovalsServer.ListDecisions),
		unaryMethod(api.MethodListPending, ApprovalsServer.ListPending),
		unaryMethod(api.MethodStatusHistory, ApprovalsServer.StatusHistory),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "docapprovals/v1/approvals.proto",
}

// RegisterApprovalsServer registers srv on s.
func RegisterApprovalsServer(s grpc.ServiceRegistrar, srv ApprovalsServer) {
	s.RegisterService(&ApprovalsServiceDesc, srv)
}

// NewGRPCServer builds a server that authenticates every call with validator
// and serves srv. Server reflection is not registered: the service has no
// compiled descriptor, so reflection could list it but not describe it.
func NewGRPCServer(validator *auth.Validator, srv ApprovalsServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.UnaryInterceptor(auth.UnaryServerInterceptor(validator))}, opts...)
	s := grpc.NewServer(opts...)
	RegisterApprovalsServer(s, srv)
	return s
}

// GRPCHandler implements ApprovalsServer over the workflow service.
type GRPCHandler struct {
	service *service.ApprovalWorkflowService
	logger  zerolog.Logger
}

var _ ApprovalsServer = (*GRPCHandler)(nil)

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(svc *service.ApprovalWorkflowService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		service: svc,
		logger:  logger.With().Str("handler", "grpc").Logger(),
	}
}

// EnsureAssignment returns or creates a document's assignment
func (h *GRPCHandler) EnsureAssignment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.EnsureAssignmentRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	h.logger.Info().
		Str("document_type", req.DocumentType).
		Str("document_id", req.DocumentID).
		Msg("gRPC EnsureAssignment called")

	sreq, err := ensureFromWire(req)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	out, err := h.service.EnsureAssignment(ctx, sreq)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to ensure assignment")
		return nil, mapErrorToGRPC(err)
	}
	return encodeResponse(toWireOutcome(out))
}

// GetAssignment retrieves an assignment by ID
func (h *GRPCHandler) GetAssignment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.AssignmentRef
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	a, err := h.service.GetAssignment(ctx, req.ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encodeResponse(api.AssignmentResponse{Assignment: toWireAssignment(a)})
}

func (h *GRPCHandler) GetAssignmentForDocument(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.DocumentRef
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	a, err := h.service.GetAssignmentForDocument(ctx, req.DocumentType, req.DocumentID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encodeResponse(api.AssignmentResponse{Assignment: toWireAssignment(a)})
}

// SetApprovers replaces the approver list
func (h *GRPCHandler) SetApprovers(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.SetApproversRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	h.logger.Info().
		Str("assignment_id", req.AssignmentID).
		Int("approvers", len(req.Approvers)).
		Msg("gRPC SetApprovers called")

	out, err := h.service.SetApprovers(ctx, service.SetApproversRequest{
		AssignmentID:    req.AssignmentID,
		Approvers:       approversFromWire(req.Approvers),
		ExpectedVersion: req.ExpectedVersion,
		Comment:         req.Comment,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to set approvers")
		return nil, mapErrorToGRPC(err)
	}
	return encodeResponse(toWireOutcome(out))
}

// RecordDecision stores the caller's verdict
func (h *GRPCHandler) RecordDecision(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.RecordDecisionRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	h.logger.Info().
		Str("assignment_id", req.AssignmentID).
		Str("decision", req.Decision).
		Msg("gRPC RecordDecision called")

	sreq, err := decisionFromWire(req.AssignmentID, req)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	out, err := h.service.RecordDecision(ctx, sreq)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to record decision")
		return nil, mapErrorToGRPC(err)
	}
	return encodeResponse(toWireOutcome(out))
}

// Finalize closes an approved assignment
func (h *GRPCHandler) Finalize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.FinalizeRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	out, err := h.service.Finalize(ctx, req.AssignmentID, req.Comment)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to finalize assignment")
		return nil, mapErrorToGRPC(err)
	}
	return encodeResponse(toWireOutcome(out))
}

// RemoveAssignment deletes an assignment
func (h *GRPCHandler) RemoveAssignment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.AssignmentRef
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	out, err := h.service.RemoveAssignment(ctx, req.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to remove assignment")
		return nil, mapErrorToGRPC(err)
	}
	return encodeResponse(toWireOutcome(out))
}

func (h *GRPCHandler) ListDecisions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.AssignmentRef
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	rows, err := h.service.DecisionSheet(ctx, req.ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encodeResponse(api.ListDecisionsResponse{Decisions: toWireDecisions(rows)})
}

func (h *GRPCHandler) ListPending(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ListPendingRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	items, err := h.service.PendingForApprover(ctx, req.ApproverID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encodeResponse(api.ListAssignmentsResponse{Assignments: toWireAssignments(items)})
}

func (h *GRPCHandler) StatusHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.DocumentRef
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	entries, err := h.service.StatusHistory(ctx, req.DocumentType, req.DocumentID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encodeResponse(api.StatusHistoryResponse{Entries: toWireHistory(entries)})
}

// Helper functions

func decodeRequest(in *structpb.Struct, v interface{}) error {
	if err := api.FromStruct(in, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func encodeResponse(v interface{}) (*structpb.Struct, error) {
	out, err := api.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// mapErrorToGRPC converts an application error to a status error. The
// application code travels as an ErrorInfo reason so clients can recover it.
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	code := errors.CodeOf(err)
	var grpcCode codes.Code
	switch code {
	case errors.ErrCodeInvalidInput:
		grpcCode = codes.InvalidArgument
	case errors.ErrCodeNotFound:
		grpcCode = codes.NotFound
	case errors.ErrCodeConflict:
		grpcCode = codes.Aborted
	case errors.ErrCodeAssignmentClosed:
		grpcCode = codes.FailedPrecondition
	case errors.ErrCodeNotAnApprover, errors.ErrCodeForbidden:
		grpcCode = codes.PermissionDenied
	case errors.ErrCodeUnauthorized:
		grpcCode = codes.Unauthenticated
	case errors.ErrCodeUpstream:
		grpcCode = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal error")
	}

	msg := err.Error()
	var appErr *errors.Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		msg = appErr.Message
	}
	st, detailErr := status.New(grpcCode, msg).WithDetails(&errdetails.ErrorInfo{
		Reason: string(code),
		Domain: "docapprovals",
	})
	if detailErr != nil {
		return status.Error(grpcCode, msg)
	}
	return st.Err()
}
