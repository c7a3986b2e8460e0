package handler

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-procurement-letters/internal/repository"
	"github.com/pesio-ai/be-procurement-letters/internal/service"
	"github.com/pesio-ai/be-procurement-letters/pkg/auth"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
)

// LetterWorkflowServiceName is the fully qualified gRPC service name.
const LetterWorkflowServiceName = "procurement.v1.LetterWorkflow"

// LetterWorkflowServer is the gRPC surface of the letter workflow. Requests
// and responses are google.protobuf.Struct documents shaped like the HTTP
// JSON bodies.
type LetterWorkflowServer interface {
	CreateLetter(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Resubmit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetProgress(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListInbox(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterLetterWorkflowServer registers srv on s.
func RegisterLetterWorkflowServer(s grpc.ServiceRegistrar, srv LetterWorkflowServer) {
	s.RegisterService(&letterWorkflowServiceDesc, srv)
}

func unaryHandler(method string, call func(LetterWorkflowServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LetterWorkflowServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + LetterWorkflowServiceName + "/" + method,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(LetterWorkflowServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var letterWorkflowServiceDesc = grpc.ServiceDesc{
	ServiceName: LetterWorkflowServiceName,
	HandlerType: (*LetterWorkflowServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("CreateLetter", LetterWorkflowServer.CreateLetter),
		unaryHandler("Decide", LetterWorkflowServer.Decide),
		unaryHandler("Resubmit", LetterWorkflowServer.Resubmit),
		unaryHandler("GetProgress", LetterWorkflowServer.GetProgress),
		unaryHandler("ListInbox", LetterWorkflowServer.ListInbox),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "procurement/v1/letter_workflow.proto",
}

// GRPCHandler implements LetterWorkflowServer
type GRPCHandler struct {
	letters *service.LetterService
	logger  zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(letters *service.LetterService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		letters: letters,
		logger:  logger.With().Str("handler", "grpc").Logger(),
	}
}

type letterRef struct {
	ID string `json:"id"`
}

type decideCall struct {
	letterRef
	decisionRequest
}

type resubmitCall struct {
	letterRef
	letterRequest
}

type inboxCall struct {
	Search   string `json:"search"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// CreateLetter creates a letter and routes it to its first reviewer.
func (h *GRPCHandler) CreateLetter(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	var body letterRequest
	if err := fromStruct(in, &body); err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	req, err := body.toCreate()
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}

	h.logger.Debug().
		Str("user_id", string(actor.UserID)).
		Str("letter_number", req.LetterNumber).
		Msg("gRPC CreateLetter called")

	letter, err := h.letters.CreateLetter(ctx, actor, req)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	return h.toStruct(toLetterView(letter))
}

// Decide records the caller's decision on a letter.
func (h *GRPCHandler) Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	var call decideCall
	if err := fromStruct(in, &call); err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	if call.ID == "" {
		return nil, h.mapErrorToGRPC(errors.InvalidInput("id", "is required"))
	}

	letter, err := h.letters.Decide(ctx, repository.LetterID(call.ID), actor, toDecision(call.Decision), call.Comment)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	return h.toStruct(toLetterView(letter))
}

// Resubmit updates a letter awaiting revision.
func (h *GRPCHandler) Resubmit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	var call resubmitCall
	if err := fromStruct(in, &call); err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	if call.ID == "" {
		return nil, h.mapErrorToGRPC(errors.InvalidInput("id", "is required"))
	}
	req, err := call.letterRequest.toResubmit()
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}

	letter, err := h.letters.Resubmit(ctx, repository.LetterID(call.ID), actor, req)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	return h.toStruct(toLetterView(letter))
}

// GetProgress returns a letter with its history and chain states.
func (h *GRPCHandler) GetProgress(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if _, err := grpcActor(ctx); err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	var ref letterRef
	if err := fromStruct(in, &ref); err != nil {
		return nil, h.mapErrorToGRPC(err)
	}

	progress, err := h.letters.GetProgress(ctx, repository.LetterID(ref.ID))
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	return h.toStruct(toProgressView(progress))
}

// ListInbox lists letters waiting on the caller.
func (h *GRPCHandler) ListInbox(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	var call inboxCall
	if err := fromStruct(in, &call); err != nil {
		return nil, h.mapErrorToGRPC(err)
	}

	result, err := h.letters.ListInbox(ctx, actor, call.Search, call.Page, call.PageSize)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	return h.toStruct(pageView{
		Items:    toLetterViews(result.Letters),
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	})
}

func grpcActor(ctx context.Context) (repository.Actor, error) {
	uc, err := auth.GetUserContext(ctx)
	if err != nil {
		return repository.Actor{}, err
	}
	return actorFrom(uc), nil
}

func fromStruct(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return errors.InvalidInput("body", "invalid request")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.InvalidInput("body", "invalid request")
	}
	return nil
}

func (h *GRPCHandler) toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, h.mapErrorToGRPC(errors.Wrap(err, errors.ErrCodeInternal, "failed to encode response"))
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, h.mapErrorToGRPC(errors.Wrap(err, errors.ErrCodeInternal, "failed to encode response"))
	}
	return out, nil
}

// mapErrorToGRPC maps application error codes to gRPC status codes.
func (h *GRPCHandler) mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	var appErr *errors.AppError
	msg := "internal error"
	if errors.As(err, &appErr) && appErr.Code != errors.ErrCodeInternal {
		msg = appErr.Message
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, msg)
	case errors.ErrCodeConfiguration, errors.ErrCodeApproverNotFound:
		h.logger.Error().Err(err).Msg("Workflow setup error")
		return status.Error(codes.FailedPrecondition, msg)
	case errors.ErrCodeTransient:
		return status.Error(codes.Unavailable, msg)
	default:
		h.logger.Error().Err(err).Msg("gRPC request failed")
		return status.Error(codes.Internal, msg)
	}
}
