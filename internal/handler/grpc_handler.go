package handler

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-ap-threeway/internal/auth"
	"github.com/pesio-ai/be-ap-threeway/internal/errors"
	"github.com/pesio-ai/be-ap-threeway/internal/rpc"
	"github.com/pesio-ai/be-ap-threeway/internal/service"
)

// ClaimsServer is the server side of ap.threeway.v1.ClaimsService
type ClaimsServer interface {
	GetClaim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListClaims(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SubmitClaim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	EditClaim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	PreviewMatching(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	DistinctKeys(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ClaimsServiceDesc describes ClaimsService for grpc.Server.RegisterService
var ClaimsServiceDesc = grpc.ServiceDesc{
	ServiceName: rpc.ServiceName,
	HandlerType: (*ClaimsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: rpc.MethodGetClaim, Handler: unaryHandler(rpc.MethodGetClaim, ClaimsServer.GetClaim)},
		{MethodName: rpc.MethodListClaims, Handler: unaryHandler(rpc.MethodListClaims, ClaimsServer.ListClaims)},
		{MethodName: rpc.MethodSubmitClaim, Handler: unaryHandler(rpc.MethodSubmitClaim, ClaimsServer.SubmitClaim)},
		{MethodName: rpc.MethodEditClaim, Handler: unaryHandler(rpc.MethodEditClaim, ClaimsServer.EditClaim)},
		{MethodName: rpc.MethodPreviewMatching, Handler: unaryHandler(rpc.MethodPreviewMatching, ClaimsServer.PreviewMatching)},
		{MethodName: rpc.MethodDistinctKeys, Handler: unaryHandler(rpc.MethodDistinctKeys, ClaimsServer.DistinctKeys)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ap/threeway/v1/claims.proto",
}

// RegisterClaimsServer registers srv on s
func RegisterClaimsServer(s grpc.ServiceRegistrar, srv ClaimsServer) {
	s.RegisterService(&ClaimsServiceDesc, srv)
}

type claimsMethod func(ClaimsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call claimsMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ClaimsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: rpc.FullMethod(method),
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ClaimsServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SessionInterceptor resolves the caller's session from the
// x-verifier-secret metadata key and stores it in the context
func SessionInterceptor(a auth.Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		var secret, actor string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			secret = firstValue(md, rpc.MetadataSecret)
			actor = firstValue(md, rpc.MetadataActor)
		}
		return handler(auth.WithSession(ctx, auth.Resolve(a, secret, actor)), req)
	}
}

func firstValue(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// GRPCHandler implements the ClaimsService gRPC interface
type GRPCHandler struct {
	service *service.ClaimService
	logger  zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(claimService *service.ClaimService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		service: claimService,
		logger:  logger.With().Str("handler", "grpc").Logger(),
	}
}

// GetClaim returns the latest version of a claim
func (h *GRPCHandler) GetClaim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in rpc.GetClaimRequest
	if err := rpc.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	h.logger.Debug().Str("claim_number", in.ClaimNumber).Msg("gRPC GetClaim called")

	claim, err := h.service.GetClaim(ctx, auth.FromContext(ctx), in.ClaimNumber)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	return h.reply(claim)
}

// ListClaims lists claims newest first
func (h *GRPCHandler) ListClaims(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in rpc.ListClaimsRequest
	if err := rpc.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	claims, err := h.service.ListClaims(ctx, auth.FromContext(ctx), service.ListRequest{
		IncludePrivate: in.All,
		Query:          in.Query,
	})
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}

	resp := rpc.ListClaimsResponse{Claims: make([]json.RawMessage, 0, len(claims)), Total: len(claims)}
	for _, c := range claims {
		raw, err := json.Marshal(c)
		if err != nil {
			return nil, h.mapErrorToGRPC(err)
		}
		resp.Claims = append(resp.Claims, raw)
	}
	return h.reply(resp)
}

// SubmitClaim creates the first version of a claim
func (h *GRPCHandler) SubmitClaim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in service.ClaimRequest
	if err := rpc.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	h.logger.Info().Str("claim_number", in.ClaimNumber).Msg("gRPC SubmitClaim called")

	claim, err := h.service.SubmitClaim(ctx, auth.FromContext(ctx), &in)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	return h.reply(claim)
}

// EditClaim saves a new version of an existing claim
func (h *GRPCHandler) EditClaim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in service.ClaimRequest
	if err := rpc.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	h.logger.Info().Str("claim_number", in.ClaimNumber).Msg("gRPC EditClaim called")

	claim, err := h.service.EditClaim(ctx, auth.FromContext(ctx), &in)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	return h.reply(claim)
}

// PreviewMatching computes the matching result for a draft without saving
func (h *GRPCHandler) PreviewMatching(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in service.ClaimRequest
	if err := rpc.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return h.reply(h.service.PreviewMatching(ctx, &in))
}

// DistinctKeys lists every known claim number
func (h *GRPCHandler) DistinctKeys(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	keys, err := h.service.DistinctKeys(ctx, auth.FromContext(ctx))
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	if keys == nil {
		keys = []string{}
	}
	return h.reply(rpc.DistinctKeysResponse{ClaimNumbers: keys})
}

func (h *GRPCHandler) reply(v interface{}) (*structpb.Struct, error) {
	s, err := rpc.ToStruct(v)
	if err != nil {
		return nil, h.mapErrorToGRPC(err)
	}
	return s, nil
}

func (h *GRPCHandler) mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, err.Error())
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.ErrCodeConflict:
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.ErrCodeUnavailable:
		h.logger.Error().Err(err).Msg("gRPC request refused, store unavailable")
		return status.Error(codes.Unavailable, err.Error())
	default:
		h.logger.Error().Err(err).Msg("gRPC request failed")
		return status.Error(codes.Internal, "internal error")
	}
}
