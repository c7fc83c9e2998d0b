package client

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-ap-threeway/internal/repository"
	"github.com/pesio-ai/be-ap-threeway/internal/rpc"
)

// ClaimsGRPCClient is a gRPC client for the claims service
type ClaimsGRPCClient struct {
	conn *grpc.ClientConn
}

// NewClaimsGRPCClient creates a claims client. A non-empty secret is sent
// with every call and grants privileged access when it matches the
// server's.
func NewClaimsGRPCClient(addr, secret, actor string, opts ...grpc.DialOption) (*ClaimsGRPCClient, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(forwardMetadata, withCredential(secret, actor)),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	return &ClaimsGRPCClient{conn: conn}, nil
}

// Close closes the gRPC connection
func (c *ClaimsGRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// GetClaim retrieves the latest version of a claim
func (c *ClaimsGRPCClient) GetClaim(ctx context.Context, claimNumber string) (*repository.Claim, error) {
	var claim repository.Claim
	if err := c.call(ctx, rpc.MethodGetClaim, rpc.GetClaimRequest{ClaimNumber: claimNumber}, &claim); err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return &claim, nil
}

// ListClaims lists claims newest first. all asks for private claims too.
func (c *ClaimsGRPCClient) ListClaims(ctx context.Context, query string, all bool) ([]*repository.Claim, error) {
	var resp rpc.ListClaimsResponse
	if err := c.call(ctx, rpc.MethodListClaims, rpc.ListClaimsRequest{Query: query, All: all}, &resp); err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}

	claims := make([]*repository.Claim, 0, len(resp.Claims))
	for _, raw := range resp.Claims {
		var claim repository.Claim
		if err := json.Unmarshal(raw, &claim); err != nil {
			return nil, fmt.Errorf("failed to decode claim: %w", err)
		}
		claims = append(claims, &claim)
	}
	return claims, nil
}

// DistinctKeys lists every known claim number
func (c *ClaimsGRPCClient) DistinctKeys(ctx context.Context) ([]string, error) {
	var resp rpc.DistinctKeysResponse
	if err := c.call(ctx, rpc.MethodDistinctKeys, struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("failed to list claim numbers: %w", err)
	}
	return resp.ClaimNumbers, nil
}

func (c *ClaimsGRPCClient) call(ctx context.Context, method string, req, resp interface{}) error {
	in, err := rpc.ToStruct(req)
	if err != nil {
		return err
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, rpc.FullMethod(method), in, out); err != nil {
		return err
	}
	return rpc.FromStruct(out, resp)
}

// withCredential attaches the verifier secret and name to outgoing calls
func withCredential(secret, actor string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if secret != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, rpc.MetadataSecret, secret)
		}
		if actor != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, rpc.MetadataActor, actor)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
