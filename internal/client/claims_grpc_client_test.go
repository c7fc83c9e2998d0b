package client_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/pesio-ai/be-ap-threeway/internal/auth"
	"github.com/pesio-ai/be-ap-threeway/internal/client"
	"github.com/pesio-ai/be-ap-threeway/internal/handler"
	"github.com/pesio-ai/be-ap-threeway/internal/logger"
	"github.com/pesio-ai/be-ap-threeway/internal/repository"
	"github.com/pesio-ai/be-ap-threeway/internal/rpc"
	"github.com/pesio-ai/be-ap-threeway/internal/service"
)

const secret = "rahasia"

func startServer(t *testing.T) *bufconn.Listener {
	t.Helper()

	store := repository.NewCSVStore(filepath.Join(t.TempDir(), "db.csv"), repository.DisciplineUpsert)
	svc := service.NewClaimService(store, nil, logger.Nop())

	verifier := auth.Session{Audience: auth.AudiencePrivileged, Actor: "seed"}
	for _, c := range []struct {
		number     string
		visibility repository.Visibility
	}{
		{"SPM-001", repository.VisibilityPublic},
		{"SPM-002", repository.VisibilityPrivate},
	} {
		_, err := svc.SubmitClaim(context.Background(), verifier, &service.ClaimRequest{
			ClaimNumber:   c.number,
			SubmitterName: "Budi",
			Contract:      service.ContractInput{Base: decimal.NewNullDecimal(decimal.NewFromInt(1000))},
			Approved:      true,
			Visibility:    c.visibility,
		})
		require.NoError(t, err)
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(handler.SessionInterceptor(auth.NewStaticSecret(secret))))
	handler.RegisterClaimsServer(srv, handler.NewGRPCHandler(svc, zerolog.Nop()))
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	return lis
}

func newClient(t *testing.T, lis *bufconn.Listener, credential string) *client.ClaimsGRPCClient {
	t.Helper()
	c, err := client.NewClaimsGRPCClient("passthrough:///bufnet", credential, "claimctl",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClaimsGRPCClient_Public(t *testing.T) {
	c := newClient(t, startServer(t), "")
	ctx := context.Background()

	claims, err := c.ListClaims(ctx, "", false)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "SPM-001", claims[0].ClaimNumber)
	assert.Equal(t, "1110", claims[0].Contract.Total.Decimal.String())

	_, err = c.GetClaim(ctx, "SPM-002")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.DistinctKeys(ctx)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestClaimsGRPCClient_Privileged(t *testing.T) {
	c := newClient(t, startServer(t), secret)
	ctx := context.Background()

	claims, err := c.ListClaims(ctx, "", true)
	require.NoError(t, err)
	assert.Len(t, claims, 2)

	claim, err := c.GetClaim(ctx, "SPM-002")
	require.NoError(t, err)
	assert.Equal(t, repository.VisibilityPrivate, claim.Visibility)
	assert.True(t, claim.Status.Approved)
	assert.NotNil(t, claim.Status.ApprovedAt)

	keys, err := c.DistinctKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"SPM-001", "SPM-002"}, keys)
}

func TestClaimsGRPCClient_ForwardsIncomingMetadata(t *testing.T) {
	c := newClient(t, startServer(t), "")
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(rpc.MetadataSecret, secret))

	keys, err := c.DistinctKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
