package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ap-threeway/internal/auth"
	"github.com/pesio-ai/be-ap-threeway/internal/logger"
	"github.com/pesio-ai/be-ap-threeway/internal/repository"
	"github.com/pesio-ai/be-ap-threeway/internal/service"
)

const testSecret = "rahasia"

func setupEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "db.csv")
	t.Setenv("STORE_BACKEND", "csv")
	t.Setenv("STORE_DISCIPLINE", "append")
	t.Setenv("CSV_PATH", path)
	t.Setenv("AUTH_VERIFIER_SECRET", testSecret)
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seed(t *testing.T, path string) {
	t.Helper()
	svc := service.NewClaimService(repository.NewCSVStore(path, repository.DisciplineAppend), nil, logger.Nop())
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
}

func TestInitCmd(t *testing.T) {
	path := setupEnv(t)

	out, err := run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Store ready (csv, append)")
	assert.FileExists(t, path)

	// idempotent
	_, err = run(t, "init")
	require.NoError(t, err)
}

func TestListCmd(t *testing.T) {
	path := setupEnv(t)
	seed(t, path)

	out, err := run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "SPM-001")
	assert.NotContains(t, out, "SPM-002")
	assert.Contains(t, out, "Total: 1 claims")

	_, err = run(t, "list", "--all")
	assert.Error(t, err)

	out, err = run(t, "list", "--all", "--secret", testSecret, "-q", "002")
	require.NoError(t, err)
	assert.Contains(t, out, "SPM-002")
	assert.NotContains(t, out, "SPM-001")
}

func TestShowAndKeysCmd(t *testing.T) {
	path := setupEnv(t)
	seed(t, path)

	out, err := run(t, "show", "SPM-001")
	require.NoError(t, err)
	assert.Contains(t, out, `"claim_number": "SPM-001"`)

	_, err = run(t, "show", "SPM-002")
	assert.ErrorContains(t, err, "not found")

	_, err = run(t, "keys")
	assert.Error(t, err)

	out, err = run(t, "keys", "--secret", testSecret)
	require.NoError(t, err)
	assert.Equal(t, "SPM-001\nSPM-002\n", out)
}

func TestMigrateCmd(t *testing.T) {
	path := setupEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	legacy := "no_spm,nama_verifikator,dpp,match_overall,approved\nSPM-OLD,Budi,1000,True,True\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Migrated 1 rows")

	out, err = run(t, "show", "SPM-OLD", "--secret", testSecret)
	require.NoError(t, err)
	assert.Contains(t, out, `"submitter_name": "Budi"`)
}

func TestCSVPathFlagOverridesEnv(t *testing.T) {
	setupEnv(t)
	other := filepath.Join(t.TempDir(), "other.csv")

	_, err := run(t, "init", "--csv-path", other)
	require.NoError(t, err)
	assert.FileExists(t, other)
}
