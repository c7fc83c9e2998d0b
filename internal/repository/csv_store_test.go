package repository

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ap-threeway/internal/auth"
	"github.com/pesio-ai/be-ap-threeway/internal/errors"
)

var clockStart = time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

func newTestCSVStore(t *testing.T, discipline Discipline) *CSVStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "db.csv")
	return NewCSVStore(path, discipline, WithClock(fixedClock(clockStart)))
}

func readHeader(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	require.NoError(t, err)
	return header
}

func TestCSVStore_EnsureInitialized(t *testing.T) {
	ctx := context.Background()

	t.Run("should create the file with the canonical header", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)

		require.NoError(t, store.EnsureInitialized(ctx))

		assert.Equal(t, Columns, readHeader(t, store.Path()))
	})

	t.Run("should be idempotent and leave data untouched", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)
		require.NoError(t, store.EnsureInitialized(ctx))
		require.NoError(t, store.Put(ctx, sampleClaim("SPM-001", VisibilityPublic)))

		require.NoError(t, store.EnsureInitialized(ctx))

		keys, err := store.DistinctKeys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"SPM-001"}, keys)
	})
}

func TestCSVStore_Put(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject an empty claim number", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)

		err := store.Put(ctx, sampleClaim("  ", VisibilityPublic))

		assert.ErrorIs(t, err, ErrEmptyClaimNumber)
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	})

	t.Run("should stamp the write time", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)
		c := sampleClaim("SPM-001", VisibilityPublic)

		require.NoError(t, store.Put(ctx, c))

		assert.Equal(t, clockStart, c.UpdatedAt)
	})

	t.Run("should reject money finer than a cent", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)
		c := sampleClaim("SPM-001", VisibilityPublic)
		c.Contract.BondAmount = money("100.005")

		err := store.Put(ctx, c)

		assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
		assert.ErrorContains(t, err, "bond_amount")

		_, err = store.GetLatest(ctx, "SPM-001")
		assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
	})

	t.Run("should round-trip a bond with cents", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)
		c := sampleClaim("SPM-001", VisibilityPublic)
		c.Contract.BondAmount = money("100.5")
		require.NoError(t, store.Put(ctx, c))

		got, err := store.GetLatest(ctx, "SPM-001")
		require.NoError(t, err)

		assert.True(t, got.Contract.BondAmount.Decimal.Equal(decimal.RequireFromString("100.50")))
	})

	for _, discipline := range []Discipline{DisciplineAppend, DisciplineUpsert} {
		t.Run("should round-trip under "+string(discipline), func(t *testing.T) {
			store := newTestCSVStore(t, discipline)
			c := sampleClaim("SPM-001", VisibilityPublic)
			require.NoError(t, store.Put(ctx, c))

			got, err := store.GetLatest(ctx, "SPM-001")
			require.NoError(t, err)

			assert.Equal(t, encodeClaim(c), encodeClaim(got))
		})
	}
}

func TestCSVStore_Disciplines(t *testing.T) {
	ctx := context.Background()
	privileged := ListFilter{Audience: auth.AudiencePrivileged}

	t.Run("upsert keeps exactly one row per claim", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineUpsert)
		v1 := sampleClaim("SPM-001", VisibilityPublic)
		v2 := sampleClaim("SPM-001", VisibilityPublic)
		v2.Contract.Title = "Revisi kontrak"
		other := sampleClaim("SPM-002", VisibilityPublic)

		require.NoError(t, store.Put(ctx, v1))
		require.NoError(t, store.Put(ctx, other))
		require.NoError(t, store.Put(ctx, v2))

		claims, err := store.List(ctx, privileged)
		require.NoError(t, err)
		require.Len(t, claims, 2)

		assert.Equal(t, "SPM-001", claims[0].ClaimNumber)
		assert.Equal(t, encodeClaim(v2), encodeClaim(claims[0]))
		assert.Equal(t, "SPM-002", claims[1].ClaimNumber)
	})

	t.Run("append keeps history and serves the newest version", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)
		v1 := sampleClaim("SPM-001", VisibilityPublic)
		v2 := sampleClaim("SPM-001", VisibilityPublic)
		v2.Contract.Title = "Revisi kontrak"

		require.NoError(t, store.Put(ctx, v1))
		require.NoError(t, store.Put(ctx, v2))

		claims, err := store.List(ctx, privileged)
		require.NoError(t, err)
		require.Len(t, claims, 2)
		assert.Equal(t, "Revisi kontrak", claims[0].Contract.Title)

		latest, err := store.GetLatest(ctx, "SPM-001")
		require.NoError(t, err)
		assert.Equal(t, encodeClaim(v2), encodeClaim(latest))
	})

	t.Run("append resolves equal timestamps to the later write", func(t *testing.T) {
		frozen := func() time.Time { return clockStart }
		store := NewCSVStore(filepath.Join(t.TempDir(), "db.csv"), DisciplineAppend, WithClock(frozen))
		v1 := sampleClaim("SPM-001", VisibilityPublic)
		v2 := sampleClaim("SPM-001", VisibilityPublic)
		v2.SubmitterName = "Second"

		require.NoError(t, store.Put(ctx, v1))
		require.NoError(t, store.Put(ctx, v2))

		latest, err := store.GetLatest(ctx, "SPM-001")
		require.NoError(t, err)
		assert.Equal(t, "Second", latest.SubmitterName)
	})
}

func TestCSVStore_GetLatest(t *testing.T) {
	ctx := context.Background()

	t.Run("should report not found for an unknown claim", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)
		require.NoError(t, store.Put(ctx, sampleClaim("SPM-001", VisibilityPublic)))

		got, err := store.GetLatest(ctx, "SPM-404")

		assert.Nil(t, got)
		assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
	})

	t.Run("should report not found on a missing file", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)

		_, err := store.GetLatest(ctx, "SPM-001")

		assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
	})
}

func TestCSVStore_List(t *testing.T) {
	ctx := context.Background()

	t.Run("should return an empty slice for an empty store", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)
		require.NoError(t, store.EnsureInitialized(ctx))

		claims, err := store.List(ctx, ListFilter{Audience: auth.AudiencePublic})

		require.NoError(t, err)
		assert.NotNil(t, claims)
		assert.Empty(t, claims)
	})

	t.Run("should hide private claims from the public audience", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)
		require.NoError(t, store.Put(ctx, sampleClaim("SPM-001", VisibilityPublic)))
		require.NoError(t, store.Put(ctx, sampleClaim("SPM-002", VisibilityPrivate)))
		require.NoError(t, store.Put(ctx, sampleClaim("SPM-003", VisibilityPublic)))

		public, err := store.List(ctx, ListFilter{Audience: auth.AudiencePublic})
		require.NoError(t, err)
		require.Len(t, public, 2)
		for _, c := range public {
			assert.Equal(t, VisibilityPublic, c.Visibility)
		}
		assert.Equal(t, "SPM-003", public[0].ClaimNumber)

		all, err := store.List(ctx, ListFilter{Audience: auth.AudiencePrivileged})
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("should search claim numbers case-insensitively", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)
		require.NoError(t, store.Put(ctx, sampleClaim("SPM-2024-001", VisibilityPublic)))
		require.NoError(t, store.Put(ctx, sampleClaim("SPM-2023-777", VisibilityPublic)))

		claims, err := store.List(ctx, ListFilter{Audience: auth.AudiencePrivileged, ClaimNumberContains: "spm-2024"})
		require.NoError(t, err)
		require.Len(t, claims, 1)
		assert.Equal(t, "SPM-2024-001", claims[0].ClaimNumber)
	})
}

func TestCSVStore_DistinctKeys(t *testing.T) {
	ctx := context.Background()
	store := newTestCSVStore(t, DisciplineAppend)
	for _, key := range []string{"SPM-003", "SPM-001", "SPM-003", "SPM-002"} {
		require.NoError(t, store.Put(ctx, sampleClaim(key, VisibilityPublic)))
	}

	keys, err := store.DistinctKeys(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"SPM-001", "SPM-002", "SPM-003"}, keys)
}

const legacyCSV = `created_at,nama_verifikator,no_spm,judul_kontrak,tgl_kontrak,mulai,selesai,dpp,ppn,total,jaminan,tgl_ba,progress,judul_tagihan,syarat_progress,syarat_persen,tgl_dok,inv_dpp,inv_ppn,inv_total,faktur_no,faktur_tgl,faktur_dpp,faktur_ppn,match_tgl_ba_range,match_nilai_invoice,match_tgl_faktur_invoice,match_ppn_faktur_invoice,match_overall,approved,approved_at,notapproved_reason,notapproved_at
2024-06-01T10:00:00.123456,Budi,SPM-OLD-1,Renovasi,2024-01-01,2024-01-01,2024-12-31,1000000.0,110000.0,1110000.0,False,2024-05-01,selesai,Termin,,0,2024-05-02,1000000.0,110000.0,1110000.0,010.1,2024-05-02,1000000.0,110000.0,True,True,True,True,True,True,2024-06-01T10:00:00.123456,,
`

func TestCSVStore_Migrate(t *testing.T) {
	ctx := context.Background()

	t.Run("should refuse to read a legacy file until migrated", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)
		require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))
		require.NoError(t, os.WriteFile(store.Path(), []byte(legacyCSV), 0o644))

		require.NoError(t, store.EnsureInitialized(ctx))
		_, err := store.List(ctx, ListFilter{Audience: auth.AudiencePrivileged})
		assert.ErrorIs(t, err, ErrSchemaOutdated)

		err = store.Put(ctx, sampleClaim("SPM-NEW", VisibilityPublic))
		assert.ErrorIs(t, err, ErrSchemaOutdated)
	})

	t.Run("should rename legacy columns and fill new ones", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)
		require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))
		require.NoError(t, os.WriteFile(store.Path(), []byte(legacyCSV), 0o644))

		result, err := store.Migrate(ctx)
		require.NoError(t, err)

		assert.Equal(t, 1, result.RowsMigrated)
		assert.Contains(t, result.ColumnsAdded, colVisibility)
		assert.Contains(t, result.ColumnsAdded, colMatchVerdict)
		assert.Equal(t, Columns, readHeader(t, store.Path()))

		got, err := store.GetLatest(ctx, "SPM-OLD-1")
		require.NoError(t, err)
		assert.Equal(t, "Budi", got.SubmitterName)
		assert.Equal(t, "1110000.00", got.Contract.Total.Decimal.StringFixed(2))
		assert.True(t, got.Matching.Overall)
		assert.Equal(t, "MATCH", string(got.Matching.Verdict))
		assert.Equal(t, VisibilityPrivate, got.Visibility)
		assert.True(t, got.Status.Approved)

		public, err := store.List(ctx, ListFilter{Audience: auth.AudiencePublic})
		require.NoError(t, err)
		assert.Empty(t, public)
	})

	t.Run("should be a no-op on a current file", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)
		require.NoError(t, store.Put(ctx, sampleClaim("SPM-001", VisibilityPublic)))
		before, err := os.ReadFile(store.Path())
		require.NoError(t, err)

		result, err := store.Migrate(ctx)
		require.NoError(t, err)

		after, err := os.ReadFile(store.Path())
		require.NoError(t, err)
		assert.Empty(t, result.ColumnsAdded)
		assert.Equal(t, string(before), string(after))
	})

	t.Run("should create a missing file", func(t *testing.T) {
		store := newTestCSVStore(t, DisciplineAppend)

		_, err := store.Migrate(ctx)
		require.NoError(t, err)

		assert.Equal(t, strings.Join(Columns, ","), strings.Join(readHeader(t, store.Path()), ","))
	})
}
