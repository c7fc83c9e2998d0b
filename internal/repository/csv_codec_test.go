package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ap-threeway/internal/matching"
)

func TestClaimCodec_RoundTrip(t *testing.T) {
	c := sampleClaim("SPM-001", VisibilityPublic)
	c.UpdatedAt = time.Date(2024, 6, 21, 10, 0, 0, 123456000, time.UTC)

	cells := encodeClaim(c)
	assert.Len(t, cells, len(Columns))

	got, err := decodeClaim(cells)
	require.NoError(t, err)

	assert.Equal(t, cells, encodeClaim(got))
	assert.True(t, got.UpdatedAt.Equal(c.UpdatedAt))
	assert.Equal(t, matching.VerdictMatch, got.Matching.Verdict)
	assert.Nil(t, got.Status.RejectedAt)
}

func TestEncodeClaim(t *testing.T) {
	c := sampleClaim("SPM-001", VisibilityPrivate)
	c.Billing.InvoiceBase.Valid = false

	cells := encodeClaim(c)

	assert.Equal(t, "11100000.00", cells[colContractTotal])
	assert.Equal(t, "", cells[colInvoiceBase])
	assert.Equal(t, "true", cells[colBondRequired])
	assert.Equal(t, "", cells[colRejectedAt])
	assert.Equal(t, "private", cells[colVisibility])
}

func TestDecodeClaim(t *testing.T) {
	t.Run("should accept spreadsheet-style values", func(t *testing.T) {
		got, err := decodeClaim(map[string]string{
			colClaimNumber:      "SPM-9",
			colContractBase:     "10000000.0",
			colBondRequired:     "True",
			colThresholdPercent: "50.0",
			colApprovedAt:       "2024-06-01T10:00:00.123456",
			colLastUpdated:      "2024-06-01T10:00:00.123456",
		})
		require.NoError(t, err)

		assert.True(t, got.Contract.Base.Valid)
		assert.Equal(t, "10000000.00", got.Contract.Base.Decimal.StringFixed(2))
		assert.True(t, got.Contract.BondRequired)
		assert.Equal(t, 50, got.Billing.ThresholdPercent)
		require.NotNil(t, got.Status.ApprovedAt)
		assert.Equal(t, 2024, got.UpdatedAt.Year())
	})

	t.Run("should reject a corrupt amount", func(t *testing.T) {
		_, err := decodeClaim(map[string]string{colInvoiceTotal: "eleven"})
		assert.ErrorContains(t, err, colInvoiceTotal)
	})

	t.Run("should reject a corrupt boolean", func(t *testing.T) {
		_, err := decodeClaim(map[string]string{colApproved: "maybe"})
		assert.ErrorContains(t, err, colApproved)
	})

	t.Run("should reject a threshold that is not a whole percent", func(t *testing.T) {
		for _, v := range []string{"50.7", "150", "-1", "half"} {
			_, err := decodeClaim(map[string]string{colThresholdPercent: v})
			assert.ErrorContains(t, err, colThresholdPercent, v)
		}
	})

	t.Run("should accept the threshold bounds", func(t *testing.T) {
		for v, want := range map[string]int{"0": 0, "100.00": 100, " 75 ": 75} {
			got, err := decodeClaim(map[string]string{colThresholdPercent: v})
			require.NoError(t, err, v)
			assert.Equal(t, want, got.Billing.ThresholdPercent, v)
		}
	})
}

func TestCanonicalName(t *testing.T) {
	assert.Equal(t, colClaimNumber, canonicalName("no_spm"))
	assert.Equal(t, colTaxInvoiceTax, canonicalName(" faktur_ppn "))
	assert.Equal(t, colVisibility, canonicalName("visibility"))
	assert.Equal(t, colMatchOverall, canonicalName("match_overall"))
}

func TestUpgradeLegacyCells(t *testing.T) {
	cells := map[string]string{
		colMatchOverall:  "True",
		colThresholdText: "",
		colLastUpdated:   "2024-06-01T10:00:00",
	}

	upgradeLegacyCells(cells)

	assert.Equal(t, string(matching.VerdictMatch), cells[colMatchVerdict])
	assert.Equal(t, string(matching.AdvisoryNotProvided), cells[colThresholdAdvisory])
	assert.Equal(t, string(VisibilityPrivate), cells[colVisibility])
	assert.Equal(t, "2024-06-01T10:00:00Z", cells[colLastUpdated])
}
