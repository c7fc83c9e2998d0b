package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-threeway/internal/matching"
)

func money(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// sampleClaim returns a fully populated claim with derived and matching
// fields already computed
func sampleClaim(claimNumber string, visibility Visibility) *Claim {
	approvedAt := time.Date(2024, 6, 21, 9, 30, 0, 0, time.UTC)
	c := &Claim{
		ClaimNumber:   claimNumber,
		SubmitterName: "Sari Wulandari",
		Contract: Contract{
			Title:        "Jaringan fiber kantor cabang",
			SignedDate:   "2023-12-15",
			StartDate:    "2024-01-01",
			EndDate:      "2024-12-31",
			Base:         money("10000000.00"),
			Tax:          money("1100000.00"),
			Total:        money("11100000.00"),
			BondRequired: true,
			BondAmount:   money("500000.00"),
			BondStart:    "2024-01-01",
			BondEnd:      "2025-01-31",
		},
		Progress: ProgressCertificate{
			Date:        "2024-06-15",
			Description: "Pekerjaan selesai 100%, \"final\", termasuk, koma",
		},
		Billing: Billing{
			Title:            "Termin 1",
			ThresholdText:    "100% progress",
			ThresholdPercent: 100,
			DocumentDate:     "2024-06-20",
			InvoiceBase:      money("10000000.00"),
			InvoiceTax:       money("1100000.00"),
			InvoiceTotal:     money("11100000.00"),
			TaxInvoiceNumber: "010.000-24.00000001",
			TaxInvoiceDate:   "2024-06-20",
			TaxInvoiceBase:   money("10000000.00"),
			TaxInvoiceTax:    money("1100000.00"),
		},
		Status: Status{
			Approved:   true,
			ApprovedAt: &approvedAt,
		},
		Visibility: visibility,
	}
	c.Matching = matching.Evaluate(c.MatchingInput())
	return c
}

// fixedClock returns a clock that advances one second per call
func fixedClock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(time.Second)
		return now
	}
}
