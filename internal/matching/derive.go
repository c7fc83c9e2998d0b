// Package matching derives the tax and total amounts of a claim and runs the
// three-way matching checks between contract, progress certificate and
// billing documents. Everything here is pure computation.
package matching

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of fractional digits kept for every amount.
const MoneyPlaces = 2

var (
	// 11% PPN
	taxRate   = decimal.RequireFromString("0.11")
	tolerance = decimal.RequireFromString("0.01")
)

// TaxRate returns the fixed PPN rate applied to every base amount.
func TaxRate() decimal.Decimal {
	return taxRate
}

// Tolerance returns the absolute tolerance used for monetary equality.
func Tolerance() decimal.Decimal {
	return tolerance
}

// Amounts is one base/tax/total triple. A missing base leaves tax and total
// missing as well.
type Amounts struct {
	Base  decimal.NullDecimal `json:"base"`
	Tax   decimal.NullDecimal `json:"tax"`
	Total decimal.NullDecimal `json:"total"`
}

// DeriveTax computes round(base * 0.11, 2), rounding half away from zero.
func DeriveTax(base decimal.Decimal) decimal.Decimal {
	return base.Mul(taxRate).Round(MoneyPlaces)
}

// DeriveTotal computes base + DeriveTax(base).
func DeriveTotal(base decimal.Decimal) decimal.Decimal {
	return base.Add(DeriveTax(base))
}

// FitsMoney reports whether d has no more than MoneyPlaces significant
// fractional digits. 1.500 fits, 1.005 does not.
func FitsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyPlaces))
}

// Derive fills tax and total from base. The base is rounded once and tax
// and total are computed from the rounded value, so the returned triple
// always satisfies tax = DeriveTax(Base) and total = Base + tax.
func Derive(base decimal.NullDecimal) Amounts {
	if !base.Valid {
		return Amounts{}
	}
	b := base.Decimal.Round(MoneyPlaces)
	tax := DeriveTax(b)
	return Amounts{
		Base:  decimal.NewNullDecimal(b),
		Tax:   decimal.NewNullDecimal(tax),
		Total: decimal.NewNullDecimal(b.Add(tax)),
	}
}
