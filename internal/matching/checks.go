package matching

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Verdict is the overall conclusion of a matching run.
type Verdict string

const (
	VerdictMatch    Verdict = "MATCH"
	VerdictNotMatch Verdict = "NOT_MATCH"
)

// Advisory records a check that is never automated and needs a human.
type Advisory string

const (
	AdvisoryNotProvided  Advisory = "NOT_PROVIDED"
	AdvisoryManualReview Advisory = "MANUAL_REVIEW"
)

// Input is the subset of a claim the checks look at. Dates are the raw
// strings as stored; anything missing or unparseable fails its check.
type Input struct {
	ContractStart   string
	ContractEnd     string
	CertificateDate string

	ContractTotal decimal.NullDecimal
	InvoiceTotal  decimal.NullDecimal

	InvoiceDate    string
	TaxInvoiceDate string

	InvoiceTax    decimal.NullDecimal
	TaxInvoiceTax decimal.NullDecimal

	ThresholdText string
}

// Result holds every check outcome plus the overall verdict.
type Result struct {
	DateRangeOK       bool     `json:"date_range_ok"`
	ValueOK           bool     `json:"value_ok"`
	TaxDateOK         bool     `json:"tax_date_ok"`
	TaxPPNOK          bool     `json:"tax_ppn_ok"`
	Overall           bool     `json:"overall"`
	Verdict           Verdict  `json:"verdict"`
	ProgressThreshold Advisory `json:"progress_threshold"`
}

// Evaluate runs all checks. It never fails: a check whose inputs are
// missing or malformed is reported as failed and the others still run.
func Evaluate(in Input) Result {
	res := Result{
		DateRangeOK:       DateInRange(in.ContractStart, in.ContractEnd, in.CertificateDate),
		ValueOK:           AmountsMatch(in.InvoiceTotal, in.ContractTotal),
		TaxDateOK:         SameDay(in.TaxInvoiceDate, in.InvoiceDate),
		TaxPPNOK:          AmountsMatch(in.TaxInvoiceTax, in.InvoiceTax),
		ProgressThreshold: ThresholdAdvisory(in.ThresholdText),
	}

	res.Overall = res.DateRangeOK && res.ValueOK && res.TaxDateOK && res.TaxPPNOK
	res.Verdict = VerdictNotMatch
	if res.Overall {
		res.Verdict = VerdictMatch
	}

	return res
}

// DateInRange reports whether date lies within [start, end], both inclusive.
func DateInRange(start, end, date string) bool {
	s, ok := ParseDay(start)
	if !ok {
		return false
	}
	e, ok := ParseDay(end)
	if !ok {
		return false
	}
	d, ok := ParseDay(date)
	if !ok {
		return false
	}
	return !d.Before(s) && !d.After(e)
}

// AmountsMatch reports whether |a - b| <= 0.01. The boundary is inclusive.
func AmountsMatch(a, b decimal.NullDecimal) bool {
	if !a.Valid || !b.Valid {
		return false
	}
	return a.Decimal.Sub(b.Decimal).Abs().LessThanOrEqual(tolerance)
}

// SameDay reports whether two dates fall on the same calendar day,
// ignoring any time of day.
func SameDay(a, b string) bool {
	da, ok := ParseDay(a)
	if !ok {
		return false
	}
	db, ok := ParseDay(b)
	if !ok {
		return false
	}
	return da.Equal(db)
}

// ThresholdAdvisory classifies the contractual progress threshold text.
func ThresholdAdvisory(text string) Advisory {
	if strings.TrimSpace(text) == "" {
		return AdvisoryNotProvided
	}
	return AdvisoryManualReview
}

var dayLayouts = []string{
	time.DateOnly,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	time.DateTime,
}

// ParseDay parses a calendar date, accepting a bare date or a timestamp.
// The result is midnight UTC of that day.
func ParseDay(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
