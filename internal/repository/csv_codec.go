package repository

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-threeway/internal/matching"
)

// Canonical column names, one CSV row per claim version
const (
	colClaimNumber         = "claim_number"
	colSubmitterName       = "submitter_name"
	colContractTitle       = "contract_title"
	colContractSignedDate  = "contract_signed_date"
	colContractStartDate   = "contract_start_date"
	colContractEndDate     = "contract_end_date"
	colContractBase        = "contract_base"
	colContractTax         = "contract_tax"
	colContractTotal       = "contract_total"
	colBondRequired        = "bond_required"
	colBondAmount          = "bond_amount"
	colBondStart           = "bond_start"
	colBondEnd             = "bond_end"
	colProgressDate        = "progress_date"
	colProgressDescription = "progress_description"
	colBillingTitle        = "billing_title"
	colThresholdText       = "threshold_text"
	colThresholdPercent    = "threshold_percent"
	colBillingDocDate      = "billing_doc_date"
	colInvoiceBase         = "invoice_base"
	colInvoiceTax          = "invoice_tax"
	colInvoiceTotal        = "invoice_total"
	colTaxInvoiceNo        = "tax_invoice_no"
	colTaxInvoiceDate      = "tax_invoice_date"
	colTaxInvoiceBase      = "tax_invoice_base"
	colTaxInvoiceTax       = "tax_invoice_tax"
	colMatchDateRange      = "match_date_range"
	colMatchValue          = "match_value"
	colMatchTaxDate        = "match_tax_date"
	colMatchTaxPPN         = "match_tax_ppn"
	colMatchOverall        = "match_overall"
	colMatchVerdict        = "match_verdict"
	colThresholdAdvisory   = "progress_threshold_advisory"
	colApproved            = "approved"
	colApprovedAt          = "approved_at"
	colRejectionReason     = "rejection_reason"
	colRejectedAt          = "rejected_at"
	colVisibility          = "visibility"
	colLastUpdated         = "last_updated"
)

// Columns is the canonical column set in file order
var Columns = []string{
	colClaimNumber, colSubmitterName,
	colContractTitle, colContractSignedDate, colContractStartDate, colContractEndDate,
	colContractBase, colContractTax, colContractTotal,
	colBondRequired, colBondAmount, colBondStart, colBondEnd,
	colProgressDate, colProgressDescription,
	colBillingTitle, colThresholdText, colThresholdPercent, colBillingDocDate,
	colInvoiceBase, colInvoiceTax, colInvoiceTotal,
	colTaxInvoiceNo, colTaxInvoiceDate, colTaxInvoiceBase, colTaxInvoiceTax,
	colMatchDateRange, colMatchValue, colMatchTaxDate, colMatchTaxPPN, colMatchOverall,
	colMatchVerdict, colThresholdAdvisory,
	colApproved, colApprovedAt, colRejectionReason, colRejectedAt,
	colVisibility, colLastUpdated,
}

// legacyColumns maps headers written by the earlier spreadsheet tool to
// canonical names
var legacyColumns = map[string]string{
	"created_at":               colLastUpdated,
	"nama_verifikator":         colSubmitterName,
	"no_spm":                   colClaimNumber,
	"judul_kontrak":            colContractTitle,
	"tgl_kontrak":              colContractSignedDate,
	"mulai":                    colContractStartDate,
	"selesai":                  colContractEndDate,
	"dpp":                      colContractBase,
	"ppn":                      colContractTax,
	"total":                    colContractTotal,
	"jaminan":                  colBondRequired,
	"tgl_ba":                   colProgressDate,
	"progress":                 colProgressDescription,
	"judul_tagihan":            colBillingTitle,
	"syarat_progress":          colThresholdText,
	"syarat_persen":            colThresholdPercent,
	"tgl_dok":                  colBillingDocDate,
	"inv_dpp":                  colInvoiceBase,
	"inv_ppn":                  colInvoiceTax,
	"inv_total":                colInvoiceTotal,
	"faktur_no":                colTaxInvoiceNo,
	"faktur_tgl":               colTaxInvoiceDate,
	"faktur_dpp":               colTaxInvoiceBase,
	"faktur_ppn":               colTaxInvoiceTax,
	"match_tgl_ba_range":       colMatchDateRange,
	"match_nilai_invoice":      colMatchValue,
	"match_tgl_faktur_invoice": colMatchTaxDate,
	"match_ppn_faktur_invoice": colMatchTaxPPN,
	"notapproved_reason":       colRejectionReason,
	"notapproved_at":           colRejectedAt,
}

// canonicalName resolves a header cell to its canonical column name
func canonicalName(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	if name, ok := legacyColumns[h]; ok {
		return name
	}
	return h
}

// missingColumns lists canonical columns absent from header
func missingColumns(header []string) []string {
	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[strings.TrimSpace(h)] = struct{}{}
	}
	var missing []string
	for _, c := range Columns {
		if _, ok := present[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// encodeClaim renders a claim as column -> cell
func encodeClaim(c *Claim) map[string]string {
	return map[string]string{
		colClaimNumber:         c.ClaimNumber,
		colSubmitterName:       c.SubmitterName,
		colContractTitle:       c.Contract.Title,
		colContractSignedDate:  c.Contract.SignedDate,
		colContractStartDate:   c.Contract.StartDate,
		colContractEndDate:     c.Contract.EndDate,
		colContractBase:        encodeMoney(c.Contract.Base),
		colContractTax:         encodeMoney(c.Contract.Tax),
		colContractTotal:       encodeMoney(c.Contract.Total),
		colBondRequired:        strconv.FormatBool(c.Contract.BondRequired),
		colBondAmount:          encodeMoney(c.Contract.BondAmount),
		colBondStart:           c.Contract.BondStart,
		colBondEnd:             c.Contract.BondEnd,
		colProgressDate:        c.Progress.Date,
		colProgressDescription: c.Progress.Description,
		colBillingTitle:        c.Billing.Title,
		colThresholdText:       c.Billing.ThresholdText,
		colThresholdPercent:    strconv.Itoa(c.Billing.ThresholdPercent),
		colBillingDocDate:      c.Billing.DocumentDate,
		colInvoiceBase:         encodeMoney(c.Billing.InvoiceBase),
		colInvoiceTax:          encodeMoney(c.Billing.InvoiceTax),
		colInvoiceTotal:        encodeMoney(c.Billing.InvoiceTotal),
		colTaxInvoiceNo:        c.Billing.TaxInvoiceNumber,
		colTaxInvoiceDate:      c.Billing.TaxInvoiceDate,
		colTaxInvoiceBase:      encodeMoney(c.Billing.TaxInvoiceBase),
		colTaxInvoiceTax:       encodeMoney(c.Billing.TaxInvoiceTax),
		colMatchDateRange:      strconv.FormatBool(c.Matching.DateRangeOK),
		colMatchValue:          strconv.FormatBool(c.Matching.ValueOK),
		colMatchTaxDate:        strconv.FormatBool(c.Matching.TaxDateOK),
		colMatchTaxPPN:         strconv.FormatBool(c.Matching.TaxPPNOK),
		colMatchOverall:        strconv.FormatBool(c.Matching.Overall),
		colMatchVerdict:        string(c.Matching.Verdict),
		colThresholdAdvisory:   string(c.Matching.ProgressThreshold),
		colApproved:            strconv.FormatBool(c.Status.Approved),
		colApprovedAt:          encodeTime(c.Status.ApprovedAt),
		colRejectionReason:     c.Status.RejectionReason,
		colRejectedAt:          encodeTime(c.Status.RejectedAt),
		colVisibility:          string(c.Visibility),
		colLastUpdated:         c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// cellDecoder accumulates the first decode failure so a row can be decoded
// field by field without checking every call
type cellDecoder struct {
	cells map[string]string
	err   error
}

func (d *cellDecoder) str(col string) string {
	return d.cells[col]
}

func (d *cellDecoder) money(col string) decimal.NullDecimal {
	v := strings.TrimSpace(d.cells[col])
	if v == "" || d.err != nil {
		return decimal.NullDecimal{}
	}
	m, err := decimal.NewFromString(v)
	if err != nil {
		d.err = fmt.Errorf("column %s: invalid amount %q", col, v)
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(m)
}

func (d *cellDecoder) boolean(col string) bool {
	v := strings.TrimSpace(d.cells[col])
	if v == "" || d.err != nil {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		d.err = fmt.Errorf("column %s: invalid boolean %q", col, v)
		return false
	}
	return b
}

// percent reads a whole number in [0, 100]. Spreadsheets write whole
// numbers as 50.0, which is accepted; 50.7 is not.
func (d *cellDecoder) percent(col string) int {
	v := strings.TrimSpace(d.cells[col])
	if v == "" || d.err != nil {
		return 0
	}
	n, err := decimal.NewFromString(v)
	if err != nil || !n.IsInteger() {
		d.err = fmt.Errorf("column %s: invalid whole number %q", col, v)
		return 0
	}
	if n.IsNegative() || n.GreaterThan(decimal.NewFromInt(100)) {
		d.err = fmt.Errorf("column %s: %q is outside 0..100", col, v)
		return 0
	}
	return int(n.IntPart())
}

func (d *cellDecoder) timestamp(col string) *time.Time {
	v := strings.TrimSpace(d.cells[col])
	if v == "" || d.err != nil {
		return nil
	}
	t, err := parseTimestamp(v)
	if err != nil {
		d.err = fmt.Errorf("column %s: invalid timestamp %q", col, v)
		return nil
	}
	return &t
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	time.DateTime,
	time.DateOnly,
}

func parseTimestamp(v string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// decodeClaim converts column -> cell back into a claim. All type coercion
// of stored values happens here.
func decodeClaim(cells map[string]string) (*Claim, error) {
	d := &cellDecoder{cells: cells}

	c := &Claim{
		ClaimNumber:   d.str(colClaimNumber),
		SubmitterName: d.str(colSubmitterName),
		Contract: Contract{
			Title:        d.str(colContractTitle),
			SignedDate:   d.str(colContractSignedDate),
			StartDate:    d.str(colContractStartDate),
			EndDate:      d.str(colContractEndDate),
			Base:         d.money(colContractBase),
			Tax:          d.money(colContractTax),
			Total:        d.money(colContractTotal),
			BondRequired: d.boolean(colBondRequired),
			BondAmount:   d.money(colBondAmount),
			BondStart:    d.str(colBondStart),
			BondEnd:      d.str(colBondEnd),
		},
		Progress: ProgressCertificate{
			Date:        d.str(colProgressDate),
			Description: d.str(colProgressDescription),
		},
		Billing: Billing{
			Title:            d.str(colBillingTitle),
			ThresholdText:    d.str(colThresholdText),
			ThresholdPercent: d.percent(colThresholdPercent),
			DocumentDate:     d.str(colBillingDocDate),
			InvoiceBase:      d.money(colInvoiceBase),
			InvoiceTax:       d.money(colInvoiceTax),
			InvoiceTotal:     d.money(colInvoiceTotal),
			TaxInvoiceNumber: d.str(colTaxInvoiceNo),
			TaxInvoiceDate:   d.str(colTaxInvoiceDate),
			TaxInvoiceBase:   d.money(colTaxInvoiceBase),
			TaxInvoiceTax:    d.money(colTaxInvoiceTax),
		},
		Matching: matching.Result{
			DateRangeOK:       d.boolean(colMatchDateRange),
			ValueOK:           d.boolean(colMatchValue),
			TaxDateOK:         d.boolean(colMatchTaxDate),
			TaxPPNOK:          d.boolean(colMatchTaxPPN),
			Overall:           d.boolean(colMatchOverall),
			Verdict:           matching.Verdict(d.str(colMatchVerdict)),
			ProgressThreshold: matching.Advisory(d.str(colThresholdAdvisory)),
		},
		Status: Status{
			Approved:        d.boolean(colApproved),
			ApprovedAt:      d.timestamp(colApprovedAt),
			RejectionReason: d.str(colRejectionReason),
			RejectedAt:      d.timestamp(colRejectedAt),
		},
		Visibility: Visibility(d.str(colVisibility)),
	}
	if updated := d.timestamp(colLastUpdated); updated != nil {
		c.UpdatedAt = *updated
	}

	if d.err != nil {
		return nil, d.err
	}
	return c, nil
}

// upgradeLegacyCells fills columns that older files never had. It runs
// only during Migrate.
func upgradeLegacyCells(cells map[string]string) {
	if _, ok := cells[colMatchVerdict]; !ok || cells[colMatchVerdict] == "" {
		verdict := matching.VerdictNotMatch
		if ok, err := strconv.ParseBool(strings.TrimSpace(cells[colMatchOverall])); err == nil && ok {
			verdict = matching.VerdictMatch
		}
		cells[colMatchVerdict] = string(verdict)
	}
	if cells[colThresholdAdvisory] == "" {
		cells[colThresholdAdvisory] = string(matching.ThresholdAdvisory(cells[colThresholdText]))
	}
	// rows without a tag predate the public listing
	if !Visibility(cells[colVisibility]).Valid() {
		cells[colVisibility] = string(VisibilityPrivate)
	}
	if cells[colLastUpdated] != "" {
		if t, err := parseTimestamp(strings.TrimSpace(cells[colLastUpdated])); err == nil {
			cells[colLastUpdated] = t.Format(time.RFC3339Nano)
		}
	}
}

func encodeMoney(m decimal.NullDecimal) string {
	if !m.Valid {
		return ""
	}
	return m.Decimal.StringFixed(matching.MoneyPlaces)
}

func encodeTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
