package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-threeway/internal/matching"
)

// Visibility controls whether a claim appears in public listings
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Contract is the agreed scope, dates and monetary baseline of the work.
// Dates are calendar dates kept as entered (normally YYYY-MM-DD).
type Contract struct {
	Title        string              `json:"title"`
	SignedDate   string              `json:"signed_date"`
	StartDate    string              `json:"start_date"`
	EndDate      string              `json:"end_date"`
	Base         decimal.NullDecimal `json:"base"`
	Tax          decimal.NullDecimal `json:"tax"`
	Total        decimal.NullDecimal `json:"total"`
	BondRequired bool                `json:"bond_required"`
	BondAmount   decimal.NullDecimal `json:"bond_amount"`
	BondStart    string              `json:"bond_start"`
	BondEnd      string              `json:"bond_end"`
}

// ProgressCertificate attests work progress on a given date
type ProgressCertificate struct {
	Date        string `json:"date"`
	Description string `json:"description"`
}

// Billing is the invoice and its tax invoice (faktur pajak)
type Billing struct {
	Title            string              `json:"title"`
	ThresholdText    string              `json:"threshold_text"`
	ThresholdPercent int                 `json:"threshold_percent"`
	DocumentDate     string              `json:"doc_date"`
	InvoiceBase      decimal.NullDecimal `json:"invoice_base"`
	InvoiceTax       decimal.NullDecimal `json:"invoice_tax"`
	InvoiceTotal     decimal.NullDecimal `json:"invoice_total"`
	TaxInvoiceNumber string              `json:"tax_invoice_no"`
	TaxInvoiceDate   string              `json:"tax_invoice_date"`
	TaxInvoiceBase   decimal.NullDecimal `json:"tax_invoice_base"`
	TaxInvoiceTax    decimal.NullDecimal `json:"tax_invoice_tax"`
}

// Status is the verifier's decision on the claim
type Status struct {
	Approved        bool       `json:"approved"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
}

// Claim is one stored version of a payment claim
type Claim struct {
	ClaimNumber   string              `json:"claim_number"`
	SubmitterName string              `json:"submitter_name"`
	Contract      Contract            `json:"contract"`
	Progress      ProgressCertificate `json:"progress_cert"`
	Billing       Billing             `json:"billing"`
	Matching      matching.Result     `json:"matching"`
	Status        Status              `json:"status"`
	Visibility    Visibility          `json:"visibility"`
	UpdatedAt     time.Time           `json:"last_updated"`
}

// MatchingInput extracts the fields the matching checks compare
func (c *Claim) MatchingInput() matching.Input {
	return matching.Input{
		ContractStart:   c.Contract.StartDate,
		ContractEnd:     c.Contract.EndDate,
		CertificateDate: c.Progress.Date,
		ContractTotal:   c.Contract.Total,
		InvoiceTotal:    c.Billing.InvoiceTotal,
		InvoiceDate:     c.Billing.DocumentDate,
		TaxInvoiceDate:  c.Billing.TaxInvoiceDate,
		InvoiceTax:      c.Billing.InvoiceTax,
		TaxInvoiceTax:   c.Billing.TaxInvoiceTax,
		ThresholdText:   c.Billing.ThresholdText,
	}
}
