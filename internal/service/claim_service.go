package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-threeway/internal/auth"
	"github.com/pesio-ai/be-ap-threeway/internal/client"
	"github.com/pesio-ai/be-ap-threeway/internal/errors"
	"github.com/pesio-ai/be-ap-threeway/internal/logger"
	"github.com/pesio-ai/be-ap-threeway/internal/matching"
	"github.com/pesio-ai/be-ap-threeway/internal/repository"
)

// EventPublisher announces saved claims. Implementations must not fail the
// caller.
type EventPublisher interface {
	PublishClaimEvent(ctx context.Context, eventType string, claim *repository.Claim, actorID string)
}

// ClaimService handles claim verification business logic
type ClaimService struct {
	store  repository.ClaimStore
	events EventPublisher
	now    func() time.Time
	log    *logger.Logger
}

// NewClaimService creates a new claim service. events may be nil.
func NewClaimService(store repository.ClaimStore, events EventPublisher, log *logger.Logger) *ClaimService {
	return &ClaimService{
		store:  store,
		events: events,
		now:    time.Now,
		log:    log,
	}
}

// ContractInput is the contract document as entered by the verifier
type ContractInput struct {
	Title        string              `json:"title"`
	SignedDate   string              `json:"signed_date"`
	StartDate    string              `json:"start_date"`
	EndDate      string              `json:"end_date"`
	Base         decimal.NullDecimal `json:"base"`
	BondRequired bool                `json:"bond_required"`
	BondAmount   decimal.NullDecimal `json:"bond_amount"`
	BondStart    string              `json:"bond_start"`
	BondEnd      string              `json:"bond_end"`
}

// BillingInput is the invoice and tax invoice as entered by the verifier.
// Tax and totals are derived, never entered.
type BillingInput struct {
	Title            string              `json:"title"`
	ThresholdText    string              `json:"threshold_text"`
	ThresholdPercent int                 `json:"threshold_percent"`
	DocumentDate     string              `json:"doc_date"`
	InvoiceBase      decimal.NullDecimal `json:"invoice_base"`
	TaxInvoiceNumber string              `json:"tax_invoice_no"`
	TaxInvoiceDate   string              `json:"tax_invoice_date"`
	TaxInvoiceBase   decimal.NullDecimal `json:"tax_invoice_base"`
}

// ClaimRequest is a fully collected draft of a claim
type ClaimRequest struct {
	ClaimNumber     string                         `json:"claim_number"`
	SubmitterName   string                         `json:"submitter_name"`
	Contract        ContractInput                  `json:"contract"`
	Progress        repository.ProgressCertificate `json:"progress_cert"`
	Billing         BillingInput                   `json:"billing"`
	Approved        bool                           `json:"approved"`
	RejectionReason string                         `json:"rejection_reason"`
	Visibility      repository.Visibility          `json:"visibility"`
}

// ListRequest selects which claims to list
type ListRequest struct {
	// IncludePrivate asks for the privileged listing
	IncludePrivate bool
	Query          string
}

// SubmitClaim creates the first version of a claim
func (s *ClaimService) SubmitClaim(ctx context.Context, session auth.Session, req *ClaimRequest) (*repository.Claim, error) {
	if !session.IsPrivileged() {
		return nil, errors.Forbidden("verifier login required to submit claims")
	}

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SubmitterName) == "" {
		return nil, errors.InvalidInput("submitter_name", "submitter name is required")
	}

	claimNumber := strings.TrimSpace(req.ClaimNumber)
	_, err := s.store.GetLatest(ctx, claimNumber)
	if err == nil {
		return nil, errors.New(errors.ErrCodeConflict, "claim '"+claimNumber+"' already exists, edit it instead")
	}
	if !errors.Is(err, errors.ErrCodeNotFound) {
		return nil, err
	}

	claim := s.buildClaim(req, strings.TrimSpace(req.SubmitterName))
	if err := s.store.Put(ctx, claim); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("claim_number", claim.ClaimNumber).
		Str("submitter", claim.SubmitterName).
		Str("verdict", string(claim.Matching.Verdict)).
		Bool("approved", claim.Status.Approved).
		Str("visibility", string(claim.Visibility)).
		Msg("Claim submitted")

	s.publish(ctx, client.EventClaimSubmitted, claim, session)

	return claim, nil
}

// EditClaim saves a new version of an existing claim. The original
// submitter is kept; the store's discipline decides whether the previous
// version survives.
func (s *ClaimService) EditClaim(ctx context.Context, session auth.Session, req *ClaimRequest) (*repository.Claim, error) {
	if !session.IsPrivileged() {
		return nil, errors.Forbidden("verifier login required to edit claims")
	}

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	existing, err := s.store.GetLatest(ctx, strings.TrimSpace(req.ClaimNumber))
	if err != nil {
		return nil, err
	}

	claim := s.buildClaim(req, existing.SubmitterName)
	if err := s.store.Put(ctx, claim); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("claim_number", claim.ClaimNumber).
		Str("edited_by", session.Actor).
		Str("discipline", string(s.store.Discipline())).
		Str("verdict", string(claim.Matching.Verdict)).
		Bool("approved", claim.Status.Approved).
		Msg("Claim updated")

	s.publish(ctx, client.EventClaimUpdated, claim, session)

	return claim, nil
}

// PreviewMatching computes derived amounts and the matching verdict for a
// draft without saving it
func (s *ClaimService) PreviewMatching(ctx context.Context, req *ClaimRequest) *repository.Claim {
	claim := &repository.Claim{
		ClaimNumber:   strings.TrimSpace(req.ClaimNumber),
		SubmitterName: strings.TrimSpace(req.SubmitterName),
	}
	applyDocuments(claim, req)
	claim.Matching = matching.Evaluate(claim.MatchingInput())
	return claim
}

// GetClaim returns the latest version of a claim. Private claims are
// reported as not found to public callers.
func (s *ClaimService) GetClaim(ctx context.Context, session auth.Session, claimNumber string) (*repository.Claim, error) {
	claimNumber = strings.TrimSpace(claimNumber)
	if claimNumber == "" {
		return nil, errors.InvalidInput("claim_number", "claim number is required")
	}

	claim, err := s.store.GetLatest(ctx, claimNumber)
	if err != nil {
		return nil, err
	}

	if claim.Visibility != repository.VisibilityPublic && !session.IsPrivileged() {
		return nil, errors.NotFound("claim", claimNumber)
	}

	return claim, nil
}

// ListClaims lists claims newest first. Public sessions only see public
// claims and may not ask for the privileged listing.
func (s *ClaimService) ListClaims(ctx context.Context, session auth.Session, req ListRequest) ([]*repository.Claim, error) {
	audience := auth.AudiencePublic
	if req.IncludePrivate {
		if !session.IsPrivileged() {
			return nil, errors.Forbidden("verifier login required to list private claims")
		}
		audience = auth.AudiencePrivileged
	}

	return s.store.List(ctx, repository.ListFilter{
		Audience:            audience,
		ClaimNumberContains: req.Query,
	})
}

// DistinctKeys returns every known claim number for the edit picker
func (s *ClaimService) DistinctKeys(ctx context.Context, session auth.Session) ([]string, error) {
	if !session.IsPrivileged() {
		return nil, errors.Forbidden("verifier login required")
	}
	return s.store.DistinctKeys(ctx)
}

// buildClaim turns a validated request into a record ready for Put
func (s *ClaimService) buildClaim(req *ClaimRequest, submitter string) *repository.Claim {
	claim := &repository.Claim{
		ClaimNumber:   strings.TrimSpace(req.ClaimNumber),
		SubmitterName: submitter,
		Visibility:    req.Visibility,
	}
	if claim.Visibility == "" {
		claim.Visibility = repository.VisibilityPublic
	}

	applyDocuments(claim, req)
	claim.Matching = matching.Evaluate(claim.MatchingInput())

	now := s.now().UTC().Truncate(time.Microsecond)
	if req.Approved {
		claim.Status = repository.Status{Approved: true, ApprovedAt: &now}
	} else {
		reason := strings.TrimSpace(req.RejectionReason)
		if reason == "" {
			s.log.Warn().
				Str("claim_number", claim.ClaimNumber).
				Msg("Claim saved as not approved without a rejection reason")
		}
		claim.Status = repository.Status{RejectionReason: reason, RejectedAt: &now}
	}

	return claim
}

// applyDocuments copies the entered documents and derives every tax and
// total from its base
func applyDocuments(claim *repository.Claim, req *ClaimRequest) {
	contract := matching.Derive(req.Contract.Base)
	claim.Contract = repository.Contract{
		Title:        strings.TrimSpace(req.Contract.Title),
		SignedDate:   strings.TrimSpace(req.Contract.SignedDate),
		StartDate:    strings.TrimSpace(req.Contract.StartDate),
		EndDate:      strings.TrimSpace(req.Contract.EndDate),
		Base:         contract.Base,
		Tax:          contract.Tax,
		Total:        contract.Total,
		BondRequired: req.Contract.BondRequired,
	}
	if req.Contract.BondRequired {
		claim.Contract.BondAmount = req.Contract.BondAmount
		claim.Contract.BondStart = strings.TrimSpace(req.Contract.BondStart)
		claim.Contract.BondEnd = strings.TrimSpace(req.Contract.BondEnd)
	}

	claim.Progress = repository.ProgressCertificate{
		Date:        strings.TrimSpace(req.Progress.Date),
		Description: req.Progress.Description,
	}

	invoice := matching.Derive(req.Billing.InvoiceBase)
	taxInvoice := matching.Derive(req.Billing.TaxInvoiceBase)
	claim.Billing = repository.Billing{
		Title:            strings.TrimSpace(req.Billing.Title),
		ThresholdText:    strings.TrimSpace(req.Billing.ThresholdText),
		ThresholdPercent: req.Billing.ThresholdPercent,
		DocumentDate:     strings.TrimSpace(req.Billing.DocumentDate),
		InvoiceBase:      invoice.Base,
		InvoiceTax:       invoice.Tax,
		InvoiceTotal:     invoice.Total,
		TaxInvoiceNumber: strings.TrimSpace(req.Billing.TaxInvoiceNumber),
		TaxInvoiceDate:   strings.TrimSpace(req.Billing.TaxInvoiceDate),
		TaxInvoiceBase:   taxInvoice.Base,
		TaxInvoiceTax:    taxInvoice.Tax,
	}
}

// validateRequest checks the fields that block a save. Dates are not
// validated here: a malformed date only fails its matching check.
func validateRequest(req *ClaimRequest) error {
	if req == nil {
		return errors.InvalidInput("claim", "request body is required")
	}
	if strings.TrimSpace(req.ClaimNumber) == "" {
		return errors.InvalidInput("claim_number", "claim number is required")
	}

	if req.Billing.ThresholdPercent < 0 || req.Billing.ThresholdPercent > 100 {
		return errors.InvalidInput("threshold_percent", "threshold percent must be between 0 and 100")
	}

	amounts := []struct {
		field string
		value decimal.NullDecimal
	}{
		{"contract.base", req.Contract.Base},
		{"contract.bond_amount", req.Contract.BondAmount},
		{"billing.invoice_base", req.Billing.InvoiceBase},
		{"billing.tax_invoice_base", req.Billing.TaxInvoiceBase},
	}
	for _, a := range amounts {
		if !a.value.Valid {
			continue
		}
		if a.value.Decimal.IsNegative() {
			return errors.InvalidInput(a.field, "amount cannot be negative")
		}
		if !matching.FitsMoney(a.value.Decimal) {
			return errors.InvalidInput(a.field, "at most 2 decimal places")
		}
	}

	if req.Visibility != "" && !req.Visibility.Valid() {
		return errors.InvalidInput("visibility", "visibility must be 'public' or 'private'")
	}

	return nil
}

func (s *ClaimService) publish(ctx context.Context, eventType string, claim *repository.Claim, session auth.Session) {
	if s.events == nil {
		return
	}
	s.events.PublishClaimEvent(ctx, eventType, claim, session.Actor)
}
