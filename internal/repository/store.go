package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-threeway/internal/auth"
	"github.com/pesio-ai/be-ap-threeway/internal/errors"
	"github.com/pesio-ai/be-ap-threeway/internal/matching"
)

// Discipline decides what a save does to earlier versions of a claim
type Discipline string

const (
	// DisciplineAppend adds a row per save and keeps history
	DisciplineAppend Discipline = "append"
	// DisciplineUpsert replaces all rows of the claim with the new one
	DisciplineUpsert Discipline = "upsert"
)

// ParseDiscipline validates a configured discipline name
func ParseDiscipline(s string) (Discipline, error) {
	switch d := Discipline(strings.ToLower(strings.TrimSpace(s))); d {
	case DisciplineAppend, DisciplineUpsert:
		return d, nil
	default:
		return "", fmt.Errorf("unknown store discipline %q", s)
	}
}

var (
	// ErrEmptyClaimNumber is returned by Put for a claim without a key
	ErrEmptyClaimNumber = errors.InvalidInput("claim_number", "claim number is required")
	// ErrSchemaOutdated means the backing store predates the current column
	// set and must be migrated before use
	ErrSchemaOutdated = errors.New(errors.ErrCodeUnavailable, "claim store schema is outdated, run migrate")
)

// checkMoney rejects amounts a backend could not store without rounding
func checkMoney(c *Claim) error {
	amounts := []struct {
		column string
		value  decimal.NullDecimal
	}{
		{colContractBase, c.Contract.Base},
		{colContractTax, c.Contract.Tax},
		{colContractTotal, c.Contract.Total},
		{colBondAmount, c.Contract.BondAmount},
		{colInvoiceBase, c.Billing.InvoiceBase},
		{colInvoiceTax, c.Billing.InvoiceTax},
		{colInvoiceTotal, c.Billing.InvoiceTotal},
		{colTaxInvoiceBase, c.Billing.TaxInvoiceBase},
		{colTaxInvoiceTax, c.Billing.TaxInvoiceTax},
	}
	for _, a := range amounts {
		if a.value.Valid && !matching.FitsMoney(a.value.Decimal) {
			return errors.InvalidInput(a.column, "at most 2 decimal places")
		}
	}
	return nil
}

// ListFilter narrows a listing
type ListFilter struct {
	Audience auth.Audience
	// ClaimNumberContains is a case-insensitive substring match; empty matches all
	ClaimNumberContains string
}

// MigrationResult describes a one-time schema migration
type MigrationResult struct {
	RowsMigrated int
	ColumnsAdded []string
}

// ClaimStore persists claim versions
type ClaimStore interface {
	// EnsureInitialized creates the backing store when missing and leaves an
	// existing one untouched
	EnsureInitialized(ctx context.Context) error
	// Migrate upgrades a store created with an older column set
	Migrate(ctx context.Context) (*MigrationResult, error)
	// Put stamps claim.UpdatedAt and writes it under the store's discipline
	Put(ctx context.Context, claim *Claim) error
	// GetLatest returns the most recently written version of a claim
	GetLatest(ctx context.Context, claimNumber string) (*Claim, error)
	// List returns stored rows, newest first
	List(ctx context.Context, filter ListFilter) ([]*Claim, error)
	// DistinctKeys returns every known claim number, sorted
	DistinctKeys(ctx context.Context) ([]string, error)
	Discipline() Discipline
}

// Option configures a store
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp UpdatedAt
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// stamp returns a UTC timestamp at the microsecond precision every backend
// can round-trip
func (o options) stamp() time.Time {
	return o.now().UTC().Truncate(time.Microsecond)
}

// visibleTo reports whether a claim may be listed for the audience
func visibleTo(c *Claim, audience auth.Audience) bool {
	return audience == auth.AudiencePrivileged || c.Visibility == VisibilityPublic
}

// filterClaims applies a ListFilter and orders the result newest first.
// claims must be in write order; among equal timestamps the later write
// comes first.
func filterClaims(claims []*Claim, filter ListFilter) []*Claim {
	needle := strings.ToLower(strings.TrimSpace(filter.ClaimNumberContains))

	out := make([]*Claim, 0, len(claims))
	for i := len(claims) - 1; i >= 0; i-- {
		c := claims[i]
		if !visibleTo(c, filter.Audience) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(c.ClaimNumber), needle) {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// latestOf picks the newest version of claimNumber from claims in write order
func latestOf(claims []*Claim, claimNumber string) *Claim {
	var latest *Claim
	for _, c := range claims {
		if c.ClaimNumber != claimNumber {
			continue
		}
		if latest == nil || !c.UpdatedAt.Before(latest.UpdatedAt) {
			latest = c
		}
	}
	return latest
}

func distinctKeys(claims []*Claim) []string {
	seen := make(map[string]struct{}, len(claims))
	keys := make([]string, 0, len(claims))
	for _, c := range claims {
		if _, ok := seen[c.ClaimNumber]; ok {
			continue
		}
		seen[c.ClaimNumber] = struct{}{}
		keys = append(keys, c.ClaimNumber)
	}
	sort.Strings(keys)
	return keys
}
