package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ap-threeway/internal/auth"
	"github.com/pesio-ai/be-ap-threeway/internal/database"
	"github.com/pesio-ai/be-ap-threeway/internal/errors"
	"github.com/pesio-ai/be-ap-threeway/internal/matching"
)

// Calendar dates are TEXT so that a malformed date entered by a verifier is
// stored as-is; the matching checks treat it as failed instead of the
// insert rejecting the whole claim.
const claimsTableDDL = `
	CREATE TABLE IF NOT EXISTS claims (
		id                          BIGSERIAL PRIMARY KEY,
		claim_number                TEXT NOT NULL,
		submitter_name              TEXT NOT NULL DEFAULT '',
		contract_title              TEXT NOT NULL DEFAULT '',
		contract_signed_date        TEXT NOT NULL DEFAULT '',
		contract_start_date         TEXT NOT NULL DEFAULT '',
		contract_end_date           TEXT NOT NULL DEFAULT '',
		contract_base               NUMERIC(18,2),
		contract_tax                NUMERIC(18,2),
		contract_total              NUMERIC(18,2),
		bond_required               BOOLEAN NOT NULL DEFAULT FALSE,
		bond_amount                 NUMERIC(18,2),
		bond_start                  TEXT NOT NULL DEFAULT '',
		bond_end                    TEXT NOT NULL DEFAULT '',
		progress_date               TEXT NOT NULL DEFAULT '',
		progress_description        TEXT NOT NULL DEFAULT '',
		billing_title               TEXT NOT NULL DEFAULT '',
		threshold_text              TEXT NOT NULL DEFAULT '',
		threshold_percent           INTEGER NOT NULL DEFAULT 0 CHECK (threshold_percent BETWEEN 0 AND 100),
		billing_doc_date            TEXT NOT NULL DEFAULT '',
		invoice_base                NUMERIC(18,2),
		invoice_tax                 NUMERIC(18,2),
		invoice_total               NUMERIC(18,2),
		tax_invoice_no              TEXT NOT NULL DEFAULT '',
		tax_invoice_date            TEXT NOT NULL DEFAULT '',
		tax_invoice_base            NUMERIC(18,2),
		tax_invoice_tax             NUMERIC(18,2),
		match_date_range            BOOLEAN NOT NULL DEFAULT FALSE,
		match_value                 BOOLEAN NOT NULL DEFAULT FALSE,
		match_tax_date              BOOLEAN NOT NULL DEFAULT FALSE,
		match_tax_ppn               BOOLEAN NOT NULL DEFAULT FALSE,
		match_overall               BOOLEAN NOT NULL DEFAULT FALSE,
		match_verdict               TEXT NOT NULL DEFAULT 'NOT_MATCH',
		progress_threshold_advisory TEXT NOT NULL DEFAULT 'NOT_PROVIDED',
		approved                    BOOLEAN NOT NULL DEFAULT FALSE,
		approved_at                 TIMESTAMPTZ,
		rejection_reason            TEXT NOT NULL DEFAULT '',
		rejected_at                 TIMESTAMPTZ,
		visibility                  TEXT NOT NULL DEFAULT 'private' CHECK (visibility IN ('public', 'private')),
		last_updated                TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_claims_claim_number ON claims (claim_number, last_updated DESC);
	CREATE INDEX IF NOT EXISTS idx_claims_last_updated ON claims (last_updated DESC);
`

// claimColumnTypes lists every data column with its type for Migrate's
// ADD COLUMN IF NOT EXISTS pass
var claimColumnTypes = [][2]string{
	{colSubmitterName, "TEXT NOT NULL DEFAULT ''"},
	{colContractTitle, "TEXT NOT NULL DEFAULT ''"},
	{colContractSignedDate, "TEXT NOT NULL DEFAULT ''"},
	{colContractStartDate, "TEXT NOT NULL DEFAULT ''"},
	{colContractEndDate, "TEXT NOT NULL DEFAULT ''"},
	{colContractBase, "NUMERIC(18,2)"},
	{colContractTax, "NUMERIC(18,2)"},
	{colContractTotal, "NUMERIC(18,2)"},
	{colBondRequired, "BOOLEAN NOT NULL DEFAULT FALSE"},
	{colBondAmount, "NUMERIC(18,2)"},
	{colBondStart, "TEXT NOT NULL DEFAULT ''"},
	{colBondEnd, "TEXT NOT NULL DEFAULT ''"},
	{colProgressDate, "TEXT NOT NULL DEFAULT ''"},
	{colProgressDescription, "TEXT NOT NULL DEFAULT ''"},
	{colBillingTitle, "TEXT NOT NULL DEFAULT ''"},
	{colThresholdText, "TEXT NOT NULL DEFAULT ''"},
	{colThresholdPercent, "INTEGER NOT NULL DEFAULT 0"},
	{colBillingDocDate, "TEXT NOT NULL DEFAULT ''"},
	{colInvoiceBase, "NUMERIC(18,2)"},
	{colInvoiceTax, "NUMERIC(18,2)"},
	{colInvoiceTotal, "NUMERIC(18,2)"},
	{colTaxInvoiceNo, "TEXT NOT NULL DEFAULT ''"},
	{colTaxInvoiceDate, "TEXT NOT NULL DEFAULT ''"},
	{colTaxInvoiceBase, "NUMERIC(18,2)"},
	{colTaxInvoiceTax, "NUMERIC(18,2)"},
	{colMatchDateRange, "BOOLEAN NOT NULL DEFAULT FALSE"},
	{colMatchValue, "BOOLEAN NOT NULL DEFAULT FALSE"},
	{colMatchTaxDate, "BOOLEAN NOT NULL DEFAULT FALSE"},
	{colMatchTaxPPN, "BOOLEAN NOT NULL DEFAULT FALSE"},
	{colMatchOverall, "BOOLEAN NOT NULL DEFAULT FALSE"},
	{colMatchVerdict, "TEXT NOT NULL DEFAULT 'NOT_MATCH'"},
	{colThresholdAdvisory, "TEXT NOT NULL DEFAULT 'NOT_PROVIDED'"},
	{colApproved, "BOOLEAN NOT NULL DEFAULT FALSE"},
	{colApprovedAt, "TIMESTAMPTZ"},
	{colRejectionReason, "TEXT NOT NULL DEFAULT ''"},
	{colRejectedAt, "TIMESTAMPTZ"},
	{colVisibility, "TEXT NOT NULL DEFAULT 'private'"},
}

var claimSelectColumns = strings.Join(Columns, ", ")

// PostgresStore keeps claims in the claims table
type PostgresStore struct {
	db         *database.DB
	discipline Discipline
	opts       options
}

// NewPostgresStore creates a new Postgres-backed claim store
func NewPostgresStore(db *database.DB, discipline Discipline, opts ...Option) *PostgresStore {
	return &PostgresStore{
		db:         db,
		discipline: discipline,
		opts:       buildOptions(opts),
	}
}

// Discipline returns the configured persistence discipline
func (r *PostgresStore) Discipline() Discipline {
	return r.discipline
}

// EnsureInitialized creates the claims table and indexes if missing
func (r *PostgresStore) EnsureInitialized(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, claimsTableDDL); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create claims table")
	}
	return nil
}

// Migrate adds any column an older claims table lacks
func (r *PostgresStore) Migrate(ctx context.Context) (*MigrationResult, error) {
	if err := r.EnsureInitialized(ctx); err != nil {
		return nil, err
	}

	existing := make(map[string]bool)
	rows, err := r.db.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = 'claims'
	`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to inspect claims table")
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan column name")
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to inspect claims table")
	}

	result := &MigrationResult{}
	err = r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		for _, col := range claimColumnTypes {
			if existing[col[0]] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE claims ADD COLUMN IF NOT EXISTS %s %s", col[0], col[1])
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to add column "+col[0])
			}
			result.ColumnsAdded = append(result.ColumnsAdded, col[0])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Put inserts a claim version. Under the upsert discipline earlier rows for
// the same claim number are deleted in the same transaction.
func (r *PostgresStore) Put(ctx context.Context, claim *Claim) error {
	if strings.TrimSpace(claim.ClaimNumber) == "" {
		return ErrEmptyClaimNumber
	}
	if err := checkMoney(claim); err != nil {
		return err
	}

	claim.UpdatedAt = r.opts.stamp()

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if r.discipline == DisciplineUpsert {
			if _, err := tx.Exec(ctx, `DELETE FROM claims WHERE claim_number = $1`, claim.ClaimNumber); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to replace claim")
			}
		}

		placeholders := make([]string, len(Columns))
		for i := range Columns {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		query := fmt.Sprintf("INSERT INTO claims (%s) VALUES (%s)", claimSelectColumns, strings.Join(placeholders, ", "))

		if _, err := tx.Exec(ctx, query, claimArgs(claim)...); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert claim")
		}
		return nil
	})
}

// GetLatest returns the newest version of a claim
func (r *PostgresStore) GetLatest(ctx context.Context, claimNumber string) (*Claim, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM claims
		WHERE claim_number = $1
		ORDER BY last_updated DESC, id DESC
		LIMIT 1
	`, claimSelectColumns)

	claim, err := scanClaim(r.db.QueryRow(ctx, query, claimNumber))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("claim", claimNumber)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get claim")
	}

	return claim, nil
}

// List returns claims visible to the filter's audience, newest first
func (r *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Claim, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM claims
		WHERE 1 = 1
	`, claimSelectColumns)

	args := []interface{}{}
	argCount := 1

	if filter.Audience != auth.AudiencePrivileged {
		query += fmt.Sprintf(" AND visibility = $%d", argCount)
		args = append(args, string(VisibilityPublic))
		argCount++
	}

	if needle := strings.TrimSpace(filter.ClaimNumberContains); needle != "" {
		query += fmt.Sprintf(" AND claim_number ILIKE $%d", argCount)
		args = append(args, "%"+escapeLike(needle)+"%")
	}

	query += " ORDER BY last_updated DESC, id DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list claims")
	}
	defer rows.Close()

	claims := make([]*Claim, 0)
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan claim")
		}
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list claims")
	}

	return claims, nil
}

// DistinctKeys returns the sorted set of claim numbers
func (r *PostgresStore) DistinctKeys(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT claim_number FROM claims ORDER BY claim_number`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list claim numbers")
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan claim number")
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list claim numbers")
	}

	return keys, nil
}

// claimArgs returns insert arguments in Columns order
func claimArgs(c *Claim) []interface{} {
	return []interface{}{
		c.ClaimNumber,
		c.SubmitterName,
		c.Contract.Title,
		c.Contract.SignedDate,
		c.Contract.StartDate,
		c.Contract.EndDate,
		c.Contract.Base,
		c.Contract.Tax,
		c.Contract.Total,
		c.Contract.BondRequired,
		c.Contract.BondAmount,
		c.Contract.BondStart,
		c.Contract.BondEnd,
		c.Progress.Date,
		c.Progress.Description,
		c.Billing.Title,
		c.Billing.ThresholdText,
		c.Billing.ThresholdPercent,
		c.Billing.DocumentDate,
		c.Billing.InvoiceBase,
		c.Billing.InvoiceTax,
		c.Billing.InvoiceTotal,
		c.Billing.TaxInvoiceNumber,
		c.Billing.TaxInvoiceDate,
		c.Billing.TaxInvoiceBase,
		c.Billing.TaxInvoiceTax,
		c.Matching.DateRangeOK,
		c.Matching.ValueOK,
		c.Matching.TaxDateOK,
		c.Matching.TaxPPNOK,
		c.Matching.Overall,
		string(c.Matching.Verdict),
		string(c.Matching.ProgressThreshold),
		c.Status.Approved,
		c.Status.ApprovedAt,
		c.Status.RejectionReason,
		c.Status.RejectedAt,
		string(c.Visibility),
		c.UpdatedAt,
	}
}

// scanClaim scans one row selected with claimSelectColumns
func scanClaim(row pgx.Row) (*Claim, error) {
	c := &Claim{}
	var verdict, advisory, visibility string

	err := row.Scan(
		&c.ClaimNumber,
		&c.SubmitterName,
		&c.Contract.Title,
		&c.Contract.SignedDate,
		&c.Contract.StartDate,
		&c.Contract.EndDate,
		&c.Contract.Base,
		&c.Contract.Tax,
		&c.Contract.Total,
		&c.Contract.BondRequired,
		&c.Contract.BondAmount,
		&c.Contract.BondStart,
		&c.Contract.BondEnd,
		&c.Progress.Date,
		&c.Progress.Description,
		&c.Billing.Title,
		&c.Billing.ThresholdText,
		&c.Billing.ThresholdPercent,
		&c.Billing.DocumentDate,
		&c.Billing.InvoiceBase,
		&c.Billing.InvoiceTax,
		&c.Billing.InvoiceTotal,
		&c.Billing.TaxInvoiceNumber,
		&c.Billing.TaxInvoiceDate,
		&c.Billing.TaxInvoiceBase,
		&c.Billing.TaxInvoiceTax,
		&c.Matching.DateRangeOK,
		&c.Matching.ValueOK,
		&c.Matching.TaxDateOK,
		&c.Matching.TaxPPNOK,
		&c.Matching.Overall,
		&verdict,
		&advisory,
		&c.Status.Approved,
		&c.Status.ApprovedAt,
		&c.Status.RejectionReason,
		&c.Status.RejectedAt,
		&visibility,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Matching.Verdict = matching.Verdict(verdict)
	c.Matching.ProgressThreshold = matching.Advisory(advisory)
	c.Visibility = Visibility(visibility)
	c.UpdatedAt = c.UpdatedAt.UTC()

	return c, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
