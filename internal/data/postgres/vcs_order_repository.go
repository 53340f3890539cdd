package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
	"github.com/vcs-invoice-reconciler/internal/platform/persistence"
)

const recordColumns = `order_id, transaction_type, status,
		COALESCE(ledger_invoice_id, 0), COALESCE(ledger_invoice_ref, ''),
		COALESCE(skip_reason, ''), COALESCE(error_reason, ''), COALESCE(error_message, ''), COALESCE(note, ''),
		report_id, aggregate, attempts, version, last_attempt_at, created_at, updated_at`

// VcsOrderRepository implements the vcsorder.Repository interface for PostgreSQL
type VcsOrderRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewVcsOrderRepository creates a new PostgreSQL VCS order record repository
func NewVcsOrderRepository(logger *slog.Logger, db *persistence.PostgresDB) vcsorder.Repository {
	return &VcsOrderRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to the given transaction
func (r *VcsOrderRepository) WithTx(tx pgx.Tx) vcsorder.Repository {
	return &VcsOrderRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// CreateIfAbsent inserts a new record and reports whether it was created.
// An existing record for the same key is left untouched.
func (r *VcsOrderRepository) CreateIfAbsent(ctx context.Context, rec *vcsorder.Record) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, err
	}

	aggregate, err := json.Marshal(rec.Aggregate)
	if err != nil {
		return false, fmt.Errorf("failed to encode aggregate: %w", err)
	}

	query := `
		INSERT INTO vcs_order_records (order_id, transaction_type, status, report_id, aggregate, attempts, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (order_id, transaction_type) DO NOTHING
	`

	result, err := r.querier.Exec(ctx, query,
		rec.OrderID,
		string(rec.TransactionType),
		string(rec.Status),
		rec.ReportID,
		aggregate,
		rec.Attempts,
		rec.Version,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create vcs order record", "key", rec.Key().String(), "error", err)
		return false, fmt.Errorf("failed to create vcs order record: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Get retrieves a record by its key
func (r *VcsOrderRepository) Get(ctx context.Context, key vcsorder.Key) (*vcsorder.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM vcs_order_records
		WHERE order_id = $1 AND transaction_type = $2
	`

	rec, err := scanRecord(r.querier.QueryRow(ctx, query, key.OrderID, string(key.TransactionType)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, vcsorder.ErrRecordNotFound{Key: key}
		}
		r.logger.Error("Failed to get vcs order record", "key", key.String(), "error", err)
		return nil, fmt.Errorf("failed to get vcs order record: %w", err)
	}

	return rec, nil
}

// LockForUpdate obtains a pessimistic lock on the record and returns its current state.
// It must run within a transaction.
func (r *VcsOrderRepository) LockForUpdate(ctx context.Context, key vcsorder.Key) (*vcsorder.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM vcs_order_records
		WHERE order_id = $1 AND transaction_type = $2
		FOR UPDATE
	`

	rec, err := scanRecord(r.querier.QueryRow(ctx, query, key.OrderID, string(key.TransactionType)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, vcsorder.ErrRecordNotFound{Key: key}
		}
		r.logger.Error("Failed to lock vcs order record", "key", key.String(), "error", err)
		return nil, fmt.Errorf("failed to lock vcs order record: %w", err)
	}

	return rec, nil
}

// Update writes every mutable field of the record. The record's Version must already
// be incremented; the row is only updated if it still carries the previous version.
func (r *VcsOrderRepository) Update(ctx context.Context, rec *vcsorder.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	aggregate, err := json.Marshal(rec.Aggregate)
	if err != nil {
		return fmt.Errorf("failed to encode aggregate: %w", err)
	}

	query := `
		UPDATE vcs_order_records
		SET status = $1, ledger_invoice_id = $2, ledger_invoice_ref = $3, skip_reason = $4,
			error_reason = $5, error_message = $6, note = $7, report_id = $8, aggregate = $9,
			last_attempt_at = $10, version = $11, updated_at = $12
		WHERE order_id = $13 AND transaction_type = $14 AND version = $15
	`

	result, err := r.querier.Exec(ctx, query,
		string(rec.Status),
		rec.LedgerInvoiceID,
		rec.LedgerInvoiceRef,
		nullableString(rec.SkipReason),
		nullableString(rec.ErrorReason),
		rec.ErrorMessage,
		rec.Note,
		rec.ReportID,
		aggregate,
		rec.LastAttemptAt,
		rec.Version,
		rec.UpdatedAt,
		rec.OrderID,
		string(rec.TransactionType),
		rec.Version-1, // Check previous version for optimistic locking
	)
	if err != nil {
		r.logger.Error("Failed to update vcs order record", "key", rec.Key().String(), "error", err)
		return fmt.Errorf("failed to update vcs order record: %w", err)
	}

	if result.RowsAffected() == 0 {
		return vcsorder.ErrConcurrentModification{Key: rec.Key()}
	}

	return nil
}

// Claim stamps a new attempt on a pending record at the expected version. A record
// attempted less than lease ago by another run is not claimable.
func (r *VcsOrderRepository) Claim(ctx context.Context, key vcsorder.Key, version int, lease time.Duration) (*vcsorder.Record, error) {
	query := `
		UPDATE vcs_order_records
		SET attempts = attempts + 1, last_attempt_at = NOW(), version = version + 1, updated_at = NOW()
		WHERE order_id = $1 AND transaction_type = $2 AND version = $3 AND status = 'pending'
			AND (last_attempt_at IS NULL OR last_attempt_at < NOW() - make_interval(secs => $4))
		RETURNING ` + recordColumns

	rec, err := scanRecord(r.querier.QueryRow(ctx, query,
		key.OrderID,
		string(key.TransactionType),
		version,
		lease.Seconds(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, vcsorder.ErrClaimRejected{Key: key}
		}
		r.logger.Error("Failed to claim vcs order record", "key", key.String(), "error", err)
		return nil, fmt.Errorf("failed to claim vcs order record: %w", err)
	}

	return rec, nil
}

// ListByStatus pages through records of one status using keyset pagination so
// concurrent status changes never make the caller skip rows
func (r *VcsOrderRepository) ListByStatus(ctx context.Context, status shared.RecordStatus, after vcsorder.Key, limit int) ([]*vcsorder.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM vcs_order_records
		WHERE status = $1 AND (order_id, transaction_type) > ($2, $3)
		ORDER BY order_id, transaction_type
		LIMIT $4
	`

	rows, err := r.querier.Query(ctx, query, string(status), after.OrderID, string(after.TransactionType), limit)
	if err != nil {
		r.logger.Error("Failed to list vcs order records", "status", status, "error", err)
		return nil, fmt.Errorf("failed to list vcs order records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ListByLedgerInvoiceID returns the records pointing at a ledger invoice
func (r *VcsOrderRepository) ListByLedgerInvoiceID(ctx context.Context, invoiceID int64) ([]*vcsorder.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM vcs_order_records
		WHERE ledger_invoice_id = $1
		ORDER BY order_id, transaction_type
	`

	rows, err := r.querier.Query(ctx, query, invoiceID)
	if err != nil {
		r.logger.Error("Failed to list vcs order records by invoice", "ledger_invoice_id", invoiceID, "error", err)
		return nil, fmt.Errorf("failed to list vcs order records by invoice: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// CountByStatus returns the number of records per status
func (r *VcsOrderRepository) CountByStatus(ctx context.Context) (map[shared.RecordStatus]int64, error) {
	query := `
		SELECT status, COUNT(*)
		FROM vcs_order_records
		GROUP BY status
	`

	rows, err := r.querier.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to count vcs order records", "error", err)
		return nil, fmt.Errorf("failed to count vcs order records: %w", err)
	}
	defer rows.Close()

	counts := make(map[shared.RecordStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[shared.RecordStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", err)
	}

	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*vcsorder.Record, error) {
	var (
		rec          vcsorder.Record
		txType       string
		status       string
		invoiceID    int64
		invoiceRef   string
		skipReason   string
		errorReason  string
		errorMessage string
		note         string
		aggregate    []byte
	)

	err := row.Scan(
		&rec.OrderID,
		&txType,
		&status,
		&invoiceID,
		&invoiceRef,
		&skipReason,
		&errorReason,
		&errorMessage,
		&note,
		&rec.ReportID,
		&aggregate,
		&rec.Attempts,
		&rec.Version,
		&rec.LastAttemptAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.TransactionType = shared.TransactionType(txType)
	rec.Status = shared.RecordStatus(status)
	if invoiceID != 0 {
		rec.LedgerInvoiceID = &invoiceID
	}
	rec.LedgerInvoiceRef = optionalString(invoiceRef)
	if skipReason != "" {
		reason := shared.SkipReason(skipReason)
		rec.SkipReason = &reason
	}
	if errorReason != "" {
		reason := shared.ErrorReason(errorReason)
		rec.ErrorReason = &reason
	}
	rec.ErrorMessage = optionalString(errorMessage)
	rec.Note = optionalString(note)

	if len(aggregate) > 0 {
		var agg report.OrderAggregate
		if err := json.Unmarshal(aggregate, &agg); err != nil {
			return nil, fmt.Errorf("failed to decode aggregate of %s: %w", rec.OrderID, err)
		}
		rec.Aggregate = &agg
	}

	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]*vcsorder.Record, error) {
	var records []*vcsorder.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vcs order record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vcs order records: %w", err)
	}
	return records, nil
}

func nullableString[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
