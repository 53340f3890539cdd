package components

import (
	"bytes"
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
	"github.com/vcs-invoice-reconciler/internal/reconciler/service"
)

type RecordManagerImpl struct {
	repo     vcsorder.Repository
	txRunner persistence.TxRunner
	lease    time.Duration
	logger   *slog.Logger
}

func NewRecordManager(repo vcsorder.Repository, txRunner persistence.TxRunner, lease time.Duration, logger *slog.Logger) service.RecordManager {
	return &RecordManagerImpl{
		repo:     repo,
		txRunner: txRunner,
		lease:    lease,
		logger:   logger,
	}
}

func (m *RecordManagerImpl) Get(ctx context.Context, key vcsorder.Key) (*vcsorder.Record, error) {
	return m.repo.Get(ctx, key)
}

// Register creates the record of an aggregate. An existing pending record with no
// ledger document yet takes the newer aggregate; any other existing record is
// returned untouched.
func (m *RecordManagerImpl) Register(ctx context.Context, agg *report.OrderAggregate) (*vcsorder.Record, bool, error) {
	rec, err := vcsorder.NewRecord(agg)
	if err != nil {
		return nil, false, err
	}
	created, err := m.repo.CreateIfAbsent(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	if created {
		return rec, true, nil
	}

	existing, err := m.repo.Get(ctx, rec.Key())
	if err != nil {
		return nil, false, err
	}
	if !existing.IsPending() || existing.LedgerInvoiceID != nil || sameAggregate(existing.Aggregate, agg) {
		return existing, false, nil
	}

	if err := existing.RefreshAggregate(agg); err != nil {
		return nil, false, err
	}
	if err := m.repo.Update(ctx, existing); err != nil {
		if errors.Is(err, vcsorder.ErrConcurrentModification{}) {
			// another run got there first; work with what it stored
			current, getErr := m.repo.Get(ctx, rec.Key())
			return current, false, getErr
		}
		return nil, false, err
	}
	m.logger.Info("Pending record refreshed from newer report", "orderId", agg.OrderID, "transactionType", agg.Type, "report_id", agg.ReportID)
	return existing, false, nil
}

func (m *RecordManagerImpl) Claim(ctx context.Context, rec *vcsorder.Record) (*vcsorder.Record, error) {
	return m.repo.Claim(ctx, rec.Key(), rec.Version, m.lease)
}

func (m *RecordManagerImpl) Save(ctx context.Context, rec *vcsorder.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("refusing to save %s: %w", rec.Key(), err)
	}
	return m.repo.Update(ctx, rec)
}

// Requeue resets an error or skipped record under a row lock. A record that is
// already pending is returned as is.
func (m *RecordManagerImpl) Requeue(ctx context.Context, key vcsorder.Key, note string) (*vcsorder.Record, error) {
	var out *vcsorder.Record
	err := m.txRunner.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := m.repo.WithTx(tx)
		rec, err := repo.LockForUpdate(ctx, key)
		if err != nil {
			return err
		}

		switch rec.Status {
		case shared.RecordStatusPending:
			out = rec
			return nil
		case shared.RecordStatusError, shared.RecordStatusSkipped:
		default:
			return fmt.Errorf("%w: %s is %s", service.ErrNotRequeueable, key, rec.Status)
		}

		rec.ResetToPending(note)
		if err := repo.Update(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sameAggregate(a, b *report.OrderAggregate) bool {
	if a == nil || b == nil {
		return a == b
	}
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}
