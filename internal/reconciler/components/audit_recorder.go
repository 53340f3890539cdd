package components

import (
	"context"
	"log/slog"

	"github.com/vcs-invoice-reconciler/internal/domain/audit"
	"github.com/vcs-invoice-reconciler/internal/reconciler/service"
)

type AuditRecorderImpl struct {
	repo   audit.Repository
	logger *slog.Logger
}

func NewAuditRecorder(repo audit.Repository, logger *slog.Logger) service.AuditRecorder {
	return &AuditRecorderImpl{
		repo:   repo,
		logger: logger,
	}
}

// Record appends an entry to the reconciliation journal. Without a journal it does nothing.
func (r *AuditRecorderImpl) Record(ctx context.Context, entry *audit.Entry) error {
	if r.repo == nil {
		return nil
	}
	if err := r.repo.Append(ctx, entry); err != nil {
		r.logger.Error("Failed to append journal entry",
			"action", entry.Action,
			"orderId", entry.OrderID,
			"transactionType", entry.TransactionType,
			"error", err,
		)
		return err
	}
	r.logger.Debug("Journal entry appended", "action", entry.Action, "orderId", entry.OrderID)
	return nil
}
