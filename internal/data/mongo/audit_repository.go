package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vcs-invoice-reconciler/internal/domain/audit"
	"github.com/vcs-invoice-reconciler/internal/platform/persistence"
)

const (
	// AuditCollectionName is the name of the reconciliation journal collection in MongoDB
	AuditCollectionName = "reconciliation_audit"
)

// AuditIndexes are the indexes the journal queries rely on
var AuditIndexes = []persistence.IndexSpec{
	{Collection: AuditCollectionName, Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "created_at", Value: -1}}},
	{Collection: AuditCollectionName, Keys: bson.D{{Key: "action", Value: 1}, {Key: "created_at", Value: -1}}},
	{Collection: AuditCollectionName, Name: "run_id_1", Keys: bson.D{{Key: "run_id", Value: 1}}},
}

// AuditRepository implements the audit.Repository interface for MongoDB
type AuditRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewAuditRepository creates a new MongoDB audit journal repository
func NewAuditRepository(logger *slog.Logger, db *mongo.Database) audit.Repository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append stores a journal entry. Entries are never updated.
func (r *AuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	collection := r.db.Collection(AuditCollectionName)

	if _, err := collection.InsertOne(ctx, entry); err != nil {
		r.logger.Error("Failed to append audit entry",
			"order_id", entry.OrderID,
			"action", string(entry.Action),
			"error", err)
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// ListByOrder returns the most recent journal entries of an order, newest first
func (r *AuditRepository) ListByOrder(ctx context.Context, orderID string, limit int) ([]*audit.Entry, error) {
	collection := r.db.Collection(AuditCollectionName)

	filter := bson.M{"order_id": orderID}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to list audit entries", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*audit.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		r.logger.Error("Failed to decode audit entries", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to decode audit entries: %w", err)
	}

	return entries, nil
}

// ListByAction returns paginated journal entries of one action within a time window,
// newest first
func (r *AuditRepository) ListByAction(ctx context.Context, action audit.Action, from, to time.Time, limit, offset int) ([]*audit.Entry, error) {
	collection := r.db.Collection(AuditCollectionName)

	filter := bson.M{
		"action": action,
		"created_at": bson.M{
			"$gte": from,
			"$lte": to,
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to list audit entries by action",
			"action", string(action),
			"from", from,
			"to", to,
			"error", err)
		return nil, fmt.Errorf("failed to list audit entries by action: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*audit.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		r.logger.Error("Failed to decode audit entries", "action", string(action), "error", err)
		return nil, fmt.Errorf("failed to decode audit entries: %w", err)
	}

	return entries, nil
}
