package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/vcs-invoice-reconciler/internal/config"
)

// IndexSpec describes an index the audit journal relies on.
// Name is optional; the server derives one from the keys when empty.
type IndexSpec struct {
	Collection string
	Name       string
	Keys       bson.D
	Unique     bool
}

func (s IndexSpec) model() mongo.IndexModel {
	opts := options.Index().SetUnique(s.Unique)
	if s.Name != "" {
		opts.SetName(s.Name)
	}
	return mongo.IndexModel{Keys: s.Keys, Options: opts}
}

// MongoDB owns the client of the audit journal database
type MongoDB struct {
	logger   *slog.Logger
	client   *mongo.Client
	database *mongo.Database
}

// NewMongoDB connects and pings the primary. A failed ping disconnects the client
// so no pool is leaked on startup errors.
func NewMongoDB(ctx context.Context, logger *slog.Logger, cfg *config.MongoDBConfig) (*MongoDB, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("vcs-reconciler").
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize).
		SetMaxConnIdleTime(cfg.MaxConnIdleTime)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit journal: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping audit journal: %w", err)
	}

	logger.Info("Connected to audit journal", "database", cfg.Database)
	return &MongoDB{
		logger:   logger,
		client:   client,
		database: client.Database(cfg.Database),
	}, nil
}

func (m *MongoDB) Database() *mongo.Database {
	return m.database
}

// EnsureIndexes creates the given indexes with one createIndexes command per
// collection. Existing identical indexes are left untouched.
func (m *MongoDB) EnsureIndexes(ctx context.Context, specs []IndexSpec) error {
	var order []string
	byCollection := make(map[string][]mongo.IndexModel)
	for _, spec := range specs {
		if _, seen := byCollection[spec.Collection]; !seen {
			order = append(order, spec.Collection)
		}
		byCollection[spec.Collection] = append(byCollection[spec.Collection], spec.model())
	}

	for _, name := range order {
		created, err := m.database.Collection(name).Indexes().CreateMany(ctx, byCollection[name])
		if err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
		m.logger.Info("Audit journal indexes ensured", "collection", name, "indexes", created)
	}
	return nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from audit journal: %w", err)
	}
	m.logger.Info("Closed audit journal connection")
	return nil
}
