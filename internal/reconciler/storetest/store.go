// Package storetest provides in-memory stand-ins for the Local Store, the audit
// journal and the Kafka publishers.
package storetest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vcs-invoice-reconciler/internal/domain/audit"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
)

// Records is an in-memory vcsorder.Repository with the same versioning and claim
// rules as the Postgres repository
type Records struct {
	mu      sync.Mutex
	records map[vcsorder.Key]vcsorder.Record
	now     func() time.Time
}

var _ vcsorder.Repository = (*Records)(nil)

func NewRecords() *Records {
	return &Records{
		records: make(map[vcsorder.Key]vcsorder.Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Records) CreateIfAbsent(_ context.Context, rec *vcsorder.Record) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.Key()]; ok {
		return false, nil
	}
	r.records[rec.Key()] = *rec
	return true, nil
}

func (r *Records) Get(_ context.Context, key vcsorder.Key) (*vcsorder.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return nil, vcsorder.ErrRecordNotFound{Key: key}
	}
	return &rec, nil
}

func (r *Records) Update(_ context.Context, rec *vcsorder.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[rec.Key()]
	if !ok || stored.Version != rec.Version-1 {
		return vcsorder.ErrConcurrentModification{Key: rec.Key()}
	}
	r.records[rec.Key()] = *rec
	return nil
}

func (r *Records) Claim(_ context.Context, key vcsorder.Key, version int, lease time.Duration) (*vcsorder.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	now := r.now()
	if !ok || rec.Version != version || !rec.IsPending() ||
		(rec.LastAttemptAt != nil && !rec.LastAttemptAt.Before(now.Add(-lease))) {
		return nil, vcsorder.ErrClaimRejected{Key: key}
	}
	rec.Attempts++
	rec.LastAttemptAt = &now
	rec.Version++
	rec.UpdatedAt = now
	r.records[key] = rec
	return &rec, nil
}

func (r *Records) LockForUpdate(ctx context.Context, key vcsorder.Key) (*vcsorder.Record, error) {
	return r.Get(ctx, key)
}

func (r *Records) ListByStatus(_ context.Context, status shared.RecordStatus, after vcsorder.Key, limit int) ([]*vcsorder.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*vcsorder.Record
	for _, rec := range r.sorted() {
		if rec.Status != status || !keyAfter(rec.Key(), after) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Records) ListByLedgerInvoiceID(_ context.Context, invoiceID int64) ([]*vcsorder.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*vcsorder.Record
	for _, rec := range r.sorted() {
		if rec.LedgerInvoiceID != nil && *rec.LedgerInvoiceID == invoiceID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *Records) CountByStatus(_ context.Context) (map[shared.RecordStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[shared.RecordStatus]int64)
	for _, rec := range r.records {
		counts[rec.Status]++
	}
	return counts, nil
}

func (r *Records) WithTx(pgx.Tx) vcsorder.Repository {
	return r
}

// All returns a snapshot of every record in key order
func (r *Records) All() []*vcsorder.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted()
}

// Put stores a record as-is, bypassing version checks
func (r *Records) Put(rec *vcsorder.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.Key()] = *rec
}

// ExpireClaims makes every claim older than any lease
func (r *Records) ExpireClaims() {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := time.Unix(0, 0).UTC()
	for k, rec := range r.records {
		if rec.LastAttemptAt != nil {
			rec.LastAttemptAt = &old
			r.records[k] = rec
		}
	}
}

func (r *Records) sorted() []*vcsorder.Record {
	out := make([]*vcsorder.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i].Key(), out[j].Key()) })
	return out
}

func keyLess(a, b vcsorder.Key) bool {
	if a.OrderID != b.OrderID {
		return a.OrderID < b.OrderID
	}
	return a.TransactionType < b.TransactionType
}

func keyAfter(k, after vcsorder.Key) bool {
	if after == (vcsorder.Key{}) {
		return true
	}
	return keyLess(after, k)
}

// Tx runs transactional functions directly; Records ignores the transaction handle
type Tx struct{}

func (Tx) ExecuteTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// AuditLog is an in-memory audit.Repository
type AuditLog struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

var _ audit.Repository = (*AuditLog)(nil)

func (a *AuditLog) Append(_ context.Context, entry *audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *AuditLog) ListByOrder(_ context.Context, orderID string, limit int) ([]*audit.Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*audit.Entry
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].OrderID == orderID {
			out = append(out, a.entries[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (a *AuditLog) ListByAction(_ context.Context, action audit.Action, from, to time.Time, limit, offset int) ([]*audit.Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*audit.Entry
	for _, e := range a.entries {
		if e.Action == action && !e.CreatedAt.Before(from) && !e.CreatedAt.After(to) {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Entries returns every appended entry in order
func (a *AuditLog) Entries() []*audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*audit.Entry(nil), a.entries...)
}

// Count returns the number of entries with the given action
func (a *AuditLog) Count(action audit.Action) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

// Message is a message captured by Publisher
type Message struct {
	Key   string
	Value []byte
}

// Publisher captures published messages as JSON
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func (p *Publisher) Publish(_ context.Context, key string, value interface{}) error {
	if p.Err != nil {
		return p.Err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Key: key, Value: data})
	return nil
}

func (p *Publisher) PublishToDLQ(ctx context.Context, key string, original []byte, reason string) error {
	return p.Publish(ctx, key, map[string]string{"original": string(original), "reason": reason})
}

func (p *Publisher) Close() error {
	return nil
}

// Messages returns every captured message in order
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}
