// Package history is the append-only log of executed remediations.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kubeheal-backend/internal/anomaly"
)

const dateLayout = "2006-01-02"

// Filter narrows ListAll. Zero fields match everything; Date is a UTC day in
// YYYY-MM-DD form applied to RequestedAt.
type Filter struct {
	Severity  *anomaly.Severity
	Date      string
	From      time.Time
	To        time.Time
	Search    string
	AnomalyID string
}

func (f Filter) Validate() error {
	if f.Date != "" {
		if _, err := time.Parse(dateLayout, f.Date); err != nil {
			return fmt.Errorf("date %q: expected YYYY-MM-DD", f.Date)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return errors.New("to is before from")
	}
	return nil
}

func (f Filter) match(rec Record) bool {
	if f.Severity != nil && rec.Severity != *f.Severity {
		return false
	}
	if f.AnomalyID != "" && rec.AnomalyID != f.AnomalyID {
		return false
	}
	if f.Date != "" && rec.RequestedAt.UTC().Format(dateLayout) != f.Date {
		return false
	}
	if !f.From.IsZero() && rec.RequestedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.RequestedAt.After(f.To) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		haystack := strings.ToLower(strings.Join([]string{
			rec.AnomalyID, rec.ResourceKey, rec.ActionID, string(rec.Kind), rec.Detail,
		}, "\n"))
		if !strings.Contains(haystack, q) {
			return false
		}
	}
	return true
}

// Log fronts a Store with validation, identity and in-memory filtering.
type Log struct {
	store  Store
	logger *zap.Logger
	newID  func() string
}

func NewLog(store Store, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{store: store, logger: logger, newID: uuid.NewString}
}

// Append validates rec, assigns an id when it has none and persists it. Any
// persistence error wraps ErrStorage.
func (l *Log) Append(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = l.newID()
	}
	rec.RequestedAt = rec.RequestedAt.UTC()
	rec.CompletedAt = rec.CompletedAt.UTC()
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = rec.RequestedAt
	}
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	if err := l.store.Append(ctx, rec); err != nil {
		l.logger.Error("append remediation record failed",
			zap.String("record", rec.ID),
			zap.String("anomaly", rec.AnomalyID),
			zap.Error(err))
		return rec, storageErr(err)
	}
	return rec, nil
}

func (l *Log) ListByAnomaly(ctx context.Context, anomalyID string) ([]Record, error) {
	return l.ListAll(ctx, Filter{AnomalyID: anomalyID})
}

// ListAll returns matching records ordered by RequestedAt ascending; records
// with equal timestamps keep their append order.
func (l *Log) ListAll(ctx context.Context, f Filter) ([]Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	all, err := l.store.Load(ctx)
	if err != nil {
		return nil, storageErr(err)
	}
	out := make([]Record, 0, len(all))
	for _, rec := range all {
		if f.match(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

func (l *Log) Close() error {
	return l.store.Close()
}

func storageErr(err error) error {
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}
