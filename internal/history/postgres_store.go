package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"kubeheal-backend/internal/anomaly"
)

// PostgresStore writes records to the remediation_records table created by
// cmd/migrate.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{Pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	if s.Pool != nil {
		s.Pool.Close()
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO remediation_records (id, anomaly_id, action_id, resource_key, kind, severity, requested_at, completed_at, outcome, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, rec.AnomalyID, rec.ActionID, rec.ResourceKey, string(rec.Kind), rec.Severity.String(),
		rec.RequestedAt, rec.CompletedAt, string(rec.Outcome), rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("%w: insert record: %v", ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, anomaly_id, action_id, resource_key, kind, severity, requested_at, completed_at, outcome, detail
		FROM remediation_records ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("%w: query records: %v", ErrStorage, err)
	}
	defer rows.Close()
	results := []Record{}
	for rows.Next() {
		var (
			rec           Record
			kind, sev, oc string
		)
		if err := rows.Scan(&rec.ID, &rec.AnomalyID, &rec.ActionID, &rec.ResourceKey, &kind, &sev, &rec.RequestedAt, &rec.CompletedAt, &oc, &rec.Detail); err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", ErrStorage, err)
		}
		if err := decodeColumns(&rec, kind, sev, oc); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %v", ErrStorage, err)
	}
	return results, nil
}

func decodeColumns(rec *Record, kind, sev, outcome string) error {
	var err error
	rec.Kind = anomaly.Kind(kind)
	if rec.Severity, err = anomaly.ParseSeverity(sev); err != nil {
		return fmt.Errorf("%w: record %s: %v", ErrStorage, rec.ID, err)
	}
	if rec.Outcome, err = ParseOutcome(outcome); err != nil {
		return fmt.Errorf("%w: record %s: %v", ErrStorage, rec.ID, err)
	}
	rec.RequestedAt = rec.RequestedAt.UTC()
	rec.CompletedAt = rec.CompletedAt.UTC()
	return nil
}
