package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
)

// SQLConfig selects a database/sql backend for the history log.
type SQLConfig struct {
	Type     string // mysql | postgres | mssql
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type dialect struct {
	driver      string
	placeholder func(n int) string
	createTable string
}

var (
	mysqlDialect = dialect{
		driver:      "mysql",
		placeholder: func(int) string { return "?" },
		createTable: `CREATE TABLE IF NOT EXISTS remediation_records (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			id VARCHAR(36) NOT NULL UNIQUE,
			anomaly_id VARCHAR(36) NOT NULL,
			action_id VARCHAR(64) NOT NULL,
			resource_key VARCHAR(255) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			severity VARCHAR(16) NOT NULL,
			requested_at DATETIME(6) NOT NULL,
			completed_at DATETIME(6) NOT NULL,
			outcome VARCHAR(16) NOT NULL,
			detail TEXT NOT NULL,
			INDEX idx_remediation_records_anomaly (anomaly_id)
		)`,
	}
	postgresDialect = dialect{
		driver:      "postgres",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		createTable: `CREATE TABLE IF NOT EXISTS remediation_records (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			anomaly_id TEXT NOT NULL,
			action_id TEXT NOT NULL,
			resource_key TEXT NOT NULL,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			requested_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		)`,
	}
	mssqlDialect = dialect{
		driver:      "sqlserver",
		placeholder: func(n int) string { return fmt.Sprintf("@p%d", n) },
		createTable: `IF OBJECT_ID(N'dbo.remediation_records', N'U') IS NULL
		CREATE TABLE dbo.remediation_records (
			seq BIGINT IDENTITY(1,1) PRIMARY KEY,
			id NVARCHAR(36) NOT NULL UNIQUE,
			anomaly_id NVARCHAR(36) NOT NULL,
			action_id NVARCHAR(64) NOT NULL,
			resource_key NVARCHAR(255) NOT NULL,
			kind NVARCHAR(32) NOT NULL,
			severity NVARCHAR(16) NOT NULL,
			requested_at DATETIME2 NOT NULL,
			completed_at DATETIME2 NOT NULL,
			outcome NVARCHAR(16) NOT NULL,
			detail NVARCHAR(MAX) NOT NULL
		)`,
	}
)

func dialectFor(dbType string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "mysql":
		return mysqlDialect, nil
	case "postgres", "postgresql":
		return postgresDialect, nil
	case "mssql", "sqlserver":
		return mssqlDialect, nil
	case "":
		return dialect{}, errors.New("database type is required")
	default:
		return dialect{}, fmt.Errorf("unsupported database type %q", dbType)
	}
}

// DSN renders the driver connection string for cfg.
func (cfg SQLConfig) DSN() (string, error) {
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "mysql":
		port := defaultPort(cfg.Port, 3306)
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC", cfg.User, cfg.Password, cfg.Host, port, cfg.Database)
		if sslMode == "disable" {
			dsn += "&tls=false"
		} else if sslMode != "" {
			dsn += "&tls=true"
		}
		return dsn, nil
	case "postgres", "postgresql":
		port := defaultPort(cfg.Port, 5432)
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", cfg.Host, port, cfg.User, cfg.Password, cfg.Database, sslMode), nil
	case "mssql", "sqlserver":
		port := defaultPort(cfg.Port, 1433)
		encrypt := "true"
		if sslMode == "disable" {
			encrypt = "disable"
		}
		return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s",
			url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password), cfg.Host, port, url.QueryEscape(cfg.Database), encrypt), nil
	}
	_, err := dialectFor(cfg.Type)
	return "", err
}

func defaultPort(port, fallback int) int {
	if port == 0 {
		return fallback
	}
	return port
}

// SQLStore writes records through database/sql to MySQL, SQL Server or
// PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func OpenSQLStore(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	d, err := dialectFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", d.driver, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.driver, err)
	}
	s := &SQLStore{db: db, dialect: d}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.createTable); err != nil {
		return fmt.Errorf("create remediation_records on %s: %w", s.dialect.driver, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, insertQuery(s.dialect),
		rec.ID, rec.AnomalyID, rec.ActionID, rec.ResourceKey, string(rec.Kind), rec.Severity.String(),
		rec.RequestedAt.UTC(), rec.CompletedAt.UTC(), string(rec.Outcome), rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("%w: insert record on %s: %v", ErrStorage, s.dialect.driver, err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, anomaly_id, action_id, resource_key, kind, severity, requested_at, completed_at, outcome, detail
		FROM remediation_records ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("%w: query records on %s: %v", ErrStorage, s.dialect.driver, err)
	}
	defer rows.Close()
	results := []Record{}
	for rows.Next() {
		var (
			rec           Record
			kind, sev, oc string
		)
		if err := rows.Scan(&rec.ID, &rec.AnomalyID, &rec.ActionID, &rec.ResourceKey, &kind, &sev, &rec.RequestedAt, &rec.CompletedAt, &oc, &rec.Detail); err != nil {
			return nil, fmt.Errorf("%w: scan record on %s: %v", ErrStorage, s.dialect.driver, err)
		}
		if err := decodeColumns(&rec, kind, sev, oc); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records on %s: %v", ErrStorage, s.dialect.driver, err)
	}
	return results, nil
}

func insertQuery(d dialect) string {
	marks := make([]string, 10)
	for i := range marks {
		marks[i] = d.placeholder(i + 1)
	}
	return "INSERT INTO remediation_records (id, anomaly_id, action_id, resource_key, kind, severity, requested_at, completed_at, outcome, detail) VALUES (" +
		strings.Join(marks, ",") + ")"
}
