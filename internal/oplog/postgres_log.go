package oplog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresOperationsTableName = "adbatch_operations"
	postgresJobStatusTableName  = "adbatch_job_status"
	postgresOperationTimeout    = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresLog stores the operation log in Postgres so several processes can
// feed one submission run. Tables are created on first use.
type PostgresLog struct {
	dsn             string
	operationsTable string
	statusTable     string
	openDB          sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresLog(dsn string) (*PostgresLog, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresLog{
		dsn:             dsn,
		operationsTable: postgresOperationsTableName,
		statusTable:     postgresJobStatusTableName,
		openDB:          sql.Open,
	}, nil
}

func (l *PostgresLog) Append(ctx context.Context, clientID int64, operation json.RawMessage) (int64, error) {
	if len(operation) == 0 {
		return 0, ErrInvalidInput
	}
	if err := l.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (client_id, operation, status, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id`, postgresQuoteIdentifier(l.operationsTable))
	var id int64
	if err := l.db.QueryRowContext(ctx, query, clientID, string(operation), string(RecordPending)).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (l *PostgresLog) PendingRecords(ctx context.Context) ([]Record, error) {
	if err := l.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, client_id, operation, status, created_at
		FROM %s
		WHERE status = $1
		ORDER BY id ASC`, postgresQuoteIdentifier(l.operationsTable))
	rows, err := l.db.QueryContext(ctx, query, string(RecordPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var record Record
		var operation string
		var status string
		if err := rows.Scan(&record.ID, &record.ClientID, &operation, &status, &record.CreatedAt); err != nil {
			return nil, err
		}
		record.Operation = json.RawMessage(operation)
		record.Status = RecordStatus(status)
		records = append(records, record)
	}
	return records, rows.Err()
}

func (l *PostgresLog) MarkRecords(ctx context.Context, status RecordStatus, recordIDs ...int64) error {
	if len(recordIDs) == 0 {
		return nil
	}
	if err := l.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	placeholders := make([]string, len(recordIDs))
	args := make([]any, 0, len(recordIDs)+1)
	args = append(args, string(status))
	for i, id := range recordIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	query := fmt.Sprintf("UPDATE %s SET status = $1 WHERE id IN (%s)",
		postgresQuoteIdentifier(l.operationsTable), strings.Join(placeholders, ", "))
	_, err := l.db.ExecContext(ctx, query, args...)
	return err
}

func (l *PostgresLog) AppendJobStatus(ctx context.Context, entry JobStatusEntry) error {
	if err := l.ensureReady(); err != nil {
		return err
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, client_id, job_id, status, completed, estimated, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, postgresQuoteIdentifier(l.statusTable))
	_, err := l.db.ExecContext(ctx, query,
		entry.RunID, entry.ClientID, entry.JobID, entry.Status, entry.Completed, entry.Estimated, entry.UpdatedAt)
	return err
}

func (l *PostgresLog) JobHistory(ctx context.Context, clientID int64) ([]JobStatusEntry, error) {
	if err := l.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT run_id, client_id, job_id, status, completed, estimated, updated_at
		FROM %s
		WHERE $1 = 0 OR client_id = $1
		ORDER BY updated_at ASC, job_id ASC`, postgresQuoteIdentifier(l.statusTable))
	rows, err := l.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]JobStatusEntry, 0)
	for rows.Next() {
		var entry JobStatusEntry
		if err := rows.Scan(&entry.RunID, &entry.ClientID, &entry.JobID, &entry.Status, &entry.Completed, &entry.Estimated, &entry.UpdatedAt); err != nil {
			return nil, err
		}
		history = append(history, entry)
	}
	return history, rows.Err()
}

func (l *PostgresLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *PostgresLog) ensureReady() error {
	if l == nil {
		return ErrInvalidInput
	}
	l.initOnce.Do(func() {
		db, err := l.openDB("postgres", l.dsn)
		if err != nil {
			l.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		operationsQuery := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				client_id BIGINT NOT NULL,
				operation TEXT NOT NULL,
				status TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(l.operationsTable))
		if _, err := db.ExecContext(ctx, operationsQuery); err != nil {
			_ = db.Close()
			l.initErr = err
			return
		}
		indexName := l.operationsTable + "_status_id_idx"
		indexQuery := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (status, id)",
			postgresQuoteIdentifier(indexName), postgresQuoteIdentifier(l.operationsTable))
		if _, err := db.ExecContext(ctx, indexQuery); err != nil {
			_ = db.Close()
			l.initErr = err
			return
		}
		statusQuery := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				run_id TEXT NOT NULL,
				client_id BIGINT NOT NULL,
				job_id BIGINT NOT NULL,
				status TEXT NOT NULL,
				completed BIGINT NOT NULL DEFAULT 0,
				estimated BIGINT NOT NULL DEFAULT 0,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(l.statusTable))
		if _, err := db.ExecContext(ctx, statusQuery); err != nil {
			_ = db.Close()
			l.initErr = err
			return
		}
		l.db = db
	})
	return l.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
