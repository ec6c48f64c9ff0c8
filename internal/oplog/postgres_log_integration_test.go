package oplog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationLogRoundTrip(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	log, err := NewPostgresLog(dsn)
	if err != nil {
		t.Fatalf("new postgres log: %v", err)
	}
	log.operationsTable = postgresIntegrationTableName("adbatch_operations_it")
	log.statusTable = postgresIntegrationTableName("adbatch_job_status_it")
	t.Cleanup(func() {
		_ = log.Close()
		postgresIntegrationDropTable(t, dsn, log.operationsTable)
		postgresIntegrationDropTable(t, dsn, log.statusTable)
	})
	ctx := context.Background()

	first, err := log.Append(ctx, 9, json.RawMessage(`{"object_type":"label","client_id":9}`))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := log.Append(ctx, 10, json.RawMessage(`{"object_type":"adgroup","client_id":10}`))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	pending, err := log.PendingRecords(ctx)
	if err != nil {
		t.Fatalf("pending records: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first || pending[1].ID != second {
		t.Fatalf("pending = %+v", pending)
	}

	if err := log.MarkRecords(ctx, RecordSubmitted, first, second); err != nil {
		t.Fatalf("mark records: %v", err)
	}
	pending, err = log.PendingRecords(ctx)
	if err != nil {
		t.Fatalf("pending records: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after mark = %+v", pending)
	}

	if err := log.AppendJobStatus(ctx, JobStatusEntry{RunID: "run-it", ClientID: 9, JobID: 77, Status: "DONE", Completed: 4, Estimated: 4}); err != nil {
		t.Fatalf("append job status: %v", err)
	}
	history, err := log.JobHistory(ctx, 9)
	if err != nil {
		t.Fatalf("job history: %v", err)
	}
	if len(history) != 1 || history[0].JobID != 77 || history[0].Status != "DONE" {
		t.Fatalf("history = %+v", history)
	}
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("ADBATCH_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set ADBATCH_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Logf("open for cleanup: %v", err)
		return
	}
	defer db.Close()
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", postgresQuoteIdentifier(tableName))
	if _, err := db.Exec(query); err != nil {
		t.Logf("drop %s: %v", tableName, err)
	}
}
