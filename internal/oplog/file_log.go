package oplog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type fileLogState struct {
	NextID   int64            `json:"next_id"`
	Records  []Record         `json:"records"`
	Statuses []JobStatusEntry `json:"statuses"`
}

// FileLog keeps the operation log in one JSON file, rewritten atomically on
// every change. Suited to single-process runs and tests; shared deployments
// use the Postgres log.
type FileLog struct {
	path string
	mu   sync.Mutex
	st   fileLogState
}

func NewFileLog(path string) (*FileLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	l := &FileLog{path: path, st: fileLogState{NextID: 1}}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLog) Append(_ context.Context, clientID int64, operation json.RawMessage) (int64, error) {
	if len(operation) == 0 {
		return 0, ErrInvalidInput
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	record := Record{
		ID:        l.st.NextID,
		ClientID:  clientID,
		Operation: append(json.RawMessage(nil), operation...),
		Status:    RecordPending,
		CreatedAt: time.Now().UTC(),
	}
	l.st.NextID++
	l.st.Records = append(l.st.Records, record)
	if err := l.saveLocked(); err != nil {
		l.st.Records = l.st.Records[:len(l.st.Records)-1]
		l.st.NextID--
		return 0, err
	}
	return record.ID, nil
}

func (l *FileLog) PendingRecords(context.Context) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pending := make([]Record, 0)
	for _, record := range l.st.Records {
		if record.Status == RecordPending {
			pending = append(pending, record)
		}
	}
	return pending, nil
}

func (l *FileLog) MarkRecords(_ context.Context, status RecordStatus, recordIDs ...int64) error {
	if len(recordIDs) == 0 {
		return nil
	}
	wanted := make(map[int64]bool, len(recordIDs))
	for _, id := range recordIDs {
		wanted[id] = true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.st.Records {
		if wanted[l.st.Records[i].ID] {
			l.st.Records[i].Status = status
		}
	}
	return l.saveLocked()
}

func (l *FileLog) AppendJobStatus(_ context.Context, entry JobStatusEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st.Statuses = append(l.st.Statuses, entry)
	return l.saveLocked()
}

func (l *FileLog) JobHistory(_ context.Context, clientID int64) ([]JobStatusEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := make([]JobStatusEntry, 0)
	for _, entry := range l.st.Statuses {
		if clientID == 0 || entry.ClientID == clientID {
			history = append(history, entry)
		}
	}
	return history, nil
}

func (l *FileLog) Close() error { return nil }

func (l *FileLog) load() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileLogState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if snapshot.NextID < 1 {
		snapshot.NextID = 1
	}
	l.st = snapshot
	return nil
}

func (l *FileLog) saveLocked() error {
	data, err := json.Marshal(l.st)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

// MemoryLog is a Log for tests and dry runs.
type MemoryLog struct {
	mu sync.Mutex
	st fileLogState
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{st: fileLogState{NextID: 1}}
}

func (l *MemoryLog) Append(_ context.Context, clientID int64, operation json.RawMessage) (int64, error) {
	if len(operation) == 0 {
		return 0, ErrInvalidInput
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	record := Record{
		ID:        l.st.NextID,
		ClientID:  clientID,
		Operation: append(json.RawMessage(nil), operation...),
		Status:    RecordPending,
		CreatedAt: time.Now().UTC(),
	}
	l.st.NextID++
	l.st.Records = append(l.st.Records, record)
	return record.ID, nil
}

func (l *MemoryLog) PendingRecords(context.Context) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pending := make([]Record, 0)
	for _, record := range l.st.Records {
		if record.Status == RecordPending {
			pending = append(pending, record)
		}
	}
	return pending, nil
}

func (l *MemoryLog) MarkRecords(_ context.Context, status RecordStatus, recordIDs ...int64) error {
	wanted := make(map[int64]bool, len(recordIDs))
	for _, id := range recordIDs {
		wanted[id] = true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.st.Records {
		if wanted[l.st.Records[i].ID] {
			l.st.Records[i].Status = status
		}
	}
	return nil
}

func (l *MemoryLog) AppendJobStatus(_ context.Context, entry JobStatusEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st.Statuses = append(l.st.Statuses, entry)
	return nil
}

func (l *MemoryLog) JobHistory(_ context.Context, clientID int64) ([]JobStatusEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := make([]JobStatusEntry, 0)
	for _, entry := range l.st.Statuses {
		if clientID == 0 || entry.ClientID == clientID {
			history = append(history, entry)
		}
	}
	return history, nil
}

func (l *MemoryLog) Close() error { return nil }
