package spool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/mediabuy/adbatch/internal/adops"
	"github.com/mediabuy/adbatch/internal/oplog"
)

type Logger interface {
	Printf(format string, args ...any)
}

const (
	doneSuffix   = ".done"
	failedSuffix = ".failed"
)

// Watcher ingests JSON-lines operation files dropped into a spool directory.
// Every line is one generic operation record; valid lines land in the
// operation log and the file is renamed with a .done suffix so external
// producers can see what was picked up. A file with no usable lines is
// renamed .failed instead.
type Watcher struct {
	dir    string
	log    oplog.Log
	logger Logger
}

func NewWatcher(dir string, log oplog.Log, logger Logger) (*Watcher, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("spool directory is required")
	}
	if log == nil {
		return nil, fmt.Errorf("operation log is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Watcher{dir: dir, log: log, logger: logger}, nil
}

// Run ingests everything already in the directory, then watches for new
// files until the context ends.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.ScanOnce(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !ingestable(event.Name) {
				continue
			}
			if _, err := w.IngestFile(ctx, event.Name); err != nil && w.logger != nil {
				w.logger.Printf("spool: ingest %s: %v", event.Name, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if w.logger != nil {
				w.logger.Printf("spool: watch error: %v", err)
			}
		}
	}
}

// ScanOnce ingests every file currently sitting in the spool directory.
func (w *Watcher) ScanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if !ingestable(path) {
			continue
		}
		if _, err := w.IngestFile(ctx, path); err != nil && w.logger != nil {
			w.logger.Printf("spool: ingest %s: %v", path, err)
		}
	}
	return nil
}

// IngestFile reads one JSON-lines file into the operation log and renames it
// aside. It returns how many records were appended. Lines that do not parse
// as operations are logged and skipped; they do not block the rest of the
// file.
func (w *Watcher) IngestFile(ctx context.Context, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	defer file.Close()

	appended := 0
	badLines := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		op, err := adops.ParseRecord([]byte(line))
		if err != nil {
			badLines++
			if w.logger != nil {
				w.logger.Printf("spool: %s line %d: %v", filepath.Base(path), lineNo, err)
			}
			continue
		}
		if _, err := w.log.Append(ctx, op.ClientID, []byte(line)); err != nil {
			return appended, fmt.Errorf("append line %d: %w", lineNo, err)
		}
		appended++
	}
	if err := scanner.Err(); err != nil {
		return appended, err
	}

	suffix := doneSuffix
	if appended == 0 && badLines > 0 {
		suffix = failedSuffix
	}
	if err := os.Rename(path, path+suffix); err != nil {
		return appended, err
	}
	if w.logger != nil {
		w.logger.Printf("spool: %s: %d records ingested, %d rejected", filepath.Base(path), appended, badLines)
	}
	return appended, nil
}

func ingestable(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.HasSuffix(name, doneSuffix) || strings.HasSuffix(name, failedSuffix) || strings.HasSuffix(name, ".tmp") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".json" || ext == ".jsonl" || ext == ".ops"
}
