// Package fallback implements the file-based write fallback: when the
// primary store is unreachable, scan records are appended to a local
// JSON-lines spool and drained back into postgres once it recovers. The
// spool is an explicit work queue, never a silent dual-write.
package fallback

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/complyscan/scanstore/internal/filex"
	"github.com/complyscan/scanstore/internal/logging"
	"github.com/complyscan/scanstore/internal/server/models"
)

const (
	pendingFile    = "pending.jsonl"
	drainingSuffix = ".draining"
)

// SpooledRecord is one queued write together with why it was spooled.
type SpooledRecord struct {
	Record    *models.ScanRecord `json:"record"`
	Reason    string             `json:"reason"`
	SpooledAt time.Time          `json:"spooled_at"`
}

// Spool is an append-only JSON-lines queue on local disk.
type Spool struct {
	dir    string
	logger logging.Logger

	mu sync.Mutex
}

func NewSpool(dir string, logger logging.Logger) (*Spool, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("spool dir: %w", err)
	}
	return &Spool{dir: abs, logger: logger}, nil
}

// Append queues a record. The write is flushed before returning: once
// store() has answered "accepted, degraded", the record must survive a
// process crash.
func (s *Spool) Append(ctx context.Context, rec *SpooledRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal spooled record: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(s.dir, pendingFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o660)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append spool: %w", err)
	}
	return f.Sync()
}

// Pending counts queued records, including any batch claimed by a drain
// that did not finish.
func (s *Spool) Pending() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.spoolFiles()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, path := range files {
		n, err := countLines(path)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Drain claims the pending batch and applies each record in order. Records
// the apply function rejects are re-queued, so a mid-drain crash or a still
// flaky database never loses a write. Returns the records that were
// applied, for archival.
func (s *Spool) Drain(ctx context.Context, apply func(ctx context.Context, rec *SpooledRecord) error) ([]*SpooledRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.spoolFiles()
	if err != nil {
		return nil, err
	}

	var applied []*SpooledRecord
	for _, path := range files {
		claimed := path
		if filepath.Ext(path) != drainingSuffix {
			claimed, err = filex.RenameWithSuffix(path, drainingSuffix)
			if err != nil {
				return applied, err
			}
		}

		records, err := readBatch(claimed)
		if err != nil {
			return applied, err
		}

		var failed []*SpooledRecord
		for i, rec := range records {
			if err := ctx.Err(); err != nil {
				failed = append(failed, records[i:]...)
				break
			}
			if err := apply(ctx, rec); err != nil {
				s.logger.Warn(ctx, "spool drain apply failed, re-queueing",
					"scan_id", rec.Record.ScanID, "error", err.Error())
				failed = append(failed, rec)
				continue
			}
			applied = append(applied, rec)
		}

		if err := os.Remove(claimed); err != nil {
			return applied, fmt.Errorf("remove drained batch: %w", err)
		}

		for _, rec := range failed {
			if err := s.appendLocked(rec); err != nil {
				return applied, err
			}
		}
	}

	return applied, nil
}

// DrainedBatchBytes serializes records for archival after a drain.
func DrainedBatchBytes(records []*SpooledRecord) ([]byte, error) {
	var out []byte
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out, nil
}

func (s *Spool) spoolFiles() ([]string, error) {
	// claimed-but-unfinished batches first, then the pending file
	draining, err := filex.ListFiles(s.dir, drainingSuffix)
	if err != nil {
		return nil, err
	}

	files := draining
	pending := filepath.Join(s.dir, pendingFile)
	if _, err := os.Stat(pending); err == nil {
		files = append(files, pending)
	}
	return files, nil
}

// appendLocked re-queues a record; the caller already holds the mutex.
func (s *Spool) appendLocked(rec *SpooledRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(s.dir, pendingFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o660)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

func readBatch(path string) ([]*SpooledRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []*SpooledRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		rec := &SpooledRecord{}
		if err := json.Unmarshal(scanner.Bytes(), rec); err != nil {
			return nil, fmt.Errorf("corrupt spool line in %s: %w", path, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			n++
		}
	}
	return n, scanner.Err()
}
