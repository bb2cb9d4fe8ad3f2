// internal/state/record.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/wosafety/internal/records"
	"github.com/user/wosafety/internal/types"
)

// RecordStore is a JSONL-backed append-only store of chat records.
// Records are stored per-session in sessions/<sessionID>/records.jsonl.
// Watchers receive the full record set of their session after each append.
type RecordStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex

	watchMu  sync.Mutex
	watchers map[types.SessionID]map[uint64]func([]types.RawRecord)
	nextID   uint64
}

// NewRecordStore creates a new file-backed RecordStore rooted at the given directory.
func NewRecordStore(root string) *RecordStore {
	return &RecordStore{
		root:     root,
		locks:    make(map[types.SessionID]*sync.Mutex),
		watchers: make(map[types.SessionID]map[uint64]func([]types.RawRecord)),
	}
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (r *RecordStore) getLock(sessionID types.SessionID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lock, ok := r.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	r.locks[sessionID] = lock
	return lock
}

func (r *RecordStore) recordsPath(sessionID types.SessionID) string {
	return filepath.Join(r.root, "sessions", string(sessionID), "records.jsonl")
}

// Append adds a record to the session log, filling in ID and createdAt when
// absent, then notifies the session's watchers. Watch callbacks run on the
// appending goroutine and must not append to the same session.
func (r *RecordStore) Append(_ context.Context, record *types.StreamingRecord) error {
	if record.SessionID == "" {
		return fmt.Errorf("append record: empty session id")
	}
	lock := r.getLock(record.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if record.ID == "" {
		record.ID = types.NewRecordID()
	}
	if record.CreatedAt == "" {
		record.CreatedAt = time.Now().UTC().Format(records.TimestampLayout)
	}

	dir := filepath.Dir(r.recordsPath(record.SessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	f, err := os.OpenFile(r.recordsPath(record.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open records file: %w", err)
	}
	data = append(data, '\n')
	_, werr := f.Write(data)
	f.Close()
	if werr != nil {
		return fmt.Errorf("write record: %w", werr)
	}

	r.notify(record.SessionID)
	return nil
}

// notify delivers the full set to watchers. Caller must hold the session lock.
func (r *RecordStore) notify(sessionID types.SessionID) {
	fns := r.watchersOf(sessionID)
	if len(fns) == 0 {
		return
	}
	all, err := r.list(sessionID)
	if err != nil {
		slog.Warn("record watch reload failed", "session_id", string(sessionID), "error", err)
		return
	}
	for _, fn := range fns {
		fn(all)
	}
}

func (r *RecordStore) watchersOf(sessionID types.SessionID) []func([]types.RawRecord) {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	fns := make([]func([]types.RawRecord), 0, len(r.watchers[sessionID]))
	for _, fn := range r.watchers[sessionID] {
		fns = append(fns, fn)
	}
	return fns
}

// list reads every record of the session. Caller must hold the session lock.
func (r *RecordStore) list(sessionID types.SessionID) ([]types.RawRecord, error) {
	f, err := os.Open(r.recordsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []types.RawRecord{}, nil
		}
		return nil, fmt.Errorf("open records file: %w", err)
	}
	defer f.Close()

	out := []types.RawRecord{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec types.RawRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan records file: %w", err)
	}
	return out, nil
}

// List returns every persisted record of the session in append order.
func (r *RecordStore) List(_ context.Context, sessionID types.SessionID) ([]types.RawRecord, error) {
	lock := r.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return r.list(sessionID)
}

// Count returns the number of records for the given session.
func (r *RecordStore) Count(ctx context.Context, sessionID types.SessionID) (int64, error) {
	all, err := r.List(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return int64(len(all)), nil
}

// Watch delivers the current record set to fn immediately and again after
// every append to the session, until stop is called.
func (r *RecordStore) Watch(sessionID types.SessionID, fn func([]types.RawRecord)) (stop func()) {
	lock := r.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	r.watchMu.Lock()
	r.nextID++
	id := r.nextID
	if r.watchers[sessionID] == nil {
		r.watchers[sessionID] = make(map[uint64]func([]types.RawRecord))
	}
	r.watchers[sessionID][id] = fn
	r.watchMu.Unlock()

	if all, err := r.list(sessionID); err == nil {
		fn(all)
	} else {
		slog.Warn("record watch initial load failed", "session_id", string(sessionID), "error", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.watchMu.Lock()
			defer r.watchMu.Unlock()
			delete(r.watchers[sessionID], id)
			if len(r.watchers[sessionID]) == 0 {
				delete(r.watchers, sessionID)
			}
		})
	}
}
