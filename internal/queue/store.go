package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kizuna/internal/domain"

	_ "modernc.org/sqlite"
)

// Store persists queue items so queued transfers survive restarts.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: sqlite holds a single writer and concurrent Enqueue
	// callers (CLI, TUI, scheduler persistence) would otherwise hit
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS queue_items (
  id TEXT PRIMARY KEY,
  peer_id TEXT NOT NULL,
  priority INTEGER NOT NULL,
  state TEXT NOT NULL,
  enqueued_at TEXT NOT NULL,
  manifest TEXT NOT NULL,
  last_error TEXT NOT NULL DEFAULT ''
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create queue_items table: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, item domain.QueueItem) error {
	manifest, err := json.Marshal(item.Manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	const stmt = `
INSERT INTO queue_items (id, peer_id, priority, state, enqueued_at, manifest, last_error)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  peer_id=excluded.peer_id,
  priority=excluded.priority,
  state=excluded.state,
  enqueued_at=excluded.enqueued_at,
  manifest=excluded.manifest,
  last_error=excluded.last_error;
`
	_, err = s.db.ExecContext(ctx, stmt,
		item.QueueID.String(),
		item.PeerID.String(),
		int(item.Priority),
		string(item.State),
		item.EnqueuedAt.Format(time.RFC3339Nano),
		string(manifest),
		item.LastError,
	)
	if err != nil {
		return fmt.Errorf("upsert queue item: %w", err)
	}
	return nil
}

func (s *Store) UpdateState(ctx context.Context, id domain.QueueID, state domain.QueueState, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET state = ?, last_error = ? WHERE id = ?`,
		string(state), lastError, id.String())
	if err != nil {
		return fmt.Errorf("update queue state: %w", err)
	}
	return nil
}

func (s *Store) UpdatePriority(ctx context.Context, id domain.QueueID, priority domain.Priority) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET priority = ? WHERE id = ?`,
		int(priority), id.String())
	if err != nil {
		return fmt.Errorf("update queue priority: %w", err)
	}
	return nil
}

// LoadAll replays persisted items. Items interrupted mid-flight (scheduled
// or running at shutdown) come back as pending so they reschedule cleanly.
// The reset writes happen after the scan: issuing them against the open rows
// cursor would contend with the single connection.
func (s *Store) LoadAll(ctx context.Context) ([]domain.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, peer_id, priority, state, enqueued_at, manifest, last_error FROM queue_items`)
	if err != nil {
		return nil, fmt.Errorf("load queue items: %w", err)
	}
	defer rows.Close()

	var items []domain.QueueItem
	var interrupted []domain.QueueItem
	for rows.Next() {
		var (
			idRaw, peerRaw, stateRaw, enqueuedRaw, manifestRaw, lastError string
			priority                                                     int
		)
		if err := rows.Scan(&idRaw, &peerRaw, &priority, &stateRaw, &enqueuedRaw, &manifestRaw, &lastError); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		item := domain.QueueItem{
			QueueID:   domain.ParsePeerID(idRaw),
			PeerID:    domain.ParsePeerID(peerRaw),
			Priority:  domain.Priority(priority),
			State:     domain.QueueState(stateRaw),
			LastError: lastError,
		}
		if at, err := time.Parse(time.RFC3339Nano, enqueuedRaw); err == nil {
			item.EnqueuedAt = at
		}
		if err := json.Unmarshal([]byte(manifestRaw), &item.Manifest); err != nil {
			return nil, fmt.Errorf("decode manifest for %s: %w", idRaw, err)
		}
		if item.State == domain.QueueScheduled || item.State == domain.QueueRunning {
			item.State = domain.QueuePending
			interrupted = append(interrupted, item)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load queue items: %w", err)
	}
	rows.Close()

	for _, item := range interrupted {
		if err := s.UpdateState(ctx, item.QueueID, item.State, item.LastError); err != nil {
			return nil, err
		}
	}
	return items, nil
}
