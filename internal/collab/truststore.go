package collab

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"

	"kizuna/internal/domain"

	_ "modernc.org/sqlite"
)

// lastPairingCode keeps the most recently issued code for verification within
// one process lifetime. Codes are single-use in practice and never persisted.
var lastPairingCode atomic.Value

// TrustStore is the sqlite-backed security provider: the device identity and
// the trusted/blocked peer lists survive restarts.
type TrustStore struct {
	db *sql.DB
}

func NewTrustStore(dbPath string) (*TrustStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	store := &TrustStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *TrustStore) Close() error { return s.db.Close() }

func (s *TrustStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS identity (
  one INTEGER PRIMARY KEY CHECK (one = 1),
  device_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS peers (
  id TEXT PRIMARY KEY,
  nickname TEXT NOT NULL DEFAULT '',
  blocked INTEGER NOT NULL DEFAULT 0
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create trust tables: %w", err)
	}
	return nil
}

func (s *TrustStore) GetOrCreateIdentity(ctx context.Context) (domain.PeerID, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT device_id FROM identity WHERE one = 1`).Scan(&raw)
	if err == nil {
		return domain.ParsePeerID(raw), nil
	}
	if err != sql.ErrNoRows {
		return domain.PeerID{}, fmt.Errorf("load identity: %w", err)
	}
	id := uuid.New()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO identity (one, device_id) VALUES (1, ?)`, id.String()); err != nil {
		return domain.PeerID{}, fmt.Errorf("store identity: %w", err)
	}
	return id, nil
}

func (s *TrustStore) IsTrusted(ctx context.Context, peer domain.PeerID) (bool, error) {
	var blocked int
	err := s.db.QueryRowContext(ctx,
		`SELECT blocked FROM peers WHERE id = ?`, peer.String()).Scan(&blocked)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("trust lookup: %w", err)
	}
	return blocked == 0, nil
}

func (s *TrustStore) AddTrustedPeer(ctx context.Context, peer domain.PeerID, nickname string) error {
	const stmt = `
INSERT INTO peers (id, nickname, blocked) VALUES (?, ?, 0)
ON CONFLICT(id) DO UPDATE SET nickname=excluded.nickname, blocked=0;
`
	if _, err := s.db.ExecContext(ctx, stmt, peer.String(), nickname); err != nil {
		return fmt.Errorf("add trusted peer: %w", err)
	}
	return nil
}

func (s *TrustStore) RemoveTrustedPeer(ctx context.Context, peer domain.PeerID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM peers WHERE id = ?`, peer.String()); err != nil {
		return fmt.Errorf("remove trusted peer: %w", err)
	}
	return nil
}

func (s *TrustStore) IsBlocked(ctx context.Context, peer domain.PeerID) (bool, error) {
	var blocked int
	err := s.db.QueryRowContext(ctx,
		`SELECT blocked FROM peers WHERE id = ?`, peer.String()).Scan(&blocked)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("block lookup: %w", err)
	}
	return blocked != 0, nil
}

// BlockPeer marks a peer denied regardless of prior trust.
func (s *TrustStore) BlockPeer(ctx context.Context, peer domain.PeerID) error {
	const stmt = `
INSERT INTO peers (id, nickname, blocked) VALUES (?, '', 1)
ON CONFLICT(id) DO UPDATE SET blocked=1;
`
	if _, err := s.db.ExecContext(ctx, stmt, peer.String()); err != nil {
		return fmt.Errorf("block peer: %w", err)
	}
	return nil
}

func (s *TrustStore) GeneratePairingCode(context.Context) (string, error) {
	code := ""
	for i := 0; i < 6; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate pairing code: %w", err)
		}
		code += n.String()
	}
	lastPairingCode.Store(code)
	return code, nil
}

func (s *TrustStore) VerifyPairingCode(_ context.Context, code string) (bool, error) {
	expected, _ := lastPairingCode.Load().(string)
	return expected != "" && code == expected, nil
}

func (s *TrustStore) TrustedPeers(ctx context.Context) (map[domain.PeerID]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, nickname FROM peers WHERE blocked = 0`)
	if err != nil {
		return nil, fmt.Errorf("list trusted peers: %w", err)
	}
	defer rows.Close()
	out := map[domain.PeerID]string{}
	for rows.Next() {
		var id, nickname string
		if err := rows.Scan(&id, &nickname); err != nil {
			return nil, fmt.Errorf("scan trusted peer: %w", err)
		}
		out[domain.ParsePeerID(id)] = nickname
	}
	return out, rows.Err()
}
