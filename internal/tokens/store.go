package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Token is one tracked ERC20 token.
type Token struct {
	Address  string
	Symbol   string
	Name     string
	Decimals int
}

// BalanceRow is one recorded balance snapshot.
type BalanceRow struct {
	UserID     string
	Token      string
	BalanceRaw string
	TakenAt    time.Time
}

// Store persists tracked tokens and balance snapshots in SQLite. A file lock
// guards writes so concurrent engine processes do not corrupt the db.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS tracked_tokens (address TEXT PRIMARY KEY, symbol TEXT NOT NULL, name TEXT NOT NULL, decimals INTEGER NOT NULL);",
		"CREATE TABLE IF NOT EXISTS balance_history (id INTEGER PRIMARY KEY AUTOINCREMENT, user_id TEXT NOT NULL, token_address TEXT NOT NULL, balance_raw TEXT NOT NULL, taken_at INTEGER NOT NULL);",
		"CREATE INDEX IF NOT EXISTS idx_balance_history_user ON balance_history (user_id, taken_at);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init store schema: %w", err)
		}
	}

	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) withLock(fn func() error) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

// Track upserts a token into the tracked set.
func (s *Store) Track(t Token) error {
	return s.withLock(func() error {
		_, err := s.db.Exec(
			"INSERT INTO tracked_tokens (address, symbol, name, decimals) VALUES (?, ?, ?, ?) ON CONFLICT(address) DO UPDATE SET symbol=excluded.symbol, name=excluded.name, decimals=excluded.decimals",
			strings.ToLower(t.Address), t.Symbol, t.Name, t.Decimals)
		if err != nil {
			return fmt.Errorf("track token: %w", err)
		}
		return nil
	})
}

// Untrack removes a token. Removing an unknown token is not an error.
func (s *Store) Untrack(address string) error {
	return s.withLock(func() error {
		_, err := s.db.Exec("DELETE FROM tracked_tokens WHERE address = ?", strings.ToLower(address))
		if err != nil {
			return fmt.Errorf("untrack token: %w", err)
		}
		return nil
	})
}

// TrackedTokens returns all tracked tokens ordered by symbol.
func (s *Store) TrackedTokens() ([]Token, error) {
	rows, err := s.db.Query("SELECT address, symbol, name, decimals FROM tracked_tokens ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("list tracked tokens: %w", err)
	}
	defer rows.Close()
	var out []Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.Address, &t.Symbol, &t.Name, &t.Decimals); err != nil {
			return nil, fmt.Errorf("scan tracked token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TokenByAddress returns a tracked token, or false when unknown.
func (s *Store) TokenByAddress(address string) (Token, bool, error) {
	var t Token
	err := s.db.QueryRow(
		"SELECT address, symbol, name, decimals FROM tracked_tokens WHERE address = ?",
		strings.ToLower(address)).Scan(&t.Address, &t.Symbol, &t.Name, &t.Decimals)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Token{}, false, nil
		}
		return Token{}, false, fmt.Errorf("read tracked token: %w", err)
	}
	return t, true, nil
}

// RecordBalance appends one balance snapshot row.
func (s *Store) RecordBalance(row BalanceRow) error {
	return s.withLock(func() error {
		_, err := s.db.Exec(
			"INSERT INTO balance_history (user_id, token_address, balance_raw, taken_at) VALUES (?, ?, ?, ?)",
			row.UserID, strings.ToLower(row.Token), row.BalanceRaw, row.TakenAt.UTC().Unix())
		if err != nil {
			return fmt.Errorf("record balance: %w", err)
		}
		return nil
	})
}

// BalanceHistory returns the most recent snapshots for a user, newest first.
func (s *Store) BalanceHistory(userID string, limit int) ([]BalanceRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		"SELECT user_id, token_address, balance_raw, taken_at FROM balance_history WHERE user_id = ? ORDER BY taken_at DESC, id DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("read balance history: %w", err)
	}
	defer rows.Close()
	var out []BalanceRow
	for rows.Next() {
		var row BalanceRow
		var takenAt int64
		if err := rows.Scan(&row.UserID, &row.Token, &row.BalanceRaw, &takenAt); err != nil {
			return nil, fmt.Errorf("scan balance row: %w", err)
		}
		row.TakenAt = time.Unix(takenAt, 0).UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}
