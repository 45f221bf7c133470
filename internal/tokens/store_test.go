package tokens

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "broker.db"), filepath.Join(dir, "broker.lock"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTrackAndList(t *testing.T) {
	store := openTestStore(t)
	czusd := Token{Address: "0x00000000000000000000000000000000000000CC", Symbol: "CZUSD", Name: "CZ USD", Decimals: 18}
	if err := store.Track(czusd); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := store.Track(Token{Address: "0x00000000000000000000000000000000000000DD", Symbol: "CZB", Name: "CZodiac", Decimals: 18}); err != nil {
		t.Fatalf("Track: %v", err)
	}

	tracked, err := store.TrackedTokens()
	if err != nil {
		t.Fatalf("TrackedTokens: %v", err)
	}
	if len(tracked) != 2 || tracked[0].Symbol != "CZB" {
		t.Fatalf("tracked order: %v", tracked)
	}

	// Upsert with new metadata, addresses match case-insensitively.
	czusd.Decimals = 6
	if err := store.Track(czusd); err != nil {
		t.Fatalf("re-Track: %v", err)
	}
	got, ok, err := store.TokenByAddress(strings.ToLower(czusd.Address))
	if err != nil || !ok {
		t.Fatalf("TokenByAddress: %v ok=%v", err, ok)
	}
	if got.Decimals != 6 {
		t.Fatalf("upsert decimals: %d", got.Decimals)
	}

	if err := store.Untrack(czusd.Address); err != nil {
		t.Fatalf("Untrack: %v", err)
	}
	if _, ok, _ := store.TokenByAddress(czusd.Address); ok {
		t.Fatalf("token survived untrack")
	}
	if err := store.Untrack(czusd.Address); err != nil {
		t.Fatalf("second untrack must be a no-op: %v", err)
	}
}

func TestBalanceHistory(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		row := BalanceRow{
			UserID:     "user-1",
			Token:      "0x00000000000000000000000000000000000000cc",
			BalanceRaw: "1000",
			TakenAt:    base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.RecordBalance(row); err != nil {
			t.Fatalf("RecordBalance: %v", err)
		}
	}

	rows, err := store.BalanceHistory("user-1", 2)
	if err != nil {
		t.Fatalf("BalanceHistory: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("limit: got %d rows", len(rows))
	}
	if !rows[0].TakenAt.After(rows[1].TakenAt) {
		t.Fatalf("history not newest-first: %v then %v", rows[0].TakenAt, rows[1].TakenAt)
	}
	if rows, _ := store.BalanceHistory("user-2", 10); len(rows) != 0 {
		t.Fatalf("history leaked across users: %v", rows)
	}
}
