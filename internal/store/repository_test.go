package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "scanner.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenEmptyPathMeansNoPersistence(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("empty path should not error: %v", err)
	}
	if s != nil {
		t.Fatal("empty path should yield a nil store")
	}
	// A nil store is valid: every method no-ops.
	if err := s.SaveAlert(AlertRecord{DedupKey: "x"}); err != nil {
		t.Errorf("nil store SaveAlert should no-op: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("nil store Close should no-op: %v", err)
	}
}

func TestSaveAlertDuplicateKey(t *testing.T) {
	s := openTestStore(t)

	a := AlertRecord{
		Symbol:      "AAPL",
		PatternType: "3-2-2 Reversal",
		Timeframe:   "60m",
		AlertTSUTC:  time.Now().UTC(),
		DedupKey:    "AAPL|3-2-2 Reversal|60m|2025-10-22",
	}
	if err := s.SaveAlert(a); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.SaveAlert(a)
	if !errors.Is(err, ErrDuplicateAlert) {
		t.Fatalf("expected ErrDuplicateAlert, got %v", err)
	}

	has, err := s.HasAlert(a.DedupKey)
	if err != nil {
		t.Fatalf("HasAlert: %v", err)
	}
	if !has {
		t.Error("expected HasAlert true for a recorded key")
	}
}

func TestSaveBarUpserts(t *testing.T) {
	s := openTestStore(t)

	start := time.Date(2025, 10, 22, 14, 0, 0, 0, time.UTC)
	b := BarRecord{Symbol: "SPY", Timeframe: "60m", StartUTC: start, EndUTC: start.Add(time.Hour), Open: 450, High: 455, Low: 449, Close: 454, Volume: 1000}
	id, err := s.SaveBar(b)
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a bar row id")
	}
	b.Close = 455
	id2, err := s.SaveBar(b)
	if err != nil {
		t.Fatalf("upsert on the unique (symbol, timeframe, start) key: %v", err)
	}
	if id2 != id {
		t.Errorf("upsert should keep the same row id, got %d and %d", id, id2)
	}

	var count int64
	if err := s.db.Model(&BarRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected a single bar row after upsert, got %d", count)
	}
}

func TestSaveClassifiedBar(t *testing.T) {
	s := openTestStore(t)

	start := time.Date(2025, 10, 22, 13, 0, 0, 0, time.UTC)
	prevID, err := s.SaveBar(BarRecord{Symbol: "SPY", Timeframe: "60m", StartUTC: start, EndUTC: start.Add(time.Hour), Open: 450, High: 455, Low: 449, Close: 454, Volume: 1000})
	if err != nil {
		t.Fatalf("save previous bar: %v", err)
	}
	barID, err := s.SaveBar(BarRecord{Symbol: "SPY", Timeframe: "60m", StartUTC: start.Add(time.Hour), EndUTC: start.Add(2 * time.Hour), Open: 454, High: 456, Low: 448, Close: 449, Volume: 1200})
	if err != nil {
		t.Fatalf("save bar: %v", err)
	}

	cb := ClassifiedBar{BarID: barID, Type: "3", PreviousBarID: &prevID}
	if err := s.SaveClassifiedBar(cb); err != nil {
		t.Fatalf("first save: %v", err)
	}
	// Re-classifying the same bar must not grow the table.
	if err := s.SaveClassifiedBar(cb); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var count int64
	if err := s.db.Model(&ClassifiedBar{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected a single classification row per bar, got %d", count)
	}

	var got ClassifiedBar
	if err := s.db.First(&got, "bar_id = ?", barID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Type != "3" || got.PreviousBarID == nil || *got.PreviousBarID != prevID {
		t.Errorf("unexpected classification row: %+v", got)
	}
}

func TestJobRunLifecycle(t *testing.T) {
	s := openTestStore(t)

	id, err := s.StartJobRun("GOLDEN")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a job run id")
	}
	if err := s.FinishJobRun(id, 25, 3, 2, "", "ok"); err != nil {
		t.Fatalf("finish: %v", err)
	}

	var run JobRun
	if err := s.db.First(&run, id).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if run.Status != "ok" || run.SymbolsScanned != 25 || run.AlertsSent != 2 {
		t.Errorf("unexpected job run state: %+v", run)
	}
	if run.EndedAt == nil {
		t.Error("expected ended_at to be set")
	}
}

func TestRecentAlertKeys(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC()
	old := AlertRecord{Symbol: "SPY", PatternType: "2-2 Reversal", AlertTSUTC: now.Add(-48 * time.Hour), DedupKey: "old"}
	fresh := AlertRecord{Symbol: "SPY", PatternType: "2-2 Reversal", AlertTSUTC: now, DedupKey: "fresh"}
	if err := s.SaveAlert(old); err != nil {
		t.Fatalf("save old: %v", err)
	}
	if err := s.SaveAlert(fresh); err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	keys, err := s.RecentAlertKeys(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("RecentAlertKeys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "fresh" {
		t.Errorf("expected only the fresh key, got %v", keys)
	}
}
