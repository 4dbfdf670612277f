package history

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parlolabs/parlo-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func persistentConfig(t *testing.T) config.HistoryConfig {
	t.Helper()
	return config.HistoryConfig{
		Path:          filepath.Join(t.TempDir(), "history.db"),
		RetentionMode: "persistent",
		RetentionDays: 30,
		MaxEntries:    1000,
	}
}

func openStore(t *testing.T, cfg config.HistoryConfig) *Store {
	t.Helper()
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAppendAndRecent(t *testing.T) {
	st := openStore(t, persistentConfig(t))
	ctx := context.Background()

	base := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	phrases := []Phrase{
		{Text: "I'm hungry", Category: "food", Source: "chip", TimeOfDay: "Morning", DayType: "Weekday", Place: "Berlin", CreatedAt: base},
		{Text: "I want water", Category: "", Source: "live", TimeOfDay: "Morning", DayType: "Weekday", Place: "Berlin", CreatedAt: base.Add(time.Minute)},
		{Text: "Thank you", Category: "social", Source: "chip", TimeOfDay: "Morning", DayType: "Weekday", Place: "Berlin", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, p := range phrases {
		if err := st.Append(ctx, p); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 phrases, got %d", len(got))
	}
	if got[0].Text != "Thank you" || got[2].Text != "I'm hungry" {
		t.Fatalf("expected newest first, got %q .. %q", got[0].Text, got[2].Text)
	}
	if got[0].Category != "social" || got[0].Source != "chip" || got[0].TimeOfDay != "Morning" {
		t.Fatalf("phrase fields did not round-trip: %+v", got[0])
	}
	if got[0].RunID == "" {
		t.Fatalf("expected run id to be stamped")
	}
	if !got[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("created_at did not round-trip: %v", got[0].CreatedAt)
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	st := openStore(t, persistentConfig(t))
	ctx := context.Background()

	base := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		p := Phrase{Text: "phrase", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := st.Append(ctx, p); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := st.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 phrases, got %d", len(got))
	}
}

func TestEphemeralKeepsNothing(t *testing.T) {
	cfg := config.HistoryConfig{
		Path:          filepath.Join(t.TempDir(), "history.db"),
		RetentionMode: "ephemeral",
	}
	st := openStore(t, cfg)
	ctx := context.Background()

	if err := st.Append(ctx, Phrase{Text: "I'm hungry"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("ephemeral store should keep nothing, got %d", len(got))
	}
	if _, err := os.Stat(cfg.Path); !os.IsNotExist(err) {
		t.Fatalf("ephemeral store should not touch disk, stat err=%v", err)
	}
}

func TestSessionModeWipesOnOpen(t *testing.T) {
	cfg := config.HistoryConfig{
		Path:          filepath.Join(t.TempDir(), "history.db"),
		RetentionMode: "session",
	}
	ctx := context.Background()

	first, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Append(ctx, Phrase{Text: "I'm tired"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := openStore(t, cfg)
	got, err := second.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("session store should start empty, got %d phrases", len(got))
	}
}

func TestPruneMaxEntries(t *testing.T) {
	cfg := persistentConfig(t)
	cfg.MaxEntries = 3
	st := openStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		p := Phrase{Text: "phrase", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := st.Append(ctx, p); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if err := st.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 phrases after prune, got %d", len(got))
	}
	if !got[0].CreatedAt.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("prune should keep the newest entries, newest is %v", got[0].CreatedAt)
	}
}

func TestPruneRetentionDays(t *testing.T) {
	cfg := persistentConfig(t)
	cfg.RetentionDays = 7
	st := openStore(t, cfg)
	ctx := context.Background()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	st.clock = func() time.Time { return now }

	old := Phrase{Text: "old", CreatedAt: now.Add(-10 * 24 * time.Hour)}
	fresh := Phrase{Text: "fresh", CreatedAt: now.Add(-time.Hour)}
	for _, p := range []Phrase{old, fresh} {
		if err := st.Append(context.Background(), p); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if err := st.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].Text != "fresh" {
		t.Fatalf("expected only the fresh phrase to survive, got %+v", got)
	}
}

func TestExportJSONL(t *testing.T) {
	st := openStore(t, persistentConfig(t))
	ctx := context.Background()

	base := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	entries := []Phrase{
		{Text: "I'm hungry", Category: "food", CreatedAt: base},
		{Text: "Hello", Category: "", CreatedAt: base.Add(time.Minute)},
	}
	for _, p := range entries {
		if err := st.Append(ctx, p); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var buf bytes.Buffer
	n, err := st.ExportJSONL(ctx, &buf)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 exported entries, got %d", n)
	}

	dec := json.NewDecoder(&buf)
	var first, second exportRecord
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("decode first record: %v", err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("decode second record: %v", err)
	}

	if first.Input != "User: I'm hungry\nContext: food\n" {
		t.Fatalf("unexpected first input: %q", first.Input)
	}
	if first.Output != "I'm hungry" {
		t.Fatalf("unexpected first output: %q", first.Output)
	}
	if second.Input != "User: Hello\nContext: General\n" {
		t.Fatalf("empty category should export as General, got %q", second.Input)
	}
}
