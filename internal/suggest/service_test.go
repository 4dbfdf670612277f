package suggest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/parlolabs/parlo-core/internal/backend"
	"github.com/parlolabs/parlo-core/internal/config"
	"github.com/parlolabs/parlo-core/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakePredictor struct {
	result backend.ProcessResult
	err    error
	gotCtx *protocol.Situation
}

func (f *fakePredictor) Process(_ context.Context, _ string, situation *protocol.Situation) (backend.ProcessResult, error) {
	f.gotCtx = situation
	return f.result, f.err
}

type fixedSituation struct {
	snap protocol.Situation
}

func (f fixedSituation) Current() protocol.Situation { return f.snap }

func newTestService(t *testing.T, cfg config.SuggestConfig, predictor Predictor, situation SituationReader) *Service {
	t.Helper()
	s := NewService(context.Background(), cfg, nil, predictor, situation, newLogger())
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestFoodCategoryFixedList(t *testing.T) {
	book := NewPhrasebook()
	phrases := book.Phrases(CategoryFood)
	if len(phrases) != 7 {
		t.Fatalf("expected 7 food phrases, got %d", len(phrases))
	}
	if phrases[0] != "I'm hungry" {
		t.Fatalf("expected the list to start with \"I'm hungry\", got %q", phrases[0])
	}
}

func TestAllConcatenatesCategoriesInOrder(t *testing.T) {
	book := NewPhrasebook()
	all := book.Phrases(CategoryAll)

	var want int
	for _, name := range []string{CategoryEmotions, CategoryFood, CategoryHome, CategoryHealth, CategorySocial} {
		want += len(book.Phrases(name))
	}
	if len(all) != want {
		t.Fatalf("expected %d phrases in all, got %d", want, len(all))
	}
	if all[0] != book.Phrases(CategoryEmotions)[0] {
		t.Fatalf("all must start with the emotions block, got %q", all[0])
	}
	foodStart := len(book.Phrases(CategoryEmotions))
	if all[foodStart] != "I'm hungry" {
		t.Fatalf("food block out of place, got %q", all[foodStart])
	}
}

func TestHandleCategoryLookup(t *testing.T) {
	s := newTestService(t, config.Default().Suggest, nil, nil)

	resp := s.Handle(context.Background(), protocol.SuggestRequest{Category: "social"})
	if resp.Source != "phrasebook" || resp.Category != "social" {
		t.Fatalf("unexpected response meta %+v", resp)
	}
	if len(resp.Phrases) == 0 || resp.Phrases[0] != "Hello" {
		t.Fatalf("unexpected social phrases %v", resp.Phrases)
	}
}

func TestHandleDefaultsToAll(t *testing.T) {
	s := newTestService(t, config.Default().Suggest, nil, nil)
	resp := s.Handle(context.Background(), protocol.SuggestRequest{})
	if resp.Category != CategoryAll || len(resp.Phrases) == 0 {
		t.Fatalf("expected the all category by default, got %+v", resp)
	}
}

func TestHandleUnknownCategory(t *testing.T) {
	s := newTestService(t, config.Default().Suggest, nil, nil)
	resp := s.Handle(context.Background(), protocol.SuggestRequest{Category: "quantum"})
	if len(resp.Phrases) != 0 {
		t.Fatalf("unknown category must yield no phrases, got %v", resp.Phrases)
	}
}

func TestLimitTruncates(t *testing.T) {
	cfg := config.Default().Suggest
	cfg.MaxResults = 5
	s := newTestService(t, cfg, nil, nil)

	resp := s.Handle(context.Background(), protocol.SuggestRequest{Category: "food", Limit: 3})
	if len(resp.Phrases) != 3 {
		t.Fatalf("expected request limit of 3, got %d", len(resp.Phrases))
	}

	resp = s.Handle(context.Background(), protocol.SuggestRequest{Category: "food"})
	if len(resp.Phrases) != 5 {
		t.Fatalf("expected configured ceiling of 5, got %d", len(resp.Phrases))
	}
}

func TestPredictorServesFreeText(t *testing.T) {
	cfg := config.Default().Suggest
	cfg.Source = "backend"
	predictor := &fakePredictor{result: backend.ProcessResult{
		Predictions: []string{"I'm hungry", "I want to eat"},
		Context:     "food",
	}}
	situation := fixedSituation{snap: protocol.Situation{TimeOfDay: "Morning"}}
	s := newTestService(t, cfg, predictor, situation)

	resp := s.Handle(context.Background(), protocol.SuggestRequest{Text: "hun"})
	if resp.Source != "backend" || resp.Category != "food" {
		t.Fatalf("unexpected response meta %+v", resp)
	}
	if len(resp.Phrases) != 2 {
		t.Fatalf("unexpected predictions %v", resp.Phrases)
	}
	if predictor.gotCtx == nil || predictor.gotCtx.TimeOfDay != "Morning" {
		t.Fatalf("predictor did not receive the situation snapshot")
	}
}

func TestPredictorFailureFallsBackToPhrasebook(t *testing.T) {
	cfg := config.Default().Suggest
	cfg.Source = "backend"
	predictor := &fakePredictor{err: errors.New("backend down")}
	s := newTestService(t, cfg, predictor, nil)

	resp := s.Handle(context.Background(), protocol.SuggestRequest{Text: "hun", Category: "food"})
	if resp.Source != "phrasebook" {
		t.Fatalf("expected phrasebook fallback, got %+v", resp)
	}
	if len(resp.Phrases) != 7 {
		t.Fatalf("expected the static food list, got %v", resp.Phrases)
	}
}

const validPackYAML = `metadata:
  name: care-home
  version: 0.1.0
  description: Phrases for the care home routine
  language: en
categories:
  - name: food
    phrases:
      - I would like some tea
  - name: activities
    phrases:
      - I want to go to the garden
      - I want to paint
`

func TestPacksExtendThePhrasebook(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "care-home.yaml"), []byte(validPackYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default().Suggest
	cfg.PacksDir = dir
	s := newTestService(t, cfg, nil, nil)

	food := s.Book().Phrases(CategoryFood)
	if food[len(food)-1] != "I would like some tea" {
		t.Fatalf("pack phrases not appended, got %v", food)
	}
	activities := s.Book().Phrases("activities")
	if len(activities) != 2 {
		t.Fatalf("new pack category missing, got %v", activities)
	}
	if !s.Book().Known("activities") {
		t.Fatal("new category not registered")
	}
}

func TestLoadPacksDirMissingIsNotError(t *testing.T) {
	packs, err := LoadPacksDir(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("missing dir must not error, got %v", err)
	}
	if len(packs) != 0 {
		t.Fatalf("expected no packs, got %d", len(packs))
	}
}

func TestValidatePackRejectsBadPacks(t *testing.T) {
	cases := []Pack{
		{},
		{Metadata: PackMetadata{Name: "x"}},
		{Metadata: PackMetadata{Name: "x", Version: "1"}},
		{Metadata: PackMetadata{Name: "x", Version: "1"}, Categories: []PackCategory{{Name: "empty"}}},
	}
	for i, pack := range cases {
		if err := ValidatePack(pack); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
