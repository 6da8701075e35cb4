package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chatbot/app/internal/db"
	applog "chatbot/app/internal/log"
)

func TestNewRepositoryRequiresDatabase(t *testing.T) {
	t.Parallel()

	if _, err := NewRepository(nil, nil); err == nil {
		t.Fatalf("expected error when database is nil")
	}
}

func TestMigrateRequiresDatabase(t *testing.T) {
	t.Parallel()

	if err := Migrate(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error when database is nil")
	}
}

func TestRecordAssignsIdentifier(t *testing.T) {
	t.Parallel()

	repo := setupRepository(t)
	ctx := context.Background()

	exchange := &Exchange{Kind: KindRetrieve, Input: "Tell me about Hanni", Output: "Hanni: member of NewJeans", Found: true}
	if err := repo.Record(ctx, exchange); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	if exchange.ID == "" {
		t.Fatalf("expected identifier to be assigned")
	}
	if exchange.CreatedAt.IsZero() {
		t.Fatalf("expected creation time to be set")
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 exchange, got %d", count)
	}
}

func TestRecordRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	repo := setupRepository(t)

	if err := repo.Record(context.Background(), &Exchange{Kind: "chat", Input: "hi"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}

	if err := repo.Record(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil exchange")
	}
}

func TestListRecentReturnsNewestFirst(t *testing.T) {
	t.Parallel()

	repo := setupRepository(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 24, 12, 0, 0, 0, time.UTC)
	inputs := []string{"first", "second", "third"}
	for idx, input := range inputs {
		exchange := &Exchange{
			Kind:      KindGenerate,
			Input:     input,
			Output:    " continuation",
			CreatedAt: base.Add(time.Duration(idx) * time.Minute),
		}
		if err := repo.Record(ctx, exchange); err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}

	recent, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent returned error: %v", err)
	}

	if len(recent) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(recent))
	}
	if recent[0].Input != "third" || recent[1].Input != "second" {
		t.Fatalf("expected newest first, got %q then %q", recent[0].Input, recent[1].Input)
	}
}

func TestListRecentRejectsNonPositiveLimit(t *testing.T) {
	t.Parallel()

	repo := setupRepository(t)

	if _, err := repo.ListRecent(context.Background(), 0); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}

func TestFailedGenerationIsPersisted(t *testing.T) {
	t.Parallel()

	repo := setupRepository(t)
	ctx := context.Background()

	if err := repo.Record(ctx, &Exchange{Kind: KindGenerate, Input: "I want", Output: " [Error in generation]", Failed: true}); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	recent, err := repo.ListRecent(ctx, MaxListLimit+50)
	if err != nil {
		t.Fatalf("ListRecent returned error: %v", err)
	}
	if len(recent) != 1 || !recent[0].Failed {
		t.Fatalf("expected the failed exchange to round trip, got %+v", recent)
	}
}

func setupRepository(t *testing.T) *GormRepository {
	t.Helper()

	database, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "history.db")})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := db.Close(database); closeErr != nil {
			t.Errorf("closing database failed: %v", closeErr)
		}
	})

	logger := applog.NewDiscardLogger()
	if err := Migrate(context.Background(), database, logger); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}

	repo, err := NewRepository(database, logger)
	if err != nil {
		t.Fatalf("NewRepository returned error: %v", err)
	}
	return repo
}
