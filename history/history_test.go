package history

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/yuka/testutil"
)

type store interface {
	Append(ctx context.Context, turn Turn) (bool, error)
	Recent(ctx context.Context, userID string, limit int) ([]Turn, error)
	FindByResponse(ctx context.Context, text string) (*Turn, error)
	FindByFlattened(ctx context.Context, text string) (*Turn, error)
	Clear(ctx context.Context, userID string) (int64, error)
}

func exerciseStore(t *testing.T, s store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 7; i++ {
		turn := Turn{UserID: "alice", Prompt: fmt.Sprintf("q%d", i), Response: fmt.Sprintf("a%d", i), Model: "m", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if ok, err := s.Append(ctx, turn); err != nil || !ok {
			t.Fatalf("Append(%d) = %v, %v", i, ok, err)
		}
	}
	if _, err := s.Append(ctx, Turn{UserID: "bob", Prompt: "hi", Response: "hello bob", Model: "m"}); err != nil {
		t.Fatalf("Append(bob): %v", err)
	}

	t.Run("recent is bounded and oldest first", func(t *testing.T) {
		turns, err := s.Recent(ctx, "alice", 5)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(turns) != 5 {
			t.Fatalf("len = %d, want 5", len(turns))
		}
		for i, turn := range turns {
			if want := fmt.Sprintf("q%d", i+2); turn.Prompt != want {
				t.Errorf("turns[%d].Prompt = %q, want %q", i, turn.Prompt, want)
			}
			if turn.UserID != "alice" {
				t.Errorf("turns[%d] belongs to %q", i, turn.UserID)
			}
		}
	})

	t.Run("find by response", func(t *testing.T) {
		turn, err := s.FindByResponse(ctx, "hello bob")
		if err != nil || turn == nil {
			t.Fatalf("FindByResponse = %v, %v", turn, err)
		}
		if turn.Prompt != "hi" || turn.UserID != "bob" {
			t.Errorf("unexpected turn %+v", turn)
		}
		missing, err := s.FindByResponse(ctx, "hello")
		if err != nil || missing != nil {
			t.Errorf("partial text must not match: %v, %v", missing, err)
		}
	})

	t.Run("find by flattened chat line", func(t *testing.T) {
		if _, err := s.Append(ctx, Turn{UserID: "dave", Prompt: "multi", Response: "l1\nl2\r\nl3", Model: "m"}); err != nil {
			t.Fatalf("Append(dave): %v", err)
		}
		for _, line := range []string{"l1 l2 l3", "l2 l3", "  l1 l2 "} {
			turn, err := s.FindByFlattened(ctx, line)
			if err != nil || turn == nil || turn.Prompt != "multi" {
				t.Errorf("FindByFlattened(%q) = %+v, %v", line, turn, err)
			}
		}
		if turn, err := s.FindByResponse(ctx, "l1 l2 l3"); err != nil || turn != nil {
			t.Errorf("exact lookup must not match the flattened line: %+v, %v", turn, err)
		}
		for _, line := range []string{"l1\nl2", "", "   "} {
			if turn, err := s.FindByFlattened(ctx, line); err != nil || turn != nil {
				t.Errorf("FindByFlattened(%q) = %+v, %v; want nil", line, turn, err)
			}
		}
	})

	t.Run("oversized response is skipped", func(t *testing.T) {
		ok, err := s.Append(ctx, Turn{UserID: "carol", Prompt: "long", Response: strings.Repeat("x", 11), Model: "m"})
		if err != nil || ok {
			t.Fatalf("Append oversized = %v, %v; want false, nil", ok, err)
		}
		turns, _ := s.Recent(ctx, "carol", 5)
		if len(turns) != 0 {
			t.Errorf("oversized turn persisted: %+v", turns)
		}
	})

	t.Run("clear is scoped and idempotent", func(t *testing.T) {
		n, err := s.Clear(ctx, "alice")
		if err != nil || n != 7 {
			t.Fatalf("Clear = %d, %v; want 7", n, err)
		}
		turns, _ := s.Recent(ctx, "alice", 10)
		if len(turns) != 0 {
			t.Errorf("alice still has %d turns", len(turns))
		}
		if n, err := s.Clear(ctx, "alice"); err != nil || n != 0 {
			t.Errorf("second Clear = %d, %v", n, err)
		}
		if turns, _ := s.Recent(ctx, "bob", 10); len(turns) != 1 {
			t.Errorf("bob's turns were affected: %d", len(turns))
		}
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory(10))
}

func TestPostgresStore(t *testing.T) {
	exerciseStore(t, New(testutil.SetupTestDB(t), 10))
}

func TestPostgresStoreToleratesNullModel(t *testing.T) {
	db := testutil.SetupTestDB(t)
	if _, err := db.Exec(`INSERT INTO history (user_id, prompt, response, created_at) VALUES ('legacy', 'p', 'r', NOW())`); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	turns, err := New(db, 0).Recent(context.Background(), "legacy", 5)
	if err != nil || len(turns) != 1 || turns[0].Model != "" {
		t.Errorf("Recent legacy = %+v, %v", turns, err)
	}
}

func TestFitsCountsCharacters(t *testing.T) {
	if !Fits("ééé", 3) {
		t.Error("3 runes should fit a 3 character cap")
	}
	if Fits("abcd", 3) {
		t.Error("4 characters should not fit a 3 character cap")
	}
}

func TestFlatten(t *testing.T) {
	if got := Flatten("a\nb\r\nc\rd\n\ne"); got != "a b c d  e" {
		t.Errorf("Flatten = %q", got)
	}
}

func TestRecentZeroLimit(t *testing.T) {
	turns, err := New(nil, 0).Recent(context.Background(), "x", 0)
	if err != nil || turns != nil {
		t.Errorf("Recent(0) = %v, %v", turns, err)
	}
}
