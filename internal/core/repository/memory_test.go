package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/duynhne/session-service/internal/core/domain"
)

func TestMemoryUserRepository(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	u, err := repo.Create(ctx, "a@x.com", "digest", []string{"user"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID != 1 {
		t.Fatalf("expected first id 1, got %d", u.ID)
	}

	if _, err := repo.Create(ctx, "a@x.com", "other", nil); !errors.Is(err, domain.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}

	got, err := repo.GetByEmail(ctx, "a@x.com")
	if err != nil || got == nil || got.PasswordHash != "digest" {
		t.Fatalf("get: %+v %v", got, err)
	}
	if got.Sessions != nil {
		t.Fatalf("repository must not fill Sessions, got %+v", got.Sessions)
	}
	got.Roles[0] = "mutated"
	again, _ := repo.GetByEmail(ctx, "a@x.com")
	if again.Roles[0] != "user" {
		t.Fatal("returned user must be a copy")
	}

	if missing, err := repo.GetByEmail(ctx, "b@x.com"); missing != nil || err != nil {
		t.Fatalf("expected (nil, nil), got %v %v", missing, err)
	}
}

func TestMemorySessionRepository(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()
	now := time.Now()

	s := testSession(1, "tok", now)
	if err := repo.CreateIfAllowed(ctx, s, allow); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.CreateIfAllowed(ctx, testSession(1, "tok2", now), func(existing []domain.Session) bool {
		return len(existing) == 0
	}); !errors.Is(err, domain.ErrSessionRejected) {
		t.Fatalf("expected ErrSessionRejected, got %v", err)
	}

	got, _ := repo.GetByTokenAndUser(ctx, "tok", 1)
	got.Status = domain.SessionEnded
	if err := repo.UpdateStatus(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	stored, _ := repo.GetByTokenAndUser(ctx, "tok", 1)
	if stored.Status != domain.SessionEnded {
		t.Fatalf("expected ENDED, got %q", stored.Status)
	}

	if err := repo.UpdateStatus(ctx, testSession(1, "nope", now)); !errors.Is(err, ErrSessionMissing) {
		t.Fatalf("expected ErrSessionMissing, got %v", err)
	}
}
