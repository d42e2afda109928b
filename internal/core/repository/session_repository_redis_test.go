package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/duynhne/session-service/internal/core/domain"
)

func newRedisRepoTest(t *testing.T) (*RedisSessionRepository, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisSessionRepository(rdb, "test"), rdb
}

func testSession(userID int64, token string, createdAt time.Time) *domain.Session {
	return &domain.Session{
		ID:        "id-" + token,
		UserID:    userID,
		Token:     token,
		Status:    domain.SessionActive,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(24 * time.Hour),
	}
}

func allow([]domain.Session) bool { return true }

func capAt(n int) domain.AdmitFunc {
	return func(existing []domain.Session) bool {
		live := 0
		for i := range existing {
			if existing[i].Status == domain.SessionActive {
				live++
			}
		}
		return live < n
	}
}

func TestRedisCreateGetUpdate(t *testing.T) {
	repo, _ := newRedisRepoTest(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	s := testSession(1, "tok-a", now)
	if err := repo.CreateIfAllowed(ctx, s, allow); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByTokenAndUser(ctx, "tok-a", 1)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.ID != s.ID || got.Status != domain.SessionActive || !got.CreatedAt.Equal(now) || !got.ExpiresAt.Equal(s.ExpiresAt) {
		t.Fatalf("unexpected session: %+v", got)
	}

	if other, err := repo.GetByTokenAndUser(ctx, "tok-a", 2); err != nil || other != nil {
		t.Fatalf("expected miss for other user, got %v %v", other, err)
	}

	got.Status = domain.SessionEnded
	if err := repo.UpdateStatus(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = repo.GetByTokenAndUser(ctx, "tok-a", 1)
	if got.Status != domain.SessionEnded {
		t.Fatalf("expected ENDED, got %q", got.Status)
	}

	missing := testSession(1, "tok-missing", now)
	if err := repo.UpdateStatus(ctx, missing); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil for missing session, got %v", err)
	}
}

func TestRedisAdmissionSeesExistingSessions(t *testing.T) {
	repo, _ := newRedisRepoTest(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		if err := repo.CreateIfAllowed(ctx, testSession(1, fmt.Sprintf("tok-%d", i), now), capAt(2)); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	err := repo.CreateIfAllowed(ctx, testSession(1, "tok-2", now), capAt(2))
	if !errors.Is(err, domain.ErrSessionRejected) {
		t.Fatalf("expected ErrSessionRejected, got %v", err)
	}

	// Another user is unaffected.
	if err := repo.CreateIfAllowed(ctx, testSession(2, "tok-x", now), capAt(2)); err != nil {
		t.Fatalf("other user: %v", err)
	}
}

func TestRedisConcurrentAdmission(t *testing.T) {
	repo, _ := newRedisRepoTest(t)
	ctx := context.Background()
	now := time.Now()

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.CreateIfAllowed(ctx, testSession(1, fmt.Sprintf("tok-%d", i), now), capAt(2))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrSessionRejected):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if created != 2 {
		t.Fatalf("expected exactly 2 sessions created, got %d (rejected %d)", created, rejected)
	}
	sessions, err := repo.ListByUser(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 stored sessions, got %d", len(sessions))
	}
}

func TestRedisListByUserNewestFirst(t *testing.T) {
	repo, _ := newRedisRepoTest(t)
	ctx := context.Background()
	base := time.Now()

	for i, tok := range []string{"old", "mid", "new"} {
		if err := repo.CreateIfAllowed(ctx, testSession(7, tok, base.Add(time.Duration(i)*time.Minute)), allow); err != nil {
			t.Fatalf("create %s: %v", tok, err)
		}
	}

	sessions, err := repo.ListByUser(ctx, 7)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 3 || sessions[0].Token != "new" || sessions[2].Token != "old" {
		t.Fatalf("unexpected order: %+v", sessions)
	}

	empty, err := repo.ListByUser(ctx, 99)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no sessions, got %v %v", empty, err)
	}
}

func TestRedisRejectsCorruptHash(t *testing.T) {
	repo, rdb := newRedisRepoTest(t)
	ctx := context.Background()

	rdb.HSet(ctx, repo.sessionKey(3, "bad"), map[string]any{"user_id": "3", "status": "WEIRD"})
	if _, err := repo.GetByTokenAndUser(ctx, "bad", 3); err == nil {
		t.Fatal("expected parse error for corrupt session hash")
	}
}
