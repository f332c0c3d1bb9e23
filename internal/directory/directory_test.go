package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"repp/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type page struct {
	users []domain.User
	next  string
}

// pagedLister serves pages keyed by cursor ("" is the first page).
type pagedLister struct {
	mu    sync.Mutex
	pages map[string]page
	calls atomic.Int32
	err   error
}

func (l *pagedLister) ListUsers(_ context.Context, cursor string, _ int) ([]domain.User, string, error) {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, "", l.err
	}
	p, ok := l.pages[cursor]
	if !ok {
		return nil, "", fmt.Errorf("unknown cursor %q", cursor)
	}
	return p.users, p.next, nil
}

func (l *pagedLister) set(cursor string, p page) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pages[cursor] = p
}

func makeUsers(prefix string, n int) []domain.User {
	users := make([]domain.User, n)
	for i := range users {
		users[i] = domain.User{ID: fmt.Sprintf("%s%d", prefix, i), Name: fmt.Sprintf("user-%s%d", prefix, i)}
	}
	return users
}

func singlePage(users ...domain.User) *pagedLister {
	return &pagedLister{pages: map[string]page{"": {users: users}}}
}

func TestAll_FollowsCursors(t *testing.T) {
	lister := &pagedLister{pages: map[string]page{
		"":   {users: makeUsers("a", 50), next: "c1"},
		"c1": {users: makeUsers("b", 50), next: "c2"},
		"c2": {users: makeUsers("c", 10), next: ""},
	}}
	dir := New(Config{Lister: lister, Logger: testLogger()})

	users, err := dir.All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 110 {
		t.Errorf("expected 110 users, got %d", len(users))
	}
	if got := lister.calls.Load(); got != 3 {
		t.Errorf("expected 3 fetch calls, got %d", got)
	}
}

func TestAll_UsesCache(t *testing.T) {
	lister := singlePage(makeUsers("u", 3)...)
	dir := New(Config{Lister: lister, Logger: testLogger()})

	for i := 0; i < 3; i++ {
		if _, err := dir.All(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := lister.calls.Load(); got != 1 {
		t.Errorf("expected a single fetch, got %d", got)
	}
}

func TestLookup_ColdCacheRefreshesOnce(t *testing.T) {
	lister := singlePage(domain.User{ID: "U1", Name: "alice"})
	dir := New(Config{Lister: lister, Logger: testLogger()})

	u, err := dir.Lookup(context.Background(), "U404")
	if err != nil {
		t.Fatal(err)
	}
	if u != nil {
		t.Errorf("expected unknown user, got %+v", u)
	}
	if dir.Refreshes() != 1 {
		t.Errorf("expected exactly 1 refresh, got %d", dir.Refreshes())
	}
	if got := lister.calls.Load(); got != 1 {
		t.Errorf("expected 1 fetch call, got %d", got)
	}
}

func TestLookup_MissRefreshesAndFinds(t *testing.T) {
	lister := singlePage(domain.User{ID: "U1", Name: "alice"})
	dir := New(Config{Lister: lister, Logger: testLogger()})
	ctx := context.Background()

	if u, _ := dir.Lookup(ctx, "U1"); u == nil || u.Name != "alice" {
		t.Fatalf("expected alice, got %+v", u)
	}

	lister.set("", page{users: []domain.User{{ID: "U1", Name: "alice"}, {ID: "U2", Name: "bob"}}})
	u, err := dir.Lookup(ctx, "U2")
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Name != "bob" {
		t.Fatalf("expected bob after refresh, got %+v", u)
	}
	if dir.Refreshes() != 2 {
		t.Errorf("expected 2 refreshes, got %d", dir.Refreshes())
	}
}

func TestLookup_HitDoesNotRefresh(t *testing.T) {
	lister := singlePage(domain.User{ID: "U1", Name: "alice"})
	dir := New(Config{Lister: lister, Logger: testLogger()})
	ctx := context.Background()

	dir.Lookup(ctx, "U1")
	dir.Lookup(ctx, "U1")
	if dir.Refreshes() != 1 {
		t.Errorf("expected 1 refresh, got %d", dir.Refreshes())
	}
}

func TestFind_MissDoesNotRefresh(t *testing.T) {
	lister := singlePage(domain.User{ID: "U1", Name: "alice"})
	dir := New(Config{Lister: lister, Logger: testLogger()})
	ctx := context.Background()

	if u, _ := dir.Find(ctx, "U1"); u == nil {
		t.Fatal("expected alice")
	}
	if u, _ := dir.Find(ctx, "U9"); u != nil {
		t.Errorf("expected miss, got %+v", u)
	}
	if dir.Refreshes() != 1 {
		t.Errorf("expected only the cold-cache refresh, got %d", dir.Refreshes())
	}
}

func TestRefresh_FailureKeepsSnapshot(t *testing.T) {
	lister := singlePage(domain.User{ID: "U1", Name: "alice"})
	dir := New(Config{Lister: lister, Logger: testLogger()})
	ctx := context.Background()

	if err := dir.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	lister.mu.Lock()
	lister.err = errors.New("rate limited")
	lister.mu.Unlock()

	if err := dir.Refresh(ctx); err == nil {
		t.Fatal("expected refresh error")
	}
	if dir.Len() != 1 {
		t.Errorf("expected previous snapshot to survive, got %d users", dir.Len())
	}
}

func TestLookup_RefreshError(t *testing.T) {
	lister := &pagedLister{pages: map[string]page{}, err: errors.New("boom")}
	dir := New(Config{Lister: lister, Logger: testLogger()})

	u, err := dir.Lookup(context.Background(), "U1")
	if err == nil {
		t.Fatal("expected error")
	}
	if u != nil {
		t.Errorf("expected nil user, got %+v", u)
	}
	if got := lister.calls.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestRefresh_StuckCursor(t *testing.T) {
	lister := &pagedLister{pages: map[string]page{
		"":   {users: makeUsers("a", 1), next: "c1"},
		"c1": {users: makeUsers("b", 1), next: "c1"},
	}}
	dir := New(Config{Lister: lister, Logger: testLogger()})

	if err := dir.Refresh(context.Background()); err == nil {
		t.Fatal("expected error for a cursor that does not advance")
	}
	if dir.Len() != 0 {
		t.Errorf("expected empty cache, got %d", dir.Len())
	}
}

func TestConcurrentLookups(t *testing.T) {
	lister := singlePage(makeUsers("u", 20)...)
	dir := New(Config{Lister: lister, Logger: testLogger()})
	ctx := context.Background()

	var wg sync.WaitGroup
	var found atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%10 == 0 {
				dir.Refresh(ctx)
				return
			}
			if u, err := dir.Lookup(ctx, fmt.Sprintf("u%d", i%20)); err == nil && u != nil {
				found.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if found.Load() != 45 {
		t.Errorf("expected 45 successful lookups, got %d", found.Load())
	}
	if dir.Len() != 20 {
		t.Errorf("expected 20 cached users, got %d", dir.Len())
	}
}
