// Package directory caches the platform's user list for mention resolution
// and bot/human classification.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"repp/internal/domain"

	"golang.org/x/sync/singleflight"
)

const defaultPageSize = 200

// Directory is a paginated, refresh-on-miss cache of platform users.
// Reads go against an immutable snapshot that a refresh replaces wholesale,
// so lookups never observe a half-fetched list.
type Directory struct {
	lister   domain.UserLister
	pageSize int
	logger   *slog.Logger

	snap      atomic.Pointer[snapshot]
	group     singleflight.Group
	refreshes atomic.Int64
}

type snapshot struct {
	users     []domain.User
	byID      map[string]domain.User
	fetchedAt time.Time
}

// Config configures a Directory.
type Config struct {
	Lister   domain.UserLister
	PageSize int // forwarded to the lister as the page limit
	Logger   *slog.Logger
}

// New creates an empty directory. Nothing is fetched until first use.
func New(cfg Config) *Directory {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Directory{
		lister:   cfg.Lister,
		pageSize: cfg.PageSize,
		logger:   cfg.Logger,
	}
}

// All returns the cached users, fetching the full list if the cache is cold.
func (d *Directory) All(ctx context.Context) ([]domain.User, error) {
	if s := d.snap.Load(); s != nil {
		return append([]domain.User(nil), s.users...), nil
	}
	if err := d.Refresh(ctx); err != nil {
		return nil, err
	}
	return append([]domain.User(nil), d.snap.Load().users...), nil
}

// Refresh re-fetches every page and swaps the cache in one step.
// Concurrent callers share a single fetch sequence. On failure the
// previous snapshot stays in place.
func (d *Directory) Refresh(ctx context.Context) error {
	_, err, _ := d.group.Do("refresh", func() (any, error) {
		users, err := d.fetch(ctx)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]domain.User, len(users))
		for _, u := range users {
			byID[u.ID] = u
		}
		d.snap.Store(&snapshot{users: users, byID: byID, fetchedAt: time.Now()})
		d.refreshes.Add(1)
		d.logger.Info("user directory refreshed", "users", len(users))
		return nil, nil
	})
	return err
}

// Lookup resolves a user id. On a miss it refreshes exactly once and checks
// again. An id that is still unknown returns (nil, nil).
func (d *Directory) Lookup(ctx context.Context, id string) (*domain.User, error) {
	if u, ok := d.cached(id); ok {
		return &u, nil
	}
	if err := d.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("refresh on miss for %s: %w", id, err)
	}
	if u, ok := d.cached(id); ok {
		return &u, nil
	}
	d.logger.Debug("user not found after refresh", "user_id", id)
	return nil, nil
}

// Find resolves a user id from the cache only, populating a cold cache first.
// A miss never triggers a refresh.
func (d *Directory) Find(ctx context.Context, id string) (*domain.User, error) {
	if d.snap.Load() == nil {
		if err := d.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	if u, ok := d.cached(id); ok {
		return &u, nil
	}
	return nil, nil
}

// Len returns the number of cached users (0 while cold).
func (d *Directory) Len() int {
	if s := d.snap.Load(); s != nil {
		return len(s.users)
	}
	return 0
}

// Refreshes returns how many refreshes have completed.
func (d *Directory) Refreshes() int64 { return d.refreshes.Load() }

// FetchedAt returns when the current snapshot was taken.
func (d *Directory) FetchedAt() time.Time {
	if s := d.snap.Load(); s != nil {
		return s.fetchedAt
	}
	return time.Time{}
}

func (d *Directory) cached(id string) (domain.User, bool) {
	s := d.snap.Load()
	if s == nil {
		return domain.User{}, false
	}
	u, ok := s.byID[id]
	return u, ok
}

func (d *Directory) fetch(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	cursor := ""
	for page := 1; ; page++ {
		batch, next, err := d.lister.ListUsers(ctx, cursor, d.pageSize)
		if err != nil {
			return nil, fmt.Errorf("list users (page %d): %w", page, err)
		}
		users = append(users, batch...)
		d.logger.Debug("user page fetched", "page", page, "count", len(batch), "more", next != "")
		if next == "" {
			return users, nil
		}
		if next == cursor {
			return nil, fmt.Errorf("list users (page %d): cursor %q did not advance", page, next)
		}
		cursor = next
	}
}
