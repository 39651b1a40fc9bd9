package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/dental-quote/internal/promo"
)

// SnapshotStore persists snapshots by session id. Load reports false with a nil
// error for missing or corrupt snapshots, and an error when the store itself
// could not be read.
type SnapshotStore interface {
	Load(ctx context.Context, sessionID string) (Snapshot, bool, error)
	Save(ctx context.Context, sessionID string, snap Snapshot) error
}

// SessionsConfig configures a Sessions registry.
type SessionsConfig struct {
	Catalog     Catalog
	Resolver    promo.Resolver
	Store       SnapshotStore
	Logger      zerolog.Logger
	SaveTimeout time.Duration
}

// Sessions holds one aggregate per quote session. Aggregates are restored lazily
// from the snapshot store and written back after every change.
type Sessions struct {
	catalog      Catalog
	resolver     promo.Resolver
	store        SnapshotStore
	logger       zerolog.Logger
	storeTimeout time.Duration
	now          func() time.Time

	mu    sync.Mutex
	items map[string]*session
}

type session struct {
	mu       sync.Mutex // guards agg while it is being built
	agg      *Aggregate
	lastUsed time.Time
}

// NewSessions constructs a registry.
func NewSessions(cfg SessionsConfig) *Sessions {
	timeout := cfg.SaveTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Sessions{
		catalog:      cfg.Catalog,
		resolver:     cfg.Resolver,
		store:        cfg.Store,
		logger:       cfg.Logger,
		storeTimeout: timeout,
		now:          time.Now,
		items:        make(map[string]*session),
	}
}

// Create starts a new empty session.
func (s *Sessions) Create(ctx context.Context) (string, *Aggregate) {
	id := uuid.NewString()
	agg, _ := s.open(ctx, id, false)
	return id, agg
}

// Get returns the aggregate for id, restoring it from the store on first use.
// A session without a usable snapshot starts empty. When the store cannot be
// read Get fails with ErrSnapshotUnavailable and the next call tries again.
func (s *Sessions) Get(ctx context.Context, id string) (*Aggregate, error) {
	canonical, err := CanonicalID(id)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, canonical, true)
}

// CanonicalID validates a session id and returns the form sessions are keyed by.
func CanonicalID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("%q: %w", id, ErrSessionNotFound)
	}
	return parsed.String(), nil
}

// Sweep drops in-memory aggregates idle for longer than maxIdle. Their state
// stays in the snapshot store.
func (s *Sessions) Sweep(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.items {
		if entry.lastUsed.Before(cutoff) {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of sessions held in memory.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Sessions) open(ctx context.Context, id string, restore bool) (*Aggregate, error) {
	s.mu.Lock()
	entry, ok := s.items[id]
	if !ok {
		entry = &session{}
		s.items[id] = entry
	}
	entry.lastUsed = s.now()
	s.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.agg != nil {
		return entry.agg, nil
	}
	agg, err := s.build(ctx, id, restore)
	if err != nil {
		return nil, err
	}
	entry.agg = agg
	return agg, nil
}

// build restores detached from the caller's context so a cancelled request
// cannot be mistaken for a missing snapshot.
func (s *Sessions) build(ctx context.Context, id string, restore bool) (*Aggregate, error) {
	var agg *Aggregate
	if restore && s.store != nil {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
		snap, ok, err := s.store.Load(loadCtx, id)
		cancel()
		if err != nil {
			s.logger.Error().Err(err).Str("session_id", id).Msg("quote_restore_unavailable")
			if !errors.Is(err, ErrSnapshotUnavailable) {
				err = fmt.Errorf("%v: %w", err, ErrSnapshotUnavailable)
			}
			return nil, err
		}
		if ok {
			restored, err := Restore(s.catalog, s.resolver, snap)
			if err != nil {
				s.logger.Warn().Err(err).Str("session_id", id).Msg("quote_restore_failed")
			} else {
				agg = restored
			}
		}
	}
	if agg == nil {
		agg = New(s.catalog, s.resolver)
	}
	if s.store != nil {
		agg.Subscribe(func(v View) { s.save(id, v) })
	}
	return agg, nil
}

func (s *Sessions) save(id string, v View) {
	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()
	if err := s.store.Save(ctx, id, v.Snapshot()); err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Uint64("version", v.Version).Msg("quote_snapshot_save_failed")
	}
}
