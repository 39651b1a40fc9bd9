package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/dental-quote/internal/obs"
	"github.com/noah-isme/dental-quote/internal/quote"
)

const defaultPrefix = "quote:snapshot:"

// Bridge persists quote snapshots as JSON strings in a Store.
type Bridge struct {
	store  Store
	prefix string
	logger zerolog.Logger
}

// NewBridge constructs a Bridge. An empty prefix uses "quote:snapshot:".
func NewBridge(store Store, prefix string, logger zerolog.Logger) *Bridge {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Bridge{store: store, prefix: prefix, logger: logger}
}

// Save writes the snapshot for sessionID.
func (b *Bridge) Save(ctx context.Context, sessionID string, snap quote.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := b.store.Set(ctx, b.key(sessionID), string(data)); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot for sessionID. Missing and corrupt records report
// false with a nil error; corrupt records are logged, counted and removed. A
// store failure is returned wrapped in quote.ErrSnapshotUnavailable.
func (b *Bridge) Load(ctx context.Context, sessionID string) (quote.Snapshot, bool, error) {
	key := b.key(sessionID)
	raw, ok, err := b.store.Get(ctx, key)
	if err != nil {
		obs.IncSnapshotRestore("error")
		b.logger.Warn().Err(err).Str("session_id", sessionID).Msg("snapshot_load_failed")
		return quote.Snapshot{}, false, fmt.Errorf("load %s: %v: %w", sessionID, err, quote.ErrSnapshotUnavailable)
	}
	if !ok {
		obs.IncSnapshotRestore("miss")
		return quote.Snapshot{}, false, nil
	}

	var snap quote.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		b.corrupt(ctx, key, sessionID, fmt.Errorf("decode: %v: %w", err, quote.ErrSnapshotCorrupt))
		return quote.Snapshot{}, false, nil
	}
	if err := snap.Validate(); err != nil {
		b.corrupt(ctx, key, sessionID, err)
		return quote.Snapshot{}, false, nil
	}
	obs.IncSnapshotRestore("restored")
	return snap, true, nil
}

// Remove deletes the snapshot for sessionID.
func (b *Bridge) Remove(ctx context.Context, sessionID string) error {
	return b.store.Remove(ctx, b.key(sessionID))
}

func (b *Bridge) corrupt(ctx context.Context, key, sessionID string, err error) {
	obs.IncSnapshotRestore("corrupt")
	b.logger.Warn().Err(err).Str("session_id", sessionID).Msg("snapshot_corrupt")
	if rmErr := b.store.Remove(ctx, key); rmErr != nil {
		b.logger.Warn().Err(rmErr).Str("session_id", sessionID).Msg("snapshot_remove_failed")
	}
}

func (b *Bridge) key(sessionID string) string {
	return b.prefix + sessionID
}

var _ quote.SnapshotStore = (*Bridge)(nil)
