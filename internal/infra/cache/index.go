package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"link-embed/internal/repository"
)

// keyIndex is the list of live cache keys, persisted as a JSON array under a
// reserved key with no expiry. Backends are not required to enumerate keys,
// so ClearAll and Stats rely on it.
//
// mu serializes read-modify-write cycles within this process only. Two
// processes sharing a store can still lose an update; the index is then
// corrected by the next miss, Prune or ClearAll.
type keyIndex struct {
	store  repository.KVStore
	key    string
	logger *slog.Logger
	mu     sync.Mutex
}

func (x *keyIndex) load(ctx context.Context) ([]string, error) {
	raw, ok, err := x.store.Get(ctx, x.key)
	if err != nil {
		return nil, fmt.Errorf("reading cache index: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		// 壊れたインデックスは空として扱う
		x.logger.Warn("cache index is corrupted, starting empty", slog.Any("error", err))
		return nil, nil
	}
	return sanitize(keys), nil
}

func (x *keyIndex) save(ctx context.Context, keys []string) error {
	if keys == nil {
		keys = []string{}
	}
	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encoding cache index: %w", err)
	}
	if err := x.store.Set(ctx, x.key, raw, 0); err != nil {
		return fmt.Errorf("writing cache index: %w", err)
	}
	return nil
}

// keys returns the current index.
func (x *keyIndex) keys(ctx context.Context) ([]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.load(ctx)
}

// remember appends key unless it is already present.
func (x *keyIndex) remember(ctx context.Context, key string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	keys, err := x.load(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(keys, key) {
		return nil
	}
	return x.save(ctx, append(keys, key))
}

// forget removes the given keys. The index is only rewritten when it changes.
func (x *keyIndex) forget(ctx context.Context, remove ...string) error {
	if len(remove) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	keys, err := x.load(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	kept := slices.DeleteFunc(slices.Clone(keys), func(k string) bool {
		return slices.Contains(remove, k)
	})
	if len(kept) == len(keys) {
		return nil
	}
	return x.save(ctx, kept)
}

// reset empties the index.
func (x *keyIndex) reset(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.save(ctx, nil)
}

// sanitize drops empty entries and duplicates, keeping first-seen order.
func sanitize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
