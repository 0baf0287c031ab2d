// Package lock provides keyed lock scopes for stock and debt writes.
package lock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dukani/backend/internal/store"
)

// Release frees every key obtained by one Acquire call. It is safe to call once.
type Release func()

type Locker interface {
	Acquire(ctx context.Context, keys ...string) (Release, error)
}

func StockKey(storeID int64, productID int64) string {
	return fmt.Sprintf("stock:%d:%d", storeID, productID)
}

func DebtKey(debtID int64) string {
	return fmt.Sprintf("debt:%d", debtID)
}

func DebtorKey(storeID int64, phone string) string {
	return fmt.Sprintf("debtor:%d:%s", storeID, phone)
}

// Normalize sorts and deduplicates keys so every caller acquires in the same order.
func Normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process keyed mutex.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

func NewLocal() *Local {
	return &Local{entries: map[string]*localEntry{}}
}

func (l *Local) Acquire(ctx context.Context, keys ...string) (Release, error) {
	keys = Normalize(keys)
	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := l.lock(ctx, key); err != nil {
			l.unlockAll(held)
			return nil, fmt.Errorf("lock %s: %v: %w", key, err, store.ErrContention)
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.unlockAll(held) })
	}, nil
}

func (l *Local) lock(ctx context.Context, key string) error {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.dropRef(key, entry)
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *Local) unlockAll(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(keys) - 1; i >= 0; i-- {
		entry, ok := l.entries[keys[i]]
		if !ok {
			continue
		}
		<-entry.ch
		l.dropRef(keys[i], entry)
	}
}

func (l *Local) dropRef(key string, entry *localEntry) {
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

// Nop never blocks. Storage still rejects conflicting batch writes.
type Nop struct{}

func (Nop) Acquire(_ context.Context, _ ...string) (Release, error) {
	return func() {}, nil
}
