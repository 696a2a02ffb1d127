package cache

import (
	"container/list"
	"time"
)

type entry[T any] struct {
	key            string
	data           T
	cachedAt       time.Time
	slot           uint64
	hasSlot        bool
	accessCount    uint64
	lastAccessedAt time.Time
	pinned         bool
	sizeBytes      int64
	elem           *list.Element
}

// EntryInfo describes a cached entry without touching its access data.
type EntryInfo struct {
	CachedAt       time.Time
	Slot           uint64
	HasSlot        bool
	AccessCount    uint64
	LastAccessedAt time.Time
	Pinned         bool
	SizeBytes      int64
}

func (e *entry[T]) info() EntryInfo {
	return EntryInfo{
		CachedAt:       e.cachedAt,
		Slot:           e.slot,
		HasSlot:        e.hasSlot,
		AccessCount:    e.accessCount,
		LastAccessedAt: e.lastAccessedAt,
		Pinned:         e.pinned,
		SizeBytes:      e.sizeBytes,
	}
}

type putOptions struct {
	slot    uint64
	hasSlot bool
	pinned  bool
	size    int64
	hasSize bool
}

// PutOption adjusts a single Put.
type PutOption func(*putOptions)

// WithSlot records the ledger slot the value was read at.
func WithSlot(slot uint64) PutOption {
	return func(o *putOptions) {
		o.slot = slot
		o.hasSlot = true
	}
}

// Pinned protects the entry from automatic eviction and sweeps.
func Pinned() PutOption {
	return func(o *putOptions) { o.pinned = true }
}

// WithSize overrides the size estimate. Negative sizes are a programmer error.
func WithSize(bytes int64) PutOption {
	return func(o *putOptions) {
		o.size = bytes
		o.hasSize = true
	}
}

// InvalidateOptions selects what Invalidate drops. Keys take precedence;
// otherwise the strategy decides. Slot zero means no slot.
type InvalidateOptions struct {
	Keys []string
	Slot uint64
}
