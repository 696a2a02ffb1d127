// Package cache holds decoded account records in memory, validated by a
// pluggable strategy and bounded by entry and memory budgets.
//
// Both budgets are soft when every remaining entry is pinned: the write is
// still accepted and Stats reports OverBudget.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

// Stats is a point-in-time view of a Manager.
type Stats struct {
	TotalOps            uint64
	Hits                uint64
	Misses              uint64
	Invalidations       uint64
	Evictions           uint64
	Size                int
	MaxSize             int
	Pinned              int
	MemoryUsage         int64
	MaxMemoryBytes      int64
	CurrentSlot         uint64
	LastCleanupAt       time.Time
	AvgAccessTimeMicros float64
	OverBudget          bool
}

// HitRate is hits over lookups, zero before the first lookup.
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// Manager is safe for concurrent use. Lookups reorder the LRU list, so
// every operation takes the same mutex.
type Manager[T any] struct {
	cfg     Config
	clock   clockwork.Clock
	logger  *logger.CtxZapLogger
	metrics *OTelMetrics
	sizer   func(T) int64

	mu          sync.Mutex
	entries     map[string]*entry[T]
	lru         *list.List // front is least recently used
	memory      int64
	pinned      int
	currentSlot uint64

	totalOps      uint64
	hits          uint64
	misses        uint64
	invalidations uint64
	evictions     uint64
	accessTotal   time.Duration
	accessCount   uint64
	lastCleanupAt time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New validates cfg and starts the cleanup scheduler when
// cfg.CleanupInterval is set.
func New[T any](cfg Config, opts ...Option) (*Manager[T], error) {
	cfg.ApplyDefaults()
	if err := validator.Check("cache", cfg); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	m := &Manager[T]{
		cfg:     cfg,
		clock:   o.clock,
		logger:  o.logger,
		sizer:   msgpackSize[T],
		entries: make(map[string]*entry[T]),
		lru:     list.New(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if o.meter != nil {
		metrics, err := newOTelMetrics(o.meter, o.name, func() (int64, int64) {
			s := m.Stats()
			return int64(s.Size), s.MemoryUsage
		})
		if err != nil {
			return nil, err
		}
		m.metrics = metrics
	}

	if cfg.CleanupInterval > 0 {
		go m.schedule()
	} else {
		close(m.done)
	}
	return m, nil
}

// SetSizer replaces the size estimator used when Put gets no WithSize.
func (m *Manager[T]) SetSizer(fn func(T) int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn != nil {
		m.sizer = fn
	}
}

func msgpackSize[T any](v T) int64 {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(len(b))
}

// Config returns the configuration the manager was built with.
func (m *Manager[T]) Config() Config { return m.cfg }

// Get returns the cached value. An entry the strategy no longer accepts is
// a miss; unless pinned it is also dropped and counted as an invalidation.
func (m *Manager[T]) Get(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	defer m.observeAccessLocked(now)
	m.totalOps++

	var zero T
	e, ok := m.entries[key]
	if !ok {
		m.misses++
		m.metrics.recordLookup(false)
		return zero, false
	}
	if !m.validLocked(e, now) {
		if !e.pinned {
			m.removeLocked(e)
			m.invalidations++
			m.metrics.recordInvalidations(1)
		}
		m.misses++
		m.metrics.recordLookup(false)
		return zero, false
	}

	e.accessCount++
	e.lastAccessedAt = now
	m.lru.MoveToBack(e.elem)
	m.hits++
	m.metrics.recordLookup(true)
	return e.data, true
}

// Put stores value under key, replacing any previous entry. A write whose
// slot is older than the cached entry's slot is rejected and Put returns
// false. Otherwise the entry is always inserted, evicting least recently
// used unpinned entries first.
func (m *Manager[T]) Put(key string, value T, opts ...PutOption) bool {
	var o putOptions
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	size := o.size
	if !o.hasSize {
		size = m.sizer(value)
	}
	if size < 0 {
		if m.cfg.StrictPreconditions {
			panic(fmt.Sprintf("cache: negative size estimate %d for key %q", size, key))
		}
		m.logger.Warn("negative size estimate clamped to zero",
			zap.String("key", key), zap.Int64("size", size))
		size = 0
	}

	m.totalOps++
	if prev, ok := m.entries[key]; ok {
		if o.hasSlot && prev.hasSlot && o.slot < prev.slot {
			m.logger.Debug("stale write rejected",
				zap.String("key", key),
				zap.Uint64("slot", o.slot),
				zap.Uint64("cached_slot", prev.slot))
			return false
		}
		m.removeLocked(prev)
	}

	m.enforceCapacityLocked(size)

	now := m.clock.Now()
	e := &entry[T]{
		key:            key,
		data:           value,
		cachedAt:       now,
		slot:           o.slot,
		hasSlot:        o.hasSlot,
		lastAccessedAt: now,
		pinned:         o.pinned,
		sizeBytes:      size,
	}
	e.elem = m.lru.PushBack(e)
	m.entries[key] = e
	m.memory += size
	if e.pinned {
		m.pinned++
	}

	if m.overBudgetLocked() {
		m.logger.Warn("cache over budget, remaining entries are pinned",
			zap.Int("entries", len(m.entries)),
			zap.Int64("memory", m.memory),
			zap.Int("pinned", m.pinned))
	}
	return true
}

// enforceCapacityLocked makes room for one entry of size bytes: at most
// one pressure batch, then single evictions until the hard limits hold or
// nothing unpinned is left.
func (m *Manager[T]) enforceCapacityLocked(size int64) {
	pressure := int64(float64(m.cfg.MaxMemoryBytes) * m.cfg.MemoryPressureThreshold)
	if m.memory+size > pressure {
		evicted := 0
		for evicted < m.cfg.EvictionBatchSize && m.evictOneLocked() {
			evicted++
		}
		if evicted > 0 {
			m.logger.Debug("memory pressure eviction",
				zap.Int("evicted", evicted),
				zap.Int64("memory", m.memory),
				zap.Int64("threshold", pressure))
		}
	}
	for len(m.entries) >= m.cfg.MaxEntries {
		if !m.evictOneLocked() {
			break
		}
	}
	for m.memory+size > m.cfg.MaxMemoryBytes {
		if !m.evictOneLocked() {
			break
		}
	}
}

// evictOneLocked drops the least recently used unpinned entry. It reports
// false when there is none.
func (m *Manager[T]) evictOneLocked() bool {
	for el := m.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[T])
		if e.pinned {
			continue
		}
		m.removeLocked(e)
		m.evictions++
		m.metrics.recordEvictions(1)
		return true
	}
	return false
}

func (m *Manager[T]) overBudgetLocked() bool {
	return len(m.entries) > m.cfg.MaxEntries || m.memory > m.cfg.MaxMemoryBytes
}

// Remove drops key, pinned or not.
func (m *Manager[T]) Remove(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalOps++
	e, ok := m.entries[key]
	if ok {
		m.removeLocked(e)
	}
	return ok
}

// RemoveAt drops key for a read that found it absent at slot. A pinned
// entry, or one cached at a later slot, is kept. It reports whether key
// was removed.
func (m *Manager[T]) RemoveAt(key string, slot uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalOps++
	e, ok := m.entries[key]
	if !ok || e.pinned || (e.hasSlot && e.slot > slot) {
		return false
	}
	m.removeLocked(e)
	return true
}

// Clear drops every entry including pinned ones.
func (m *Manager[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*entry[T])
	m.lru.Init()
	m.memory = 0
	m.pinned = 0
}

// Contains reports whether Get would hit, without updating access data.
func (m *Manager[T]) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return ok && m.validLocked(e, m.clock.Now())
}

// Peek returns entry metadata without validity checks or access updates.
func (m *Manager[T]) Peek(key string) (EntryInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return EntryInfo{}, false
	}
	return e.info(), true
}

// Len counts stored entries, valid or not.
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// AdvanceSlot moves the current slot forward. It never moves backwards.
func (m *Manager[T]) AdvanceSlot(slot uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot > m.currentSlot {
		m.currentSlot = slot
	}
}

func (m *Manager[T]) CurrentSlot() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentSlot
}

// Invalidate drops entries and returns how many. Explicit keys are removed
// even when pinned. Without keys the strategy decides: slot strategies
// drop unpinned entries behind opts.Slot, TTL drops expired entries,
// Hybrid does both, WriteThrough clears everything and Manual does
// nothing.
func (m *Manager[T]) Invalidate(opts InvalidateOptions) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalOps++

	if opts.Slot > m.currentSlot {
		m.currentSlot = opts.Slot
	}

	removed := 0
	if len(opts.Keys) > 0 {
		for _, k := range opts.Keys {
			if e, ok := m.entries[k]; ok {
				m.removeLocked(e)
				removed++
			}
		}
	} else {
		now := m.clock.Now()
		switch m.cfg.Strategy {
		case StrategySlot:
			removed = m.sweepLocked(func(e *entry[T]) bool { return m.slotStaleLocked(e) })
		case StrategyTTL:
			removed = m.sweepLocked(func(e *entry[T]) bool { return m.expired(e, now) })
		case StrategyHybrid:
			removed = m.sweepLocked(func(e *entry[T]) bool { return m.slotStaleLocked(e) || m.expired(e, now) })
		case StrategyWriteThrough:
			removed = len(m.entries)
			m.entries = make(map[string]*entry[T])
			m.lru.Init()
			m.memory = 0
			m.pinned = 0
		case StrategyManual:
		}
	}

	m.invalidations += uint64(removed)
	m.metrics.recordInvalidations(removed)
	return removed
}

// Cleanup drops expired unpinned entries under TTL and Hybrid and returns
// how many. Other strategies only record the sweep time.
func (m *Manager[T]) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.lastCleanupAt = now
	if m.cfg.Strategy != StrategyTTL && m.cfg.Strategy != StrategyHybrid {
		return 0
	}
	removed := m.sweepLocked(func(e *entry[T]) bool { return m.expired(e, now) })
	m.invalidations += uint64(removed)
	m.metrics.recordInvalidations(removed)
	if removed > 0 {
		m.logger.Debug("cache cleanup", zap.Int("removed", removed), zap.Int("remaining", len(m.entries)))
	}
	return removed
}

func (m *Manager[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		TotalOps:       m.totalOps,
		Hits:           m.hits,
		Misses:         m.misses,
		Invalidations:  m.invalidations,
		Evictions:      m.evictions,
		Size:           len(m.entries),
		MaxSize:        m.cfg.MaxEntries,
		Pinned:         m.pinned,
		MemoryUsage:    m.memory,
		MaxMemoryBytes: m.cfg.MaxMemoryBytes,
		CurrentSlot:    m.currentSlot,
		LastCleanupAt:  m.lastCleanupAt,
		OverBudget:     m.overBudgetLocked(),
	}
	if m.accessCount > 0 {
		s.AvgAccessTimeMicros = float64(m.accessTotal.Microseconds()) / float64(m.accessCount)
	}
	return s
}

// Close stops the cleanup scheduler. Entries stay readable. Idempotent.
func (m *Manager[T]) Close() {
	m.closeOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Manager[T]) schedule() {
	defer close(m.done)
	ticker := m.clock.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			m.Cleanup()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager[T]) validLocked(e *entry[T], now time.Time) bool {
	switch m.cfg.Strategy {
	case StrategyTTL:
		return !m.expired(e, now)
	case StrategySlot:
		return !m.slotStaleLocked(e)
	case StrategyHybrid:
		return !m.expired(e, now) && !m.slotStaleLocked(e)
	case StrategyWriteThrough:
		return false
	default:
		return true
	}
}

func (m *Manager[T]) expired(e *entry[T], now time.Time) bool {
	return now.Sub(e.cachedAt) > m.cfg.TTL
}

// slotStaleLocked: unknown slots on either side never make an entry stale.
func (m *Manager[T]) slotStaleLocked(e *entry[T]) bool {
	return e.hasSlot && m.currentSlot > 0 && m.currentSlot > e.slot
}

func (m *Manager[T]) sweepLocked(stale func(*entry[T]) bool) int {
	removed := 0
	for el := m.lru.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry[T])
		if !e.pinned && stale(e) {
			m.removeLocked(e)
			removed++
		}
		el = next
	}
	return removed
}

func (m *Manager[T]) removeLocked(e *entry[T]) {
	m.lru.Remove(e.elem)
	delete(m.entries, e.key)
	m.memory -= e.sizeBytes
	if e.pinned {
		m.pinned--
	}
}

func (m *Manager[T]) observeAccessLocked(start time.Time) {
	m.accessTotal += m.clock.Since(start)
	m.accessCount++
}
