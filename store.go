package picksync

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/picksync/genstore"
)

// Persister mirrors store mutations to a durable or shared tier.
// Save, Delete and DeleteAll are called with the store lock held and MUST NOT
// block; queue the work instead.
type Persister interface {
	Save(key Key, e Entry)
	Delete(key Key)
	DeleteAll()
	Load(ctx context.Context, key Key) (Entry, bool, error)
	Close(ctx context.Context) error
}

// Store owns every cache entry. One map-wide mutex guards entries and is held
// only for in-memory work, so no operation suspends while holding it.
// Values go in and come out as clones.
type Store struct {
	mu      sync.Mutex
	entries map[Key]Entry
	gens    *genstore.Local
	ttls    map[Kind]time.Duration
	now     func() time.Time
	persist Persister
}

// StoreOptions tune a Store. Zero values are usable.
type StoreOptions struct {
	DefaultTTL time.Duration          // 0 => 30m; negative => no expiry
	TTLs       map[Kind]time.Duration // per-kind override, same encoding as DefaultTTL
	Now        func() time.Time       // nil => time.Now
	Persister  Persister              // nil => memory only
}

func NewStore(opts StoreOptions) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		entries: make(map[Key]Entry),
		gens:    genstore.NewLocal(now),
		ttls:    make(map[Kind]time.Duration, len(Kinds)),
		now:     now,
		persist: opts.Persister,
	}
	def := coalesce(opts.DefaultTTL, defaultTTL)
	for _, k := range Kinds {
		ttl := def
		if v, ok := opts.TTLs[k]; ok && v != 0 {
			ttl = v
		}
		if ttl < 0 {
			ttl = 0
		}
		s.ttls[k] = ttl
	}
	return s
}

// Get returns a copy of the entry under key. Expired entries read as misses;
// they stay in the map until SweepExpired.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok || e.Expired(s.now()) {
		return Entry{}, false
	}
	e.Value = e.Value.clone()
	return e, true
}

// Set replaces the entry under key wholesale.
func (s *Store) Set(key Key, v Value) error {
	if v == nil || v.Kind() != key.Kind {
		return ErrKindMismatch
	}
	s.mu.Lock()
	s.setLocked(key, v)
	s.mu.Unlock()
	return nil
}

func (s *Store) setLocked(key Key, v Value) Entry {
	e := Entry{Value: normalize(v.clone()), UpdatedAt: s.now(), TTL: s.ttls[key.Kind]}
	s.entries[key] = e
	if s.persist != nil {
		s.persist.Save(key, e)
	}
	return e
}

// SnapshotGen returns the generation of key for a later Merge.
func (s *Store) SnapshotGen(key Key) genstore.Gen {
	return s.gens.Snapshot(key.String())
}

// Merge reconciles fresh into the current entry of key and stores the result,
// but only when key was not invalidated since observed was taken. An absent or
// expired entry is replaced by fresh. It returns the stored value and whether
// the write was applied.
func (s *Store) Merge(key Key, fresh Value, observed genstore.Gen) (Value, bool) {
	if fresh == nil || fresh.Kind() != key.Kind {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens.Snapshot(key.String()) != observed {
		return nil, false
	}
	merged := fresh
	if cur, ok := s.entries[key]; ok && !cur.Expired(s.now()) {
		merged = Merge(cur.Value, fresh)
	}
	e := s.setLocked(key, merged)
	return e.Value.clone(), true
}

// Replace overwrites key only while a live entry exists, so a derived value
// never recreates a key that was invalidated or expired.
func (s *Store) Replace(key Key, v Value) bool {
	if v == nil || v.Kind() != key.Kind {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[key]
	if !ok || cur.Expired(s.now()) {
		return false
	}
	s.setLocked(key, v)
	return true
}

// Union adds ids to a set-like entry, creating it when absent. It does not
// move the generation: unions commute with merges, so a racing refresh
// converges to the same set.
func (s *Store) Union(key Key, ids []string) error {
	var add Value
	switch key.Kind {
	case KindProcessedTags:
		add = ProcessedTags(ids)
	case KindAllPicklists:
		add = PicklistNumbers(ids)
	default:
		return ErrKindMismatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := add
	if cur, ok := s.entries[key]; ok && !cur.Expired(s.now()) {
		// existing ids first; the added ones are the "fresh" tail
		merged = Merge(add, cur.Value)
	}
	s.setLocked(key, merged)
	return nil
}

// Install inserts a snapshot loaded from the persistence tier. It never
// overwrites a live entry and ignores expired snapshots.
func (s *Store) Install(key Key, e Entry) bool {
	if e.Value == nil || e.Value.Kind() != key.Kind || e.Expired(s.now()) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[key]; ok && !cur.Expired(s.now()) {
		return false
	}
	e.Value = normalize(e.Value.clone())
	s.entries[key] = e
	return true
}

// Invalidate removes key and moves its generation so in-flight write-backs
// observed before this call are dropped.
func (s *Store) Invalidate(keys ...Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.gens.Bump(key.String())
		delete(s.entries, key)
		if s.persist != nil {
			s.persist.Delete(key)
		}
	}
}

// InvalidateAll removes every entry and every observed generation.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens.BumpAll()
	clear(s.entries)
	if s.persist != nil {
		s.persist.DeleteAll()
	}
}

// SweepExpired physically removes entries whose TTL elapsed at now and
// returns how many were removed. Generations are left alone.
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
			removed++
			if s.persist != nil {
				s.persist.Delete(k)
			}
		}
	}
	return removed
}

// PruneGens drops generation counters idle longer than retention.
func (s *Store) PruneGens(retention time.Duration) int {
	return s.gens.Cleanup(retention)
}

// Counts returns the number of stored entries per kind, expired ones included.
func (s *Store) Counts() map[Kind]int {
	out := make(map[Kind]int, len(Kinds))
	s.mu.Lock()
	for k := range s.entries {
		out[k.Kind]++
	}
	s.mu.Unlock()
	return out
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
