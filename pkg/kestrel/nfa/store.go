package nfa

import (
	"math"
	"sync"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
)

// EvictionReason names why a partial match left the store, for the
// observable counters spec.md §4.4.1 requires.
type EvictionReason string

const (
	EvictionTTL        EvictionReason = "ttl"
	EvictionLRU        EvictionReason = "lru"
	EvictionQuota      EvictionReason = "quota"
	EvictionTerminated EvictionReason = "terminated"
)

// NoExpiry is the sentinel ExpiresAtNs for a sequence with no maxspan.
const NoExpiry = int64(math.MaxInt64)

type matchKey struct {
	sequenceID uint64
	entity     kevent.EntityKey
	state      int
}

type entityScope struct {
	sequenceID uint64
	entity     kevent.EntityKey
}

// Store is the sharded, quota- and TTL-enforcing partial-match state
// store of spec.md §4.4.1. Sharding is by hash(sequence_id, entity_key),
// so every match for a given (sequence, entity) pair — and therefore every
// entity-scoped quota decision — is local to one shard and needs only that
// shard's lock. Per-sequence quotas span shards (a sequence's entities
// scatter across shards by hash), so they are enforced approximately via
// a lock-light global counter per sequence, trading exactness for the
// same no-lock-contention-on-the-hot-path posture spec.md §4.4 accepts
// for budget tracking.
type Store struct {
	shards []*shard

	maxPerEntity   int
	maxPerSequence int

	seqCountMu sync.Mutex
	seqCounts  map[uint64]int

	evictions *EvictionCounters
}

type shard struct {
	mu      sync.Mutex
	matches map[matchKey]*PartialMatch
	byScope map[entityScope][]*PartialMatch
}

// NewStore creates a Store with numShards shards and the given per-entity
// and per-sequence quotas (<=0 disables that quota).
func NewStore(numShards, maxPerEntity, maxPerSequence int) *Store {
	if numShards <= 0 {
		numShards = 32
	}
	s := &Store{
		shards:         make([]*shard, numShards),
		maxPerEntity:   maxPerEntity,
		maxPerSequence: maxPerSequence,
		seqCounts:      make(map[uint64]int),
		evictions:      NewEvictionCounters(),
	}
	for i := range s.shards {
		s.shards[i] = &shard{
			matches: make(map[matchKey]*PartialMatch),
			byScope: make(map[entityScope][]*PartialMatch),
		}
	}
	return s
}

func (s *Store) shardFor(sequenceID uint64, entity kevent.EntityKey) *shard {
	return s.shards[hashSeqEntity(sequenceID, entity)%uint64(len(s.shards))]
}

// MaxNonTerminatedState returns the maximum CurrentState among
// non-terminated, non-expired matches for (sequenceID, entity) as of now,
// and whether any exist — the s_expected computation of spec.md §4.4 step
// 1.1. An expired match is excluded: spec.md §4.4's window semantics say
// "a late event targeting an already-expired match does not revive it."
func (s *Store) MaxNonTerminatedState(sequenceID uint64, entity kevent.EntityKey, now int64) (int, bool) {
	sh := s.shardFor(sequenceID, entity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	found := false
	max := -1
	for _, m := range sh.byScope[entityScope{sequenceID, entity}] {
		if m.Terminated || m.expired(now) {
			continue
		}
		if !found || m.CurrentState > max {
			max = m.CurrentState
			found = true
		}
	}
	return max, found
}

// Get returns the match at (sequenceID, entity, state), if present.
func (s *Store) Get(sequenceID uint64, entity kevent.EntityKey, state int) (*PartialMatch, bool) {
	sh := s.shardFor(sequenceID, entity)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	m, ok := sh.matches[matchKey{sequenceID, entity, state}]
	return m, ok
}

// Create inserts m under its CurrentState, enforcing the per-entity quota
// before the insert and the per-sequence quota after it.
func (s *Store) Create(m *PartialMatch) {
	sh := s.shardFor(m.SequenceID, m.EntityKey)
	sh.mu.Lock()
	s.enforceEntityQuota(sh, m.SequenceID, m.EntityKey)
	sh.insert(m)
	sh.mu.Unlock()

	s.enforceSequenceQuota(m.SequenceID)
}

// Advance moves a match from fromState to toState, applying mutate to it
// first (merging captures, appending the triggering event id). An expired
// match at fromState is not revived: Advance reports not-found rather than
// advancing it.
func (s *Store) Advance(sequenceID uint64, entity kevent.EntityKey, fromState, toState int, now int64, mutate func(*PartialMatch)) (*PartialMatch, bool) {
	sh := s.shardFor(sequenceID, entity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	key := matchKey{sequenceID, entity, fromState}
	m, ok := sh.matches[key]
	if !ok || m.Terminated || m.expired(now) {
		return nil, false
	}
	mutate(m)
	delete(sh.matches, key)
	m.CurrentState = toState
	sh.matches[matchKey{sequenceID, entity, toState}] = m
	return m, true
}

// TerminateMostRecent marks the most-recently-touched non-terminated match
// for (sequenceID, entity) as terminated, for an until-step kill. Returns
// false if there is no such match.
func (s *Store) TerminateMostRecent(sequenceID uint64, entity kevent.EntityKey) bool {
	sh := s.shardFor(sequenceID, entity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var target *PartialMatch
	for _, m := range sh.byScope[entityScope{sequenceID, entity}] {
		if m.Terminated {
			continue
		}
		if target == nil || m.LastTouchNs > target.LastTouchNs {
			target = m
		}
	}
	if target == nil {
		return false
	}
	target.Terminated = true
	s.evictions.Inc(EvictionTerminated)
	return true
}

// ReapExpired removes matches for (sequenceID, entity) whose window has
// closed as of now, per spec.md §4.4 step 2's opportunistic TTL reap.
func (s *Store) ReapExpired(sequenceID uint64, entity kevent.EntityKey, now int64) {
	sh := s.shardFor(sequenceID, entity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	scope := entityScope{sequenceID, entity}
	kept := sh.byScope[scope][:0]
	for _, m := range sh.byScope[scope] {
		if m.expired(now) {
			delete(sh.matches, matchKey{sequenceID, entity, m.CurrentState})
			s.evictions.Inc(EvictionTTL)
			s.decrementSeqCount(sequenceID)
			continue
		}
		kept = append(kept, m)
	}
	sh.byScope[scope] = kept
}

// enforceEntityQuota evicts the least-recently-touched match for
// (sequenceID, entity) if adding one more would breach maxPerEntity.
// Caller must hold sh.mu.
func (s *Store) enforceEntityQuota(sh *shard, sequenceID uint64, entity kevent.EntityKey) {
	if s.maxPerEntity <= 0 {
		return
	}
	scope := entityScope{sequenceID, entity}
	entries := sh.byScope[scope]
	if len(entries) < s.maxPerEntity {
		return
	}
	victim := lruVictim(entries)
	if victim == nil {
		return
	}
	sh.removeFromScope(scope, victim)
	delete(sh.matches, matchKey{sequenceID, entity, victim.CurrentState})
	s.evictions.Inc(EvictionLRU)
	s.decrementSeqCount(sequenceID)
}

// enforceSequenceQuota approximately enforces maxPerSequence by tracking a
// global count per sequence id and, on breach, evicting the
// least-recently-touched match for that sequence from the first shard, in
// shard order, that holds any. This is a best-effort scan bounded by shard
// count, not a global LRU — acceptable per the approximate-accounting
// posture documented on Store.
func (s *Store) enforceSequenceQuota(sequenceID uint64) {
	if s.maxPerSequence <= 0 {
		return
	}
	s.seqCountMu.Lock()
	s.seqCounts[sequenceID]++
	over := s.seqCounts[sequenceID] > s.maxPerSequence
	s.seqCountMu.Unlock()
	if !over {
		return
	}

	for _, sh := range s.shards {
		sh.mu.Lock()
		var victim *PartialMatch
		var victimScope entityScope
		for scope, entries := range sh.byScope {
			if scope.sequenceID != sequenceID {
				continue
			}
			if v := lruVictim(entries); v != nil {
				if victim == nil || v.LastTouchNs < victim.LastTouchNs {
					victim = v
					victimScope = scope
				}
			}
		}
		if victim != nil {
			sh.removeFromScope(victimScope, victim)
			delete(sh.matches, matchKey{sequenceID, victim.EntityKey, victim.CurrentState})
			sh.mu.Unlock()
			s.evictions.Inc(EvictionQuota)
			s.decrementSeqCount(sequenceID)
			return
		}
		sh.mu.Unlock()
	}
}

func (s *Store) decrementSeqCount(sequenceID uint64) {
	s.seqCountMu.Lock()
	if s.seqCounts[sequenceID] > 0 {
		s.seqCounts[sequenceID]--
	}
	s.seqCountMu.Unlock()
}

// Counters returns a snapshot of eviction-reason counts.
func (s *Store) Counters() map[EvictionReason]uint64 {
	return s.evictions.Snapshot()
}

func (sh *shard) insert(m *PartialMatch) {
	scope := entityScope{m.SequenceID, m.EntityKey}
	sh.matches[matchKey{m.SequenceID, m.EntityKey, m.CurrentState}] = m
	sh.byScope[scope] = append(sh.byScope[scope], m)
}

func (sh *shard) removeFromScope(scope entityScope, victim *PartialMatch) {
	entries := sh.byScope[scope]
	for i, e := range entries {
		if e == victim {
			sh.byScope[scope] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

func lruVictim(entries []*PartialMatch) *PartialMatch {
	var victim *PartialMatch
	for _, e := range entries {
		if victim == nil || e.LastTouchNs < victim.LastTouchNs {
			victim = e
		}
	}
	return victim
}

// hashSeqEntity mixes a sequence id and entity key into a shard index,
// grounded on the same SplitMix64 avalanche finalizer the bus uses for
// partition assignment.
func hashSeqEntity(sequenceID uint64, entity kevent.EntityKey) uint64 {
	var lo, hi uint64
	for i := 0; i < 8; i++ {
		lo |= uint64(entity[i]) << (8 * i)
		hi |= uint64(entity[i+8]) << (8 * i)
	}
	x := sequenceID ^ lo ^ hi
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}
