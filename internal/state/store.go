package state

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotFound is returned by Snapshot for a path that was never observed.
var ErrNotFound = errors.New("state: path not found")

const shardCount = 16

// Store is the in-memory mirror of one device's attributes.
//
// Applies to the same path serialize on that path's shard lock and are
// published to subscribers before the lock is released, so every subscriber
// sees per-path updates in apply order. Applies to paths on different
// shards proceed independently. Keys are never removed.
type Store struct {
	shards [shardCount]shard

	subMu     sync.RWMutex
	subs      map[uint64]*Subscription
	nextSubID uint64

	stale atomic.Bool
	now   func() time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[DevicePath]AttributeValue
}

// NewStore creates an empty store. A new store is stale until the first
// baseline arrives.
func NewStore() *Store {
	s := &Store{
		subs: make(map[uint64]*Subscription),
		now:  time.Now,
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[DevicePath]AttributeValue)
	}
	s.stale.Store(true)
	return s
}

func (s *Store) shardFor(p DevicePath) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(p))
	return &s.shards[h.Sum32()%shardCount]
}

// Apply upserts the value at path, assigns the next revision for that path
// and notifies every matching subscriber exactly once. The new value is
// visible to Snapshot before any subscriber can observe the notification.
func (s *Store) Apply(path DevicePath, v Value) AttributeValue {
	sh := s.shardFor(path)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	prev := sh.entries[path]
	av := AttributeValue{
		Path:      path,
		Value:     v,
		Revision:  prev.Revision + 1,
		UpdatedAt: s.now(),
	}
	sh.entries[path] = av

	s.publish(av)
	return av
}

// publish fans a change out to subscribers. Called with the path's shard
// lock held.
func (s *Store) publish(av AttributeValue) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, sub := range s.subs {
		if sub.matches(av.Path) {
			sub.push(av)
		}
	}
}

// Snapshot returns the current value at path.
func (s *Store) Snapshot(path DevicePath) (AttributeValue, error) {
	sh := s.shardFor(path)
	sh.mu.Lock()
	av, ok := sh.entries[path]
	sh.mu.Unlock()
	if !ok {
		return AttributeValue{}, ErrNotFound
	}
	return av, nil
}

// Value is Snapshot without the metadata.
func (s *Store) Value(path DevicePath) (Value, bool) {
	av, err := s.Snapshot(path)
	if err != nil {
		return Value{}, false
	}
	return av.Value, true
}

// Walk returns every attribute under prefix, sorted by path.
func (s *Store) Walk(prefix DevicePath) []AttributeValue {
	var out []AttributeValue
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for p, av := range sh.entries {
			if p.HasPrefix(prefix) {
				out = append(out, av)
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Children returns the distinct segment names directly beneath prefix,
// sorted. For "/Device/InputSources/Inputs" this lists the inputs the
// device has reported so far.
func (s *Store) Children(prefix DevicePath) []string {
	depth := prefix.Depth()
	seen := make(map[string]struct{})
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for p := range sh.entries {
			if p == prefix || !p.HasPrefix(prefix) {
				continue
			}
			segs := p.Segments()
			if len(segs) > depth {
				seen[segs[depth]] = struct{}{}
			}
		}
		sh.mu.Unlock()
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of observed paths.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// MarkStale flags the whole mirror as possibly outdated. Values stay
// readable; consumers should treat them as last-known.
func (s *Store) MarkStale() { s.stale.Store(true) }

// MarkFresh clears the stale flag once a new baseline has been received.
func (s *Store) MarkFresh() { s.stale.Store(false) }

// Stale reports whether the mirror is outside a live session.
func (s *Store) Stale() bool { return s.stale.Load() }

// Subscribe returns a new cursor over future changes. Each subscription
// has its own unbounded queue; a slow consumer never blocks Apply or
// other subscribers and never misses an update.
func (s *Store) Subscribe(opts ...SubscribeOption) *Subscription {
	sub := &Subscription{
		store:  s,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sub)
	}

	if !sub.replay {
		s.subMu.Lock()
		s.nextSubID++
		sub.id = s.nextSubID
		s.subs[sub.id] = sub
		s.subMu.Unlock()
		return sub
	}

	// Hold every shard so no apply lands between the replay snapshot and
	// registration.
	for i := range s.shards {
		s.shards[i].mu.Lock()
	}
	var seed []AttributeValue
	for i := range s.shards {
		for p, av := range s.shards[i].entries {
			if sub.matches(p) {
				seed = append(seed, av)
			}
		}
	}
	sort.Slice(seed, func(i, j int) bool { return seed[i].Path < seed[j].Path })
	for _, av := range seed {
		sub.push(av)
	}
	s.subMu.Lock()
	s.nextSubID++
	sub.id = s.nextSubID
	s.subs[sub.id] = sub
	s.subMu.Unlock()
	for i := len(s.shards) - 1; i >= 0; i-- {
		s.shards[i].mu.Unlock()
	}
	return sub
}

func (s *Store) unsubscribe(id uint64) {
	s.subMu.Lock()
	delete(s.subs, id)
	s.subMu.Unlock()
}

// Subscribers returns the number of open subscriptions.
func (s *Store) Subscribers() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subs)
}
