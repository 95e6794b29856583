package shard

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dtsim/ivfshard/internal/diskstore"
	"github.com/dtsim/ivfshard/internal/ivferrors"
	"github.com/dtsim/ivfshard/internal/topk"
)

// SearchOptions parametrizes a manager-wide range search.
type SearchOptions struct {
	Radius float32 // squared-L2 threshold
	NProbe int
	K      int // max results to retain per shard before the global merge; 0 means unbounded
	Start  string // inclusive ISO date lower bound, "" for unbounded
	End    string // inclusive ISO date upper bound, "" for unbounded
}

// SearchResult is the fan-in of every matching shard's hits.
type SearchResult struct {
	Hits    []Hit
	Timeout bool // true if ctx was abandoned before every shard reported back
}

// Manager is component C6: it owns the set of currently mounted
// shards and fans a query out across every shard whose date falls in
// the requested range. Search is safe for concurrent callers; adding
// or removing a shard takes an exclusive lock that drains in-flight
// readers first (Go's sync.RWMutex is writer-preferring).
type Manager struct {
	mu     sync.RWMutex
	shards map[string]*Shard

	memo *lru.Cache[string, SearchResult]
}

// NewManager creates an empty manager. memoSize is the number of
// distinct (query, options) results to keep memoized; 0 disables
// memoization.
func NewManager(memoSize int) (*Manager, error) {
	m := &Manager{shards: make(map[string]*Shard)}
	if memoSize > 0 {
		cache, err := lru.New[string, SearchResult](memoSize)
		if err != nil {
			return nil, fmt.Errorf("shard: create memo cache: %w", err)
		}
		m.memo = cache
	}
	return m, nil
}

// AddShard mounts the shard named name from dir and brings it online.
// Adding a shard that is already online is ErrShardAlreadyOnline.
func (m *Manager) AddShard(dir, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.shards[name]; ok {
		return fmt.Errorf("%w: %s", ivferrors.ErrShardAlreadyOnline, name)
	}

	s, err := Open(dir, name)
	if err != nil {
		return err
	}
	m.shards[name] = s
	if m.memo != nil {
		m.memo.Purge() // the corpus served by a search changed; stale results are no longer valid
	}
	return nil
}

// RemoveShard takes a shard offline and releases its mapping. Removing
// a shard that is not online is a no-op.
func (m *Manager) RemoveShard(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shards[name]
	if !ok {
		return nil
	}
	delete(m.shards, name)
	if m.memo != nil {
		m.memo.Purge()
	}
	return s.Close()
}

// Close unmounts every shard and releases their mappings. The manager
// must not be used afterward.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, s := range m.shards {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.shards, name)
	}
	if m.memo != nil {
		m.memo.Purge()
	}
	return firstErr
}

// ShardNames returns the names of every shard currently online, for
// diagnostics.
func (m *Manager) ShardNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.shards))
	for n := range m.shards {
		names = append(names, n)
	}
	return names
}

// Search fans query out across every online shard whose date falls in
// [opts.Start, opts.End], merging their hits. If ctx is canceled or
// its deadline expires before every shard worker finishes, Search
// returns the hits collected so far with Timeout set, together with an
// error wrapping ErrTimeout, since a partial answer is still useful to
// the query processor's aggregation step. A partial result is not
// memoized.
func (m *Manager) Search(ctx context.Context, query []float32, opts SearchOptions) (SearchResult, error) {
	key := memoKey(query, opts)
	if m.memo != nil {
		if cached, ok := m.memo.Get(key); ok {
			return cached, nil
		}
	}

	// The read side is held across the whole fan-out, not just the
	// routing pass: a shard must not be unmounted (and its payload
	// unmapped) while a worker is still scanning it.
	m.mu.RLock()
	defer m.mu.RUnlock()

	targets := make([]*Shard, 0, len(m.shards))
	for _, s := range m.shards {
		if inRange(s.Date, opts.Start, opts.End) {
			targets = append(targets, s)
		}
	}
	if len(targets) == 0 {
		return SearchResult{}, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	perShard := make([][]Hit, len(targets))
	for i, s := range targets {
		i, s := i, s
		g.Go(func() error {
			hits, err := s.RangeSearch(gctx, query, opts.Radius, opts.NProbe)
			perShard[i] = truncateToK(hits, opts.K)
			return err
		})
	}

	err := g.Wait()
	timedOut := err != nil && ctx.Err() != nil

	var merged []Hit
	for _, hits := range perShard {
		merged = append(merged, hits...)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Dist != merged[j].Dist {
			return merged[i].Dist < merged[j].Dist
		}
		return merged[i].VectorID < merged[j].VectorID
	})

	result := SearchResult{Hits: merged, Timeout: timedOut}

	if timedOut {
		return result, fmt.Errorf("%w", ivferrors.ErrTimeout)
	}
	if err != nil {
		return SearchResult{}, err
	}

	if m.memo != nil {
		m.memo.Add(key, result)
	}
	return result, nil
}

func memoKey(query []float32, opts SearchOptions) string {
	h := xxhash.New()
	h.Write(diskstore.EncodeFlat(query))
	fmt.Fprintf(h, "|%f|%d|%d|%s|%s", opts.Radius, opts.NProbe, opts.K, opts.Start, opts.End)
	return fmt.Sprintf("%x", h.Sum64())
}

// truncateToK keeps only the k hits nearest the query (ascending
// distance) out of one shard's range-search result, using the same
// bounded max-heap internal/ivf's centroid probing reuses so a shard
// with far more matches than k never carries its whole result set
// across the fan-in. k <= 0 means unbounded.
func truncateToK(hits []Hit, k int) []Hit {
	if k <= 0 || len(hits) <= k {
		return hits
	}
	h := topk.NewCandidateHeap(k)
	for _, hit := range hits {
		h.AddCandidate(topk.Candidate{ID: int(hit.VectorID), Distance: hit.Dist}, k)
	}
	best := h.ExtractTop()
	out := make([]Hit, len(best))
	for i, c := range best {
		out[i] = Hit{VectorID: int64(c.ID), Dist: c.Distance}
	}
	return out
}
