// Package query implements the query processor (C7): turning raw
// query text into a vector, dispatching it to the shard manager, and
// aggregating the hits it gets back into ranked document payloads.
package query

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dtsim/ivfshard/internal/ivferrors"
	"github.com/dtsim/ivfshard/internal/shard"
	"github.com/dtsim/ivfshard/internal/vecid"
)

// scoreFloor is the minimum score a document hit is ever reported
// with, standardizing the two conflicting floors the upstream
// implementations used (0.01 and 0.1) on the lower of the two. Only
// near-zero distances are affected: an exact match reports 0.01
// rather than 0.
const scoreFloor = 0.01

// SentHit is one sentence-level hit inside a document: the compound
// vector id that matched and its (floored) squared-L2 score.
type SentHit struct {
	VectorID int64
	Score    float32
}

// DocHit is one ranked document result: every sentence hit that
// aggregated under the document, sorted ascending by score, plus the
// best (minimum) score, which is what the payload ranks on.
type DocHit struct {
	DocID string
	Hits  []SentHit
	Score float32
}

// Manager is the subset of *shard.Manager the processor depends on,
// so tests can substitute a fake.
type Manager interface {
	Search(ctx context.Context, query []float32, opts shard.SearchOptions) (shard.SearchResult, error)
}

// Processor is component C7. It is safe for concurrent use.
type Processor struct {
	Manager    Manager
	Vectorizer Vectorizer
	NProbe     int
	Radius     float32 // squared-L2 search radius

	memo *lru.Cache[string, []DocHit]
}

// NewProcessor wires a manager and vectorizer into a query processor.
// memoSize is the number of distinct (text, k, radius, start, end,
// rerankByDoc) results to keep memoized; 0 disables memoization. This cache is keyed on the
// raw query text, a layer above and independent of the shard
// manager's own vector-keyed memoization: a repeated query string
// skips both vectorization and the shard fan-out, while a new query
// that happens to vectorize to an already-seen embedding still skips
// the fan-out via the manager's cache.
func NewProcessor(m Manager, v Vectorizer, nprobe int, radius float32, memoSize int) (*Processor, error) {
	p := &Processor{Manager: m, Vectorizer: v, NProbe: nprobe, Radius: radius}
	if memoSize > 0 {
		cache, err := lru.New[string, []DocHit](memoSize)
		if err != nil {
			return nil, fmt.Errorf("query: create memo cache: %w", err)
		}
		p.memo = cache
	}
	return p, nil
}

// Query vectorizes text, searches every shard in [start, end], and
// returns up to k ranked documents, best (lowest) score first. With
// rerankByDoc set, each document carries every sentence hit that
// aggregated under it; without it, each document is reduced to its
// single best sentence. If the search is abandoned on a deadline the
// partial payload is returned alongside ErrTimeout so the caller can
// still use what arrived; a partial payload is never memoized.
func (p *Processor) Query(ctx context.Context, text string, k int, start, end string, rerankByDoc bool) ([]DocHit, error) {
	key := fmt.Sprintf("%s|%d|%g|%s|%s|%t", text, k, p.Radius, start, end, rerankByDoc)
	if p.memo != nil {
		if cached, ok := p.memo.Get(key); ok {
			return cached, nil
		}
	}

	vec, err := p.Vectorizer.Vectorize(ctx, text)
	if err != nil {
		return nil, err
	}

	result, err := p.Manager.Search(ctx, vec, shard.SearchOptions{
		Radius: p.Radius,
		NProbe: p.NProbe,
		K:      k,
		Start:  start,
		End:    end,
	})
	timedOut := err != nil && result.Timeout
	if err != nil && !timedOut {
		return nil, err
	}

	groups := aggregateDocs(result.Hits, true)
	var docs []DocHit
	if rerankByDoc {
		docs = formatPayloadDocs(groups, k)
	} else {
		docs = formatPayloadSingles(groups, k)
	}

	if timedOut {
		return docs, fmt.Errorf("%w: partial payload", ivferrors.ErrTimeout)
	}
	if p.memo != nil {
		p.memo.Add(key, docs)
	}
	return docs, nil
}

// docGroup is one document's accumulated sentence hits before payload
// formatting. Hits are sorted ascending by score once accumulation is
// done.
type docGroup struct {
	docID int64
	hits  []SentHit
}

// aggregateDocs groups raw vector hits by document id, in order of
// first encounter. Non-positive ids are sentinel empty slots and are
// discarded. Each group's hits end up sorted ascending by score, ties
// broken by vector id so the order is total. With requireUniqueScore
// set, documents whose sorted score lists hash identically are
// collapsed to the first one encountered: a document re-indexed under
// a second id produces an identical score profile, and only one copy
// belongs in the payload.
func aggregateDocs(hits []shard.Hit, requireUniqueScore bool) []docGroup {
	byDoc := make(map[int64]int)
	var groups []docGroup

	for _, h := range hits {
		if h.VectorID <= 0 {
			continue
		}
		docID := vecid.DocID(h.VectorID)
		idx, ok := byDoc[docID]
		if !ok {
			idx = len(groups)
			byDoc[docID] = idx
			groups = append(groups, docGroup{docID: docID})
		}
		groups[idx].hits = append(groups[idx].hits, SentHit{
			VectorID: h.VectorID,
			Score:    scoreFromDist(h.Dist),
		})
	}

	for i := range groups {
		g := groups[i].hits
		sort.Slice(g, func(a, b int) bool {
			if g[a].Score != g[b].Score {
				return g[a].Score < g[b].Score
			}
			return g[a].VectorID < g[b].VectorID
		})
	}

	if !requireUniqueScore {
		return groups
	}

	seen := make(map[uint64]bool, len(groups))
	unique := groups[:0]
	for _, g := range groups {
		h := scoreListHash(g.hits)
		if seen[h] {
			continue
		}
		seen[h] = true
		unique = append(unique, g)
	}
	return unique
}

// scoreListHash hashes a document's sorted score list. Two documents
// collide only if their score profiles are bitwise identical.
func scoreListHash(hits []SentHit) uint64 {
	h := xxhash.New()
	var buf [4]byte
	for _, s := range hits {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(s.Score))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// formatPayloadDocs produces the document-level payload: one record
// per document carrying all of its sentence hits, ranked by the best
// (minimum) score, truncated to k records. k <= 0 means unbounded.
func formatPayloadDocs(groups []docGroup, k int) []DocHit {
	docs := make([]DocHit, 0, len(groups))
	for _, g := range groups {
		if len(g.hits) == 0 {
			continue
		}
		docs = append(docs, DocHit{
			DocID: strconv.FormatInt(g.docID, 10),
			Hits:  g.hits,
			Score: g.hits[0].Score,
		})
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score < docs[j].Score })
	if k > 0 && k < len(docs) {
		docs = docs[:k]
	}
	return docs
}

// formatPayloadSingles is formatPayloadDocs reduced to each document's
// single best sentence hit.
func formatPayloadSingles(groups []docGroup, k int) []DocHit {
	docs := formatPayloadDocs(groups, k)
	for i := range docs {
		docs[i].Hits = docs[i].Hits[:1]
	}
	return docs
}

// scoreFromDist reports the squared-L2 distance itself, floored at
// scoreFloor so an exact match (dist == 0) never produces a degenerate
// zero score; lower is better, matching DocHit's ascending score order.
func scoreFromDist(dist float32) float32 {
	if dist < scoreFloor {
		return scoreFloor
	}
	return dist
}
