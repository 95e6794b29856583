package ivf

import (
	"fmt"
	"path/filepath"

	"github.com/dtsim/ivfshard/internal/diskstore"
	"github.com/dtsim/ivfshard/internal/ivferrors"
)

// SubIndexBuilder assigns a stream of vectors to the centroids of a
// base index and accumulates them into in-memory posting lists ready
// to be flushed as a standalone sub-index artifact. It also keeps a
// catalogue of sub-index
// paths to vector totals - the one it builds itself, plus any
// pre-existing sub-indexes registered via IncludeSubIndexPath - so a
// caller can report how much has been staged for a merge before
// actually running one.
type SubIndexBuilder struct {
	base      *BaseIndexDirectory
	inline    *diskstore.InlineLists
	catalogue map[string]int64
}

// NewSubIndexBuilder starts a sub-index build against base's trained
// centroid table. base must be trained and empty (base.LoadEmpty());
// a base index that already has vectors merged into it cannot be
// reused as the centroid source for an independent sub-index build.
func NewSubIndexBuilder(base *BaseIndexDirectory) (*SubIndexBuilder, error) {
	if err := base.LoadEmpty(); err != nil {
		return nil, err
	}
	return &SubIndexBuilder{
		base:      base,
		inline:    diskstore.NewInlineLists(base.Nlist, base.Dimension),
		catalogue: make(map[string]int64),
	}, nil
}

// Add assigns one vector to its nearest centroid and appends it to
// that list. Non-positive ids are sentinels from the upstream
// vectorizer (a failed or filtered sentence) and are discarded rather
// than indexed, per the vector-id convention every component in this
// module shares.
func (b *SubIndexBuilder) Add(id int64, vec []float32) error {
	if id <= 0 {
		return nil
	}
	if len(vec) != b.base.Dimension {
		return fmt.Errorf("ivf: vector %d has dimension %d, want %d", id, len(vec), b.base.Dimension)
	}
	listID := nearestCentroid(vec, b.base.Centroids, b.base.Dimension)
	return b.inline.Add(listID, id, vec)
}

// Ntotal returns how many vectors have been added so far.
func (b *SubIndexBuilder) Ntotal() int64 { return b.inline.Ntotal() }

// Build writes the accumulated posting lists as a standalone sub-index
// artifact at dir/name.index + dir/name.ivfdata. The destination must
// not already exist. The new sub-index's path and vector count are
// added to the catalogue under its index path.
func (b *SubIndexBuilder) Build(dir, name string) (*BaseIndexDirectory, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	indexPath := filepath.Join(dir, name+".index")
	dataPath := filepath.Join(dir, name+".ivfdata")
	if err := IndexPathClear(indexPath, dataPath); err != nil {
		return nil, err
	}

	lists := b.snapshotLists()
	if err := diskstore.WriteArtifact(indexPath, dataPath, name+".ivfdata", b.base.Dimension, b.base.CodeSize, lists, b.base.Centroids); err != nil {
		return nil, fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
	}

	sub, err := OpenBaseIndex(dir, name)
	if err != nil {
		return nil, err
	}
	b.catalogue[sub.IndexPath] = sub.Ntotal
	return sub, nil
}

// IncludeSubIndexPath registers pre-existing sub-indexes, named by
// their .index file paths, in the catalogue - useful when some of the
// sub-indexes due for a merge were built in an earlier run and were
// never added via Build in this process.
func (b *SubIndexBuilder) IncludeSubIndexPath(paths ...string) error {
	for _, path := range paths {
		if filepath.Ext(path) != ".index" {
			return fmt.Errorf("%w: %s", ivferrors.ErrInvalidName, path)
		}
		n, err := GetVectorCount(path)
		if err != nil {
			return err
		}
		b.catalogue[path] = n
	}
	return nil
}

// CatalogueSummary reports how many sub-indexes the catalogue tracks
// (built by this builder or registered via IncludeSubIndexPath) and
// their combined vector count.
func (b *SubIndexBuilder) CatalogueSummary() (n int, totalVectors int64) {
	for _, v := range b.catalogue {
		totalVectors += v
	}
	return len(b.catalogue), totalVectors
}

func (b *SubIndexBuilder) snapshotLists() [][]diskstore.Record {
	lists := make([][]diskstore.Record, b.inline.NLists())
	for i := range lists {
		lists[i] = b.inline.List(i)
	}
	return lists
}
