// Package shard implements the shard worker and shard manager
// components (C5-C6): each Shard wraps one mounted on-disk IVF
// artifact for one calendar date, and the Manager fans a query out
// across every shard whose date falls in a requested range.
package shard

import (
	"context"
	"fmt"

	"github.com/dtsim/ivfshard/internal/diskstore"
	"github.com/dtsim/ivfshard/internal/ivf"
)

// Hit is one vector found within a range search, before any
// document-level aggregation.
type Hit struct {
	VectorID int64
	Dist     float32 // squared L2
}

// Shard is one mounted on-disk IVF artifact: a base name encoding a
// calendar date, its trained quantizer, and the memory-mapped posting
// lists a search reads from.
type Shard struct {
	Name string
	Date string // validated ISO date extracted from Name; "" when Name carries no date

	base *ivf.BaseIndexDirectory
	art  *diskstore.Artifact
}

// Open mounts the shard named name from dir, memory-mapping its
// payload file for the lifetime of the Shard.
func Open(dir, name string) (*Shard, error) {
	date, err := extractDate(name)
	if err != nil {
		return nil, err
	}

	base, err := ivf.OpenBaseIndex(dir, name)
	if err != nil {
		return nil, err
	}
	art, err := diskstore.OpenArtifact(base.IndexPath)
	if err != nil {
		return nil, err
	}

	return &Shard{Name: name, Date: date, base: base, art: art}, nil
}

// Close releases the shard's memory mapping. The Shard must not be
// used afterward.
func (s *Shard) Close() error {
	return s.art.Close()
}

// Ntotal returns the number of vectors the shard holds.
func (s *Shard) Ntotal() int64 { return s.art.Header.Ntotal }

// RangeSearch performs component C5's worker search: probe the nprobe
// centroids nearest query, scan their posting lists, and return every
// vector within radius (a squared-L2 threshold). ctx is checked
// between posting lists so a caller that abandons a slow search can
// stop a worker at list granularity instead of only between whole
// shards.
func (s *Shard) RangeSearch(ctx context.Context, query []float32, radius float32, nprobe int) ([]Hit, error) {
	if len(query) != s.base.Dimension {
		return nil, fmt.Errorf("shard %s: query dimension %d does not match shard dimension %d", s.Name, len(query), s.base.Dimension)
	}

	lists := probeLists(query, s.base.Centroids, s.base.Dimension, nprobe)

	var hits []Hit
	for _, listID := range lists {
		select {
		case <-ctx.Done():
			return hits, ctx.Err()
		default:
		}

		records, err := s.art.ReadList(listID)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if rec.ID <= 0 {
				continue // sentinel empty slot, never a real vector
			}
			vec := diskstore.DecodeFlat(rec.Code)
			d := squaredL2(query, vec)
			if d <= radius {
				hits = append(hits, Hit{VectorID: rec.ID, Dist: d})
			}
		}
	}

	return hits, nil
}
