package ivfshard

import (
	"sort"
	"testing"

	"github.com/dtsim/ivfshard/internal/ivf"
)

func makeCentroids(nlist, dim int) []float32 {
	c := make([]float32, nlist*dim)
	for i := 0; i < nlist; i++ {
		for j := 0; j < dim; j++ {
			c[i*dim+j] = float32(i)
		}
	}
	return c
}

func TestDocIDDivisorMatchesConvention(t *testing.T) {
	vid := int64(300021)
	if vid/DocIDDivisor != 30 {
		t.Errorf("doc id = %d, want 30", vid/DocIDDivisor)
	}
	if vid%DocIDDivisor != 21 {
		t.Errorf("sent id = %d, want 21", vid%DocIDDivisor)
	}
}

func TestNewMountsExistingShards(t *testing.T) {
	dir := t.TempDir()
	dim, nlist := 4, 1

	for _, name := range []string{"2026-07-01", "2026-07-02"} {
		// Each base index gets its own empty directory; only the merged
		// shard is written into dir, so New has exactly these to mount.
		work := t.TempDir()
		base, err := ivf.SetupBaseIndex(work, name, dim, nlist, makeCentroids(nlist, dim))
		if err != nil {
			t.Fatalf("SetupBaseIndex(%s): %v", name, err)
		}
		b, err := ivf.NewSubIndexBuilder(base)
		if err != nil {
			t.Fatalf("NewSubIndexBuilder: %v", err)
		}
		if err := b.Add(1, []float32{0, 0, 0, 0}); err != nil {
			t.Fatalf("Add: %v", err)
		}
		sub, err := b.Build(work, name+"-part")
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		merger := ivf.NewDiskMerger()
		if _, err := merger.MergeIVFs(dir, name, []*ivf.BaseIndexDirectory{base, sub}); err != nil {
			t.Fatalf("MergeIVFs: %v", err)
		}
	}

	cfg := DefaultConfig(dir, "http://localhost:9000", "embed")
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	names := svc.ShardNames()
	sort.Strings(names)
	want := []string{"2026-07-01", "2026-07-02"}
	if len(names) != len(want) {
		t.Fatalf("ShardNames() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("ShardNames()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
