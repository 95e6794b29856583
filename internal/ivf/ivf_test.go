package ivf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dtsim/ivfshard/internal/diskstore"
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

func TestSetupBaseIndexRejectsNonEmptyDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := SetupBaseIndex(dir, "base", 4, 2, makeCentroids(2, 4))
	if err == nil {
		t.Fatal("expected ErrNotEmpty, got nil")
	}
}

func TestSetupAndOpenBaseIndex(t *testing.T) {
	dir := t.TempDir()
	dim, nlist := 4, 2
	centroids := makeCentroids(nlist, dim)

	base, err := SetupBaseIndex(dir, "base", dim, nlist, centroids)
	if err != nil {
		t.Fatalf("SetupBaseIndex: %v", err)
	}
	if base.Dimension != dim || base.Nlist != nlist {
		t.Errorf("got dim/nlist %d/%d, want %d/%d", base.Dimension, base.Nlist, dim, nlist)
	}

	reopened, err := OpenBaseIndex(dir, "base")
	if err != nil {
		t.Fatalf("OpenBaseIndex: %v", err)
	}
	if reopened.Dimension != dim || reopened.Nlist != nlist {
		t.Errorf("reopened dim/nlist = %d/%d, want %d/%d", reopened.Dimension, reopened.Nlist, dim, nlist)
	}
}

func TestSubIndexBuilderAssignsNearestCentroidAndDiscardsSentinels(t *testing.T) {
	dir := t.TempDir()
	dim, nlist := 4, 2
	centroids := makeCentroids(nlist, dim) // centroid 0 = {0,0,0,0}, centroid 1 = {1,1,1,1}

	base, err := SetupBaseIndex(dir, "base", dim, nlist, centroids)
	if err != nil {
		t.Fatalf("SetupBaseIndex: %v", err)
	}

	b, err := NewSubIndexBuilder(base)
	if err != nil {
		t.Fatalf("NewSubIndexBuilder: %v", err)
	}
	if err := b.Add(10001, []float32{0.1, 0.1, 0.1, 0.1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := b.Add(10002, []float32{0.9, 0.9, 0.9, 0.9}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := b.Add(-1, []float32{5, 5, 5, 5}); err != nil {
		t.Fatalf("Add(sentinel): %v", err)
	}
	if b.Ntotal() != 2 {
		t.Fatalf("Ntotal() = %d, want 2 (sentinel discarded)", b.Ntotal())
	}

	sub, err := b.Build(dir, "2026-07-30_0")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if sub.Name != "2026-07-30_0" {
		t.Errorf("sub.Name = %q", sub.Name)
	}

	n, err := GetVectorCount(sub.IndexPath)
	if err != nil {
		t.Fatalf("GetVectorCount: %v", err)
	}
	if n != 2 {
		t.Errorf("GetVectorCount() = %d, want 2", n)
	}

	art, err := diskstore.OpenArtifact(sub.IndexPath)
	if err != nil {
		t.Fatalf("OpenArtifact: %v", err)
	}
	defer art.Close()
	for listID, wantID := range []int64{10001, 10002} {
		recs, err := art.ReadList(listID)
		if err != nil {
			t.Fatalf("ReadList(%d): %v", listID, err)
		}
		if len(recs) != 1 || recs[0].ID != wantID {
			t.Errorf("list %d holds %d records, want only vector %d", listID, len(recs), wantID)
		}
	}
}

func TestMergeIVFsCombinesLists(t *testing.T) {
	dir := t.TempDir()
	dim, nlist := 4, 2
	centroids := makeCentroids(nlist, dim)

	base, err := SetupBaseIndex(dir, "base", dim, nlist, centroids)
	if err != nil {
		t.Fatalf("SetupBaseIndex: %v", err)
	}

	b1, err := NewSubIndexBuilder(base)
	if err != nil {
		t.Fatalf("NewSubIndexBuilder: %v", err)
	}
	b1.Add(1, []float32{0, 0, 0, 0})
	s1, err := b1.Build(dir, "sub1")
	if err != nil {
		t.Fatalf("Build sub1: %v", err)
	}

	b2, err := NewSubIndexBuilder(base)
	if err != nil {
		t.Fatalf("NewSubIndexBuilder: %v", err)
	}
	b2.Add(2, []float32{1, 1, 1, 1})
	s2, err := b2.Build(dir, "sub2")
	if err != nil {
		t.Fatalf("Build sub2: %v", err)
	}

	merger := NewDiskMerger()
	merged, err := merger.MergeIVFs(dir, "merged", []*BaseIndexDirectory{s1, s2})
	if err != nil {
		t.Fatalf("MergeIVFs: %v", err)
	}

	n, err := GetVectorCount(merged.IndexPath)
	if err != nil {
		t.Fatalf("GetVectorCount: %v", err)
	}
	if n != 2 {
		t.Errorf("GetVectorCount() = %d, want 2", n)
	}
}

func TestMergeIVFsSingleSourceIsEquivalent(t *testing.T) {
	dir := t.TempDir()
	dim, nlist := 4, 2
	centroids := makeCentroids(nlist, dim)

	base, err := SetupBaseIndex(dir, "base", dim, nlist, centroids)
	if err != nil {
		t.Fatalf("SetupBaseIndex: %v", err)
	}
	b, err := NewSubIndexBuilder(base)
	if err != nil {
		t.Fatalf("NewSubIndexBuilder: %v", err)
	}
	b.Add(10001, []float32{0, 0, 0, 0})
	b.Add(10002, []float32{1, 1, 1, 1})
	src, err := b.Build(dir, "src")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	merger := NewDiskMerger()
	merged, err := merger.MergeIVFs(dir, "copy", []*BaseIndexDirectory{src})
	if err != nil {
		t.Fatalf("MergeIVFs: %v", err)
	}
	if merged.Ntotal != src.Ntotal {
		t.Errorf("merged Ntotal = %d, want %d", merged.Ntotal, src.Ntotal)
	}
	if merged.Nlist != src.Nlist || merged.Dimension != src.Dimension {
		t.Errorf("merged shape %d/%d, want %d/%d", merged.Nlist, merged.Dimension, src.Nlist, src.Dimension)
	}
}

func TestZipIndexesRemovesConsumedMembers(t *testing.T) {
	dir := t.TempDir()
	dim, nlist := 4, 1
	centroids := makeCentroids(nlist, dim)

	base, err := SetupBaseIndex(dir, "base", dim, nlist, centroids)
	if err != nil {
		t.Fatalf("SetupBaseIndex: %v", err)
	}

	b1, err := NewSubIndexBuilder(base)
	if err != nil {
		t.Fatalf("NewSubIndexBuilder: %v", err)
	}
	b1.Add(1, []float32{0, 0, 0, 0})
	if _, err := b1.Build(dir, "part1"); err != nil {
		t.Fatalf("Build part1: %v", err)
	}

	b2, err := NewSubIndexBuilder(base)
	if err != nil {
		t.Fatalf("NewSubIndexBuilder: %v", err)
	}
	b2.Add(2, []float32{0, 0, 0, 0})
	if _, err := b2.Build(dir, "part2"); err != nil {
		t.Fatalf("Build part2: %v", err)
	}

	merger := NewDiskMerger()
	zipped, err := merger.ZipIndexes(dir, "2026-07-30", []string{"part1", "part2"})
	if err != nil {
		t.Fatalf("ZipIndexes: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "part1.index")); !os.IsNotExist(err) {
		t.Error("part1.index should have been consumed by the zip")
	}
	if _, err := os.Stat(filepath.Join(dir, "part2.index")); !os.IsNotExist(err) {
		t.Error("part2.index should have been consumed by the zip")
	}

	n, err := GetVectorCount(zipped.IndexPath)
	if err != nil {
		t.Fatalf("GetVectorCount: %v", err)
	}
	if n != 2 {
		t.Errorf("GetVectorCount() = %d, want 2", n)
	}
}

func TestMvIndexAndIvfdataRejectsNonClearDestination(t *testing.T) {
	dir := t.TempDir()
	dim, nlist := 4, 1
	centroids := makeCentroids(nlist, dim)

	base, err := SetupBaseIndex(dir, "base", dim, nlist, centroids)
	if err != nil {
		t.Fatalf("SetupBaseIndex: %v", err)
	}
	b, err := NewSubIndexBuilder(base)
	if err != nil {
		t.Fatalf("NewSubIndexBuilder: %v", err)
	}
	b.Add(1, []float32{0, 0, 0, 0})
	if _, err := b.Build(dir, "sub"); err != nil {
		t.Fatalf("Build: %v", err)
	}

	merger := NewDiskMerger()
	if err := merger.MvIndexAndIvfdata(dir, "sub", dir, "base"); err == nil {
		t.Error("expected ErrPathExists moving onto the base index, got nil")
	}
}

func TestZipDirectoryGroupsByDateAndFoldsStaleMember(t *testing.T) {
	mvDir, toDir := t.TempDir(), t.TempDir()
	dim, nlist := 4, 1
	centroids := makeCentroids(nlist, dim)

	base, err := SetupBaseIndex(mvDir, "base", dim, nlist, centroids)
	if err != nil {
		t.Fatalf("SetupBaseIndex: %v", err)
	}

	build := func(name string, id int64) {
		t.Helper()
		b, err := NewSubIndexBuilder(base)
		if err != nil {
			t.Fatalf("NewSubIndexBuilder: %v", err)
		}
		if err := b.Add(id, []float32{0, 0, 0, 0}); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if _, err := b.Build(mvDir, name); err != nil {
			t.Fatalf("Build %s: %v", name, err)
		}
	}
	build("2026-07-30_part1", 1)
	build("2026-07-30_part2", 2)
	build("2026-08-01_part1", 3)

	// An existing shard already serving 2026-07-30 in toDir should be
	// folded in as a stale member and removed after the zip.
	staleBase, err := SetupBaseIndex(toDir, "stale-base", dim, nlist, centroids)
	if err != nil {
		t.Fatalf("SetupBaseIndex(stale-base): %v", err)
	}
	staleBuilder, err := NewSubIndexBuilder(staleBase)
	if err != nil {
		t.Fatalf("NewSubIndexBuilder: %v", err)
	}
	staleBuilder.Add(4, []float32{0, 0, 0, 0})
	if _, err := staleBuilder.Build(toDir, "2026-07-30"); err != nil {
		t.Fatalf("Build stale: %v", err)
	}

	merger := NewDiskMerger()
	total, err := merger.ZipDirectory(mvDir, toDir, "tag", false)
	if err != nil {
		t.Fatalf("ZipDirectory: %v", err)
	}
	if total != 4 {
		t.Errorf("ZipDirectory total = %d, want 4 (3 moved + 1 stale)", total)
	}

	n0730, err := GetVectorCount(filepath.Join(toDir, "2026-07-30_tag.index"))
	if err != nil {
		t.Fatalf("GetVectorCount(2026-07-30_tag): %v", err)
	}
	if n0730 != 3 {
		t.Errorf("2026-07-30_tag vectors = %d, want 3 (2 moved + 1 stale)", n0730)
	}

	n0801, err := GetVectorCount(filepath.Join(toDir, "2026-08-01_tag.index"))
	if err != nil {
		t.Fatalf("GetVectorCount(2026-08-01_tag): %v", err)
	}
	if n0801 != 1 {
		t.Errorf("2026-08-01_tag vectors = %d, want 1", n0801)
	}

	if _, err := os.Stat(filepath.Join(toDir, "2026-07-30.index")); !os.IsNotExist(err) {
		t.Error("stale 2026-07-30.index should have been removed after the zip")
	}
	for _, name := range []string{"2026-07-30_part1.index", "2026-07-30_part2.index", "2026-08-01_part1.index"} {
		if _, err := os.Stat(filepath.Join(mvDir, name)); !os.IsNotExist(err) {
			t.Errorf("moved member %s should have been removed after the zip", name)
		}
	}
}

func TestZipDirectoryGroupsDatelessNamesSeparately(t *testing.T) {
	mvDir, toDir := t.TempDir(), t.TempDir()
	dim, nlist := 4, 1
	centroids := makeCentroids(nlist, dim)

	base, err := SetupBaseIndex(mvDir, "base", dim, nlist, centroids)
	if err != nil {
		t.Fatalf("SetupBaseIndex: %v", err)
	}
	b, err := NewSubIndexBuilder(base)
	if err != nil {
		t.Fatalf("NewSubIndexBuilder: %v", err)
	}
	b.Add(1, []float32{0, 0, 0, 0})
	if _, err := b.Build(mvDir, "undated-batch"); err != nil {
		t.Fatalf("Build: %v", err)
	}

	merger := NewDiskMerger()
	total, err := merger.ZipDirectory(mvDir, toDir, "tag", false)
	if err != nil {
		t.Fatalf("ZipDirectory: %v", err)
	}
	if total != 1 {
		t.Errorf("ZipDirectory total = %d, want 1", total)
	}
	if _, err := os.Stat(filepath.Join(toDir, "undated-batch_tag.index")); err != nil {
		t.Errorf("expected undated-batch_tag.index to exist: %v", err)
	}
}

func TestZipDirectoryRejectsAmbiguousDateInFilename(t *testing.T) {
	mvDir, toDir := t.TempDir(), t.TempDir()
	dim, nlist := 4, 1
	centroids := makeCentroids(nlist, dim)

	base, err := SetupBaseIndex(mvDir, "base", dim, nlist, centroids)
	if err != nil {
		t.Fatalf("SetupBaseIndex: %v", err)
	}
	b, err := NewSubIndexBuilder(base)
	if err != nil {
		t.Fatalf("NewSubIndexBuilder: %v", err)
	}
	b.Add(1, []float32{0, 0, 0, 0})
	if _, err := b.Build(mvDir, "2026-07-30_vs_2026-08-01"); err != nil {
		t.Fatalf("Build: %v", err)
	}

	merger := NewDiskMerger()
	if _, err := merger.ZipDirectory(mvDir, toDir, "tag", false); err == nil {
		t.Error("expected ErrAmbiguousDate, got nil")
	}
}

func TestNewSubIndexBuilderRejectsNonEmptyBase(t *testing.T) {
	dir := t.TempDir()
	dim, nlist := 4, 1
	centroids := makeCentroids(nlist, dim)

	base, err := SetupBaseIndex(dir, "base", dim, nlist, centroids)
	if err != nil {
		t.Fatalf("SetupBaseIndex: %v", err)
	}
	b, err := NewSubIndexBuilder(base)
	if err != nil {
		t.Fatalf("NewSubIndexBuilder: %v", err)
	}
	b.Add(1, []float32{0, 0, 0, 0})
	sub, err := b.Build(dir, "sub")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, err := NewSubIndexBuilder(sub); err == nil {
		t.Error("expected ErrNotEmpty building against a non-empty base index, got nil")
	}
}

func TestSubIndexBuilderCatalogue(t *testing.T) {
	dir := t.TempDir()
	dim, nlist := 4, 1
	centroids := makeCentroids(nlist, dim)

	base, err := SetupBaseIndex(dir, "base", dim, nlist, centroids)
	if err != nil {
		t.Fatalf("SetupBaseIndex: %v", err)
	}

	b, err := NewSubIndexBuilder(base)
	if err != nil {
		t.Fatalf("NewSubIndexBuilder: %v", err)
	}
	b.Add(1, []float32{0, 0, 0, 0})
	b.Add(2, []float32{0, 0, 0, 0})
	sub, err := b.Build(dir, "sub1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	other, err := NewSubIndexBuilder(base)
	if err != nil {
		t.Fatalf("NewSubIndexBuilder: %v", err)
	}
	other.Add(3, []float32{0, 0, 0, 0})
	preexisting, err := other.Build(dir, "sub2")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := b.IncludeSubIndexPath(preexisting.IndexPath); err != nil {
		t.Fatalf("IncludeSubIndexPath: %v", err)
	}

	n, total := b.CatalogueSummary()
	if n != 2 {
		t.Errorf("CatalogueSummary() n = %d, want 2", n)
	}
	if total != sub.Ntotal+preexisting.Ntotal {
		t.Errorf("CatalogueSummary() total = %d, want %d", total, sub.Ntotal+preexisting.Ntotal)
	}
}
