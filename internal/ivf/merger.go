package ivf

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dtsim/ivfshard/internal/diskstore"
	"github.com/dtsim/ivfshard/internal/isodate"
	"github.com/dtsim/ivfshard/internal/ivferrors"
)

// DiskMerger implements component C4: combining several on-disk
// sub-indexes that share one trained quantizer into a single merged
// artifact, and relocating index/payload pairs as a unit.
type DiskMerger struct{}

// NewDiskMerger returns a disk merger. It holds no state; every
// operation is a function of its arguments and the filesystem.
func NewDiskMerger() *DiskMerger { return &DiskMerger{} }

// MergeIVFs concatenates the posting lists of sources, list by list,
// and writes the result as a new artifact at dir/name. Every source
// must share the destination's trained quantizer (same Nlist and
// Dimension); MergeIVFs does not attempt to reconcile differently
// trained indexes. The destination path must be clear, with the
// exception that a source's own path is allowed to coincide with it
// (see ZipIndexes, which relies on this to consolidate a group of
// sub-indexes into one of their own names).
func (m *DiskMerger) MergeIVFs(dir, name string, sources []*BaseIndexDirectory) (*BaseIndexDirectory, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("ivf: MergeIVFs requires at least one source")
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	first := sources[0]
	for _, s := range sources[1:] {
		if s.Dimension != first.Dimension || s.Nlist != first.Nlist {
			return nil, fmt.Errorf("%w: source %s has dimension/nlist %d/%d, want %d/%d", ivferrors.ErrCorrupt, s.Name, s.Dimension, s.Nlist, first.Dimension, first.Nlist)
		}
	}

	indexPath := filepath.Join(dir, name+".index")
	dataPath := filepath.Join(dir, name+".ivfdata")
	if err := checkMergeDestinationClear(indexPath, dataPath, sources); err != nil {
		return nil, err
	}

	merged := make([][]diskstore.Record, first.Nlist)
	for _, src := range sources {
		art, err := diskstore.OpenArtifact(src.IndexPath)
		if err != nil {
			return nil, err
		}
		for listID := 0; listID < first.Nlist; listID++ {
			records, err := art.ReadList(listID)
			if err != nil {
				art.Close()
				return nil, err
			}
			if len(records) > 0 {
				owned := make([]diskstore.Record, len(records))
				for i, r := range records {
					code := make([]byte, len(r.Code))
					copy(code, r.Code)
					owned[i] = diskstore.Record{ID: r.ID, Code: code}
				}
				merged[listID] = append(merged[listID], owned...)
			}
		}
		art.Close()
	}

	// Writing into a path that is also one of the sources requires the
	// sources to be fully read and closed first, which the loop above
	// already guarantees before this point.
	if err := diskstore.WriteArtifact(indexPath, dataPath, name+".ivfdata", first.Dimension, first.CodeSize, merged, first.Centroids); err != nil {
		return nil, fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
	}

	return OpenBaseIndex(dir, name)
}

// checkMergeDestinationClear enforces PathNotClear except when the
// colliding file is itself one of the merge's own sources: a merge
// whose output name matches one of its inputs is exactly the
// "zip a date's sub-indexes into one of their own names" case, and
// sources are read to completion and closed before the destination is
// written, so overwriting a source in place is safe.
func checkMergeDestinationClear(indexPath, dataPath string, sources []*BaseIndexDirectory) error {
	isSourcePath := func(p string) bool {
		for _, s := range sources {
			if p == s.IndexPath || p == s.DataPath {
				return true
			}
		}
		return false
	}

	if _, err := os.Stat(indexPath); err == nil && !isSourcePath(indexPath) {
		return fmt.Errorf("%w: %s", ivferrors.ErrPathNotClear, indexPath)
	}
	if _, err := os.Stat(dataPath); err == nil && !isSourcePath(dataPath) {
		return fmt.Errorf("%w: %s", ivferrors.ErrPathNotClear, dataPath)
	}
	return nil
}

// ZipIndexes merges every sub-index named in names (all located in
// dir) into a single artifact at dir/outName, then removes the
// original members' files so the directory is left holding only the
// consolidated result. This is an ownership transfer, not a copy: a
// member whose name equals outName is merged in place and its own
// stale files are simply the ones replaced by the merge's atomic
// rename.
func (m *DiskMerger) ZipIndexes(dir, outName string, names []string) (*BaseIndexDirectory, error) {
	sources := make([]*BaseIndexDirectory, 0, len(names))
	for _, n := range names {
		s, err := OpenBaseIndex(dir, n)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}

	merged, err := m.MergeIVFs(dir, outName, sources)
	if err != nil {
		return nil, err
	}

	for _, s := range sources {
		if s.Name == outName {
			continue // this member's files are the merge's own output
		}
		if err := os.Remove(s.IndexPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
		}
		if err := os.Remove(s.DataPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
		}
	}

	return merged, nil
}

// ZipDirectory implements the directory-scan half of zip_indexes that
// ZipIndexes leaves to its caller: it finds every *.index file under
// mvDir (optionally recursively), groups them by the ISO date embedded
// in their filename, and zips each group into toDir as
// "{date}_{tag}.index". A name with no date substring is its own
// singleton group, keyed by its own base name rather than failing outright.
// A name with more than one date substring is ErrAmbiguousDate. If toDir
// already holds a shard for a group's date, that shard is folded into
// the group as a stale member - merged in, then removed - rather than
// left behind as an orphaned duplicate. It returns the total number of
// vectors zipped across every group.
func (m *DiskMerger) ZipDirectory(mvDir, toDir, tag string, recursive bool) (int64, error) {
	movingPaths, err := findIndexPaths(mvDir, recursive)
	if err != nil {
		return 0, err
	}
	if len(movingPaths) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(toDir, 0o755); err != nil {
		return 0, fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
	}
	existingPaths, err := findIndexPaths(toDir, false)
	if err != nil {
		return 0, err
	}

	groups := make(map[string][]string)
	var order []string
	for _, path := range movingPaths {
		key, err := zipGroupKey(path)
		if err != nil {
			return 0, err
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], path)
	}
	for _, path := range existingPaths {
		key, err := zipGroupKey(path)
		if err != nil {
			continue // an existing shard with an ambiguous name is left untouched, not folded in
		}
		if _, ok := groups[key]; ok {
			groups[key] = append(groups[key], path)
		}
	}
	sort.Strings(order) // deterministic processing order

	var total int64
	for _, key := range order {
		outName := key + "_" + tag
		sources := make([]*BaseIndexDirectory, 0, len(groups[key]))
		for _, path := range groups[key] {
			dir, name := splitIndexPath(path)
			src, err := OpenBaseIndex(dir, name)
			if err != nil {
				return total, err
			}
			sources = append(sources, src)
		}

		merged, err := m.MergeIVFs(toDir, outName, sources)
		if err != nil {
			return total, err
		}
		total += merged.Ntotal

		for _, s := range sources {
			if s.IndexPath == merged.IndexPath {
				continue // this member's files are the merge's own output
			}
			if err := os.Remove(s.IndexPath); err != nil && !os.IsNotExist(err) {
				return total, fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
			}
			if err := os.Remove(s.DataPath); err != nil && !os.IsNotExist(err) {
				return total, fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
			}
		}
	}
	return total, nil
}

// zipGroupKey returns the date a sub-index's filename groups under for
// ZipDirectory. A filename with no date substring groups under its own
// base name (a singleton group of one); a filename with more than one
// date substring is ErrAmbiguousDate, since there would be no
// principled way to pick which date it belongs to.
func zipGroupKey(indexPath string) (string, error) {
	base := filepath.Base(indexPath)
	matches := isodate.FindAll(base)
	if len(matches) > 1 {
		return "", fmt.Errorf("%w: %s", ivferrors.ErrAmbiguousDate, indexPath)
	}
	if len(matches) == 1 {
		return strings.ReplaceAll(matches[0], "/", "-"), nil
	}
	return strings.TrimSuffix(base, filepath.Ext(base)), nil
}

// splitIndexPath separates a .index file path into the directory and
// base name OpenBaseIndex expects.
func splitIndexPath(indexPath string) (dir, name string) {
	dir = filepath.Dir(indexPath)
	base := filepath.Base(indexPath)
	return dir, strings.TrimSuffix(base, filepath.Ext(base))
}

// findIndexPaths lists the full paths of *.index files (with a matching
// .ivfdata sibling) under dir, recursing into subdirectories when
// recursive is set.
func findIndexPaths(dir string, recursive bool) ([]string, error) {
	if !recursive {
		names, err := FindIndexes(dir)
		if err != nil {
			return nil, err
		}
		paths := make([]string, len(names))
		for i, name := range names {
			paths[i] = filepath.Join(dir, name+".index")
		}
		return paths, nil
	}

	var paths []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() || filepath.Ext(path) != ".index" {
			return nil
		}
		dataPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".ivfdata"
		if _, statErr := os.Stat(dataPath); statErr != nil {
			return nil // index file with no matching payload is not a usable sub-index
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
	}
	return paths, nil
}

// MvIndexAndIvfdata relocates an index/payload pair as a unit. The
// destination must be clear unless it is the same path as the source
// (a no-op rename). Both files move together or neither does: if the
// index rename succeeds but the payload rename fails, the index file
// is moved back so the pair never ends up split across directories.
func (m *DiskMerger) MvIndexAndIvfdata(srcDir, srcName, dstDir, dstName string) error {
	if err := validateName(dstName); err != nil {
		return err
	}
	srcIndex := filepath.Join(srcDir, srcName+".index")
	srcData := filepath.Join(srcDir, srcName+".ivfdata")
	dstIndex := filepath.Join(dstDir, dstName+".index")
	dstData := filepath.Join(dstDir, dstName+".ivfdata")

	if srcIndex != dstIndex {
		if err := IndexPathClear(dstIndex, dstData); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
	}

	if err := os.Rename(srcIndex, dstIndex); err != nil {
		return fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
	}
	if err := os.Rename(srcData, dstData); err != nil {
		// Roll back the index move so the pair is not left split.
		_ = os.Rename(dstIndex, srcIndex)
		return fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
	}

	return updateIvfdataRef(dstIndex, dstName+".ivfdata")
}

// updateIvfdataRef rewrites the moved index file's recorded payload
// reference to match its new base name, since the reference is
// relative to the index file's own directory and a rename can change
// the base name the payload is expected to share.
func updateIvfdataRef(indexPath, newRel string) error {
	f, err := os.Open(indexPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
	}
	h, lists, centroids, err := diskstore.ReadIndex(f)
	f.Close()
	if err != nil {
		return err
	}
	if h.IvfdataRef == newRel {
		return nil
	}

	tmp := indexPath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
	}
	h.IvfdataRef = newRel
	if err := diskstore.WriteIndex(out, h, lists, centroids); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
	}
	return os.Rename(tmp, indexPath)
}
