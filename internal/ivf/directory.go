// Package ivf implements the base-index directory, sub-index builder,
// and disk merger components (C2-C4): everything involved in turning a
// trained set of centroids plus a stream of vectors into a mergeable,
// mmap-ready on-disk artifact.
package ivf

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/dtsim/ivfshard/internal/diskstore"
	"github.com/dtsim/ivfshard/internal/ivferrors"
)

// nameRe restricts sub-index and shard base names to simple path
// segments. This both blocks directory traversal and gives the date
// shard regex (see internal/shard) an unambiguous surface to scan.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// validateName reports ErrInvalidName if name is empty, contains a
// path separator, or otherwise cannot safely be used as a file base
// name.
func validateName(name string) error {
	if name == "" || !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ivferrors.ErrInvalidName, name)
	}
	return nil
}

// BaseIndexDirectory is a trained, empty (or populated) IVF index
// directory: the centroid table plus whatever posting lists have been
// merged into it so far. Sub-index builders read only its centroid
// table and dimension; the disk merger reads and rewrites its lists.
type BaseIndexDirectory struct {
	Dir       string
	Name      string
	IndexPath string
	DataPath  string

	Dimension int
	Nlist     int
	CodeSize  int
	Centroids []float32 // flattened Nlist*Dimension

	IsTrained bool
	Ntotal    int64
}

// LoadEmpty asserts the invariant a sub-index build depends on: the
// base index is trained and holds no vectors of its own yet. A base
// index that already has vectors merged into it (Ntotal > 0) must
// never be reused as the centroid source for a second, independent
// sub-index build.
func (b *BaseIndexDirectory) LoadEmpty() error {
	if !b.IsTrained || b.Ntotal != 0 {
		return fmt.Errorf("%w: base index %s (IsTrained=%v Ntotal=%d)", ivferrors.ErrNotEmpty, b.Name, b.IsTrained, b.Ntotal)
	}
	return nil
}

// SetupBaseIndex creates a new, empty trained base index directory at
// dir/name.index + dir/name.ivfdata. dir must either not exist or be
// empty; a non-empty directory is ErrNotEmpty so a caller never
// silently builds on top of unrelated files.
func SetupBaseIndex(dir, name string, dimension, nlist int, centroids []float32) (*BaseIndexDirectory, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if len(centroids) != nlist*dimension {
		return nil, fmt.Errorf("ivf: centroid table length %d does not match nlist*dimension %d", len(centroids), nlist*dimension)
	}

	if info, err := os.Stat(dir); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ivferrors.ErrPathExists, dir)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
		}
		if len(entries) > 0 {
			return nil, fmt.Errorf("%w: %s", ivferrors.ErrNotEmpty, dir)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
	}

	indexPath := filepath.Join(dir, name+".index")
	dataPath := filepath.Join(dir, name+".ivfdata")
	dataRel := name + ".ivfdata"

	emptyLists := make([][]diskstore.Record, nlist)
	codeSize := dimension * 4
	if err := diskstore.WriteArtifact(indexPath, dataPath, dataRel, dimension, codeSize, emptyLists, centroids); err != nil {
		return nil, err
	}

	return &BaseIndexDirectory{
		Dir:       dir,
		Name:      name,
		IndexPath: indexPath,
		DataPath:  dataPath,
		Dimension: dimension,
		Nlist:     nlist,
		CodeSize:  codeSize,
		Centroids: centroids,
		IsTrained: true,
		Ntotal:    0,
	}, nil
}

// OpenBaseIndex opens an existing base index directory, reading its
// header and centroid table but not memory-mapping the payload (a
// caller that only needs the quantizer, e.g. a sub-index builder,
// never touches the posting lists themselves).
func OpenBaseIndex(dir, name string) (*BaseIndexDirectory, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	indexPath := filepath.Join(dir, name+".index")
	f, err := os.Open(indexPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
	}
	defer f.Close()

	h, _, centroids, err := diskstore.ReadIndex(f)
	if err != nil {
		return nil, err
	}

	return &BaseIndexDirectory{
		Dir:       dir,
		Name:      name,
		IndexPath: indexPath,
		DataPath:  filepath.Join(dir, h.IvfdataRef),
		Dimension: h.Dimension,
		Nlist:     h.Nlist,
		CodeSize:  h.CodeSize,
		Centroids: centroids,
		IsTrained: h.IsTrained,
		Ntotal:    h.Ntotal,
	}, nil
}

// GetVectorCount reports the total number of vectors recorded in the
// index at indexPath without mapping the payload file.
func GetVectorCount(indexPath string) (int64, error) {
	f, err := os.Open(indexPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
	}
	defer f.Close()

	h, _, _, err := diskstore.ReadIndex(f)
	if err != nil {
		return 0, err
	}
	return h.Ntotal, nil
}

// FindIndexes lists the sub-index base names (without extension)
// present in dir, i.e. every *.index file that has a matching
// *.ivfdata sibling.
func FindIndexes(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ivferrors.ErrIOError, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base := e.Name()
		const ext = ".index"
		if filepath.Ext(base) != ext {
			continue
		}
		name := base[:len(base)-len(ext)]
		if _, err := os.Stat(filepath.Join(dir, name+".ivfdata")); err != nil {
			continue // index file with no matching payload is not a usable sub-index
		}
		names = append(names, name)
	}
	return names, nil
}

// IndexPathClear reports nil if neither path exists yet, and
// ErrPathExists otherwise. Callers that are about to create a new
// index file call this first so a build never silently clobbers an
// existing artifact.
func IndexPathClear(indexPath, dataPath string) error {
	if _, err := os.Stat(indexPath); err == nil {
		return fmt.Errorf("%w: %s", ivferrors.ErrPathExists, indexPath)
	}
	if _, err := os.Stat(dataPath); err == nil {
		return fmt.Errorf("%w: %s", ivferrors.ErrPathExists, dataPath)
	}
	return nil
}
