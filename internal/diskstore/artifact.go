package diskstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// Artifact is an opened on-disk inverted-lists store: the parsed
// {base}.index header and list table, plus a memory-mapped view of
// the companion {base}.ivfdata payload. Reads never copy the mapped
// bytes; ReadList returns slices into the mapping.
type Artifact struct {
	Header    Header
	Lists     []ListMeta
	Centroids []float32 // flattened, Nlist*Dimension

	mapped *mappedFile
}

// OpenArtifact opens indexPath (the {base}.index file) and memory-maps
// its companion .ivfdata file, whose relative path is recorded inside
// the index header.
func OpenArtifact(indexPath string) (*Artifact, error) {
	f, err := os.Open(indexPath)
	if err != nil {
		return nil, fmt.Errorf("diskstore: open index %s: %w", indexPath, err)
	}
	defer f.Close()

	h, lists, centroids, err := ReadIndex(f)
	if err != nil {
		return nil, err
	}

	dataPath := filepath.Join(filepath.Dir(indexPath), h.IvfdataRef)
	mapped, err := mmapOpen(dataPath)
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Header:    h,
		Lists:     lists,
		Centroids: centroids,
		mapped:    mapped,
	}, nil
}

// Close unmaps the payload file. The Artifact must not be used
// afterward.
func (a *Artifact) Close() error {
	return a.mapped.Close()
}

// ReadList returns the records of posting list listID. The returned
// Record.Code slices alias the memory-mapped payload and are valid
// only until Close.
func (a *Artifact) ReadList(listID int) ([]Record, error) {
	if listID < 0 || listID >= len(a.Lists) {
		return nil, fmt.Errorf("diskstore: list id %d out of range [0,%d)", listID, len(a.Lists))
	}
	meta := a.Lists[listID]
	if meta.Length == 0 {
		return nil, nil
	}

	data := a.mapped.Bytes()
	recSize := RecordSize(a.Header.CodeSize)
	start := meta.Offset
	end := start + meta.Length*recSize
	if start < 0 || end > int64(len(data)) {
		return nil, fmt.Errorf("%w: list %d offset/length out of bounds of payload", errCorruptSentinel, listID)
	}

	buf := data[start:end]
	records := make([]Record, meta.Length)
	for i := range records {
		id, code, rest := DecodeRecord(buf, a.Header.CodeSize)
		records[i] = Record{ID: id, Code: code}
		buf = rest
	}
	return records, nil
}

// Centroid returns the centroid vector for listID, a sub-slice of the
// flattened centroid table.
func (a *Artifact) Centroid(listID int) []float32 {
	d := a.Header.Dimension
	return a.Centroids[listID*d : (listID+1)*d]
}
