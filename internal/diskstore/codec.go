// Package diskstore implements the vector codec and on-disk inverted-list
// store (component C1): the binary layout shared by the {base}.index
// directory file and the {base}.ivfdata payload file, plus the
// in-memory inverted lists a sub-index builds before it is merged onto
// disk.
package diskstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/dtsim/ivfshard/internal/ivferrors"
)

var errCorruptSentinel = ivferrors.ErrCorrupt

// magic identifies an {base}.index file. Spells "IVFD" in ASCII.
const magic = uint32(0x49564644)

const formatVersion = uint32(1)

// Header is the fixed-size metadata block at the front of an
// {base}.index file.
type Header struct {
	Dimension  int
	Nlist      int
	CodeSize   int
	IsTrained  bool
	Ntotal     int64
	IvfdataRef string // path to the payload file, relative to the index file's directory
}

// ListMeta records where one posting list's records live inside the
// companion .ivfdata file.
type ListMeta struct {
	Offset int64
	Length int64 // number of records, not bytes
}

// WriteIndex writes the header, the list offset/length table, and the
// centroid table (flattened float32 vectors, one per list) to w.
func WriteIndex(w io.Writer, h Header, lists []ListMeta, centroids []float32) error {
	if len(lists) != h.Nlist {
		return fmt.Errorf("diskstore: list table length %d does not match Nlist %d", len(lists), h.Nlist)
	}
	if len(centroids) != h.Nlist*h.Dimension {
		return fmt.Errorf("diskstore: centroid table length %d does not match Nlist*Dimension %d", len(centroids), h.Nlist*h.Dimension)
	}

	fields := []any{
		magic,
		formatVersion,
		uint32(h.Dimension),
		uint32(h.Nlist),
		uint32(h.CodeSize),
		boolToUint32(h.IsTrained),
		uint64(h.Ntotal),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("diskstore: write header: %w", err)
		}
	}

	refBytes := []byte(h.IvfdataRef)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(refBytes))); err != nil {
		return fmt.Errorf("diskstore: write ivfdata ref length: %w", err)
	}
	if _, err := w.Write(refBytes); err != nil {
		return fmt.Errorf("diskstore: write ivfdata ref: %w", err)
	}

	for _, l := range lists {
		if err := binary.Write(w, binary.LittleEndian, uint64(l.Offset)); err != nil {
			return fmt.Errorf("diskstore: write list offset: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(l.Length)); err != nil {
			return fmt.Errorf("diskstore: write list length: %w", err)
		}
	}

	for _, c := range centroids {
		if err := binary.Write(w, binary.LittleEndian, c); err != nil {
			return fmt.Errorf("diskstore: write centroid: %w", err)
		}
	}

	return nil
}

// ReadIndex parses an {base}.index file previously written by
// WriteIndex, returning the header, the list table, and the flattened
// centroid table.
func ReadIndex(r io.Reader) (Header, []ListMeta, []float32, error) {
	var h Header

	var gotMagic, version, dim, nlist, codeSize, trained uint32
	var ntotal uint64

	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return h, nil, nil, fmt.Errorf("diskstore: read magic: %w", err)
	}
	if gotMagic != magic {
		return h, nil, nil, fmt.Errorf("%w: bad magic %#x", errCorruptSentinel, gotMagic)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return h, nil, nil, fmt.Errorf("diskstore: read version: %w", err)
	}
	if version != formatVersion {
		return h, nil, nil, fmt.Errorf("%w: unsupported version %d", errCorruptSentinel, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return h, nil, nil, fmt.Errorf("diskstore: read dimension: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &nlist); err != nil {
		return h, nil, nil, fmt.Errorf("diskstore: read nlist: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &codeSize); err != nil {
		return h, nil, nil, fmt.Errorf("diskstore: read code size: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &trained); err != nil {
		return h, nil, nil, fmt.Errorf("diskstore: read trained flag: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &ntotal); err != nil {
		return h, nil, nil, fmt.Errorf("diskstore: read ntotal: %w", err)
	}

	var refLen uint32
	if err := binary.Read(r, binary.LittleEndian, &refLen); err != nil {
		return h, nil, nil, fmt.Errorf("diskstore: read ivfdata ref length: %w", err)
	}
	refBytes := make([]byte, refLen)
	if _, err := io.ReadFull(r, refBytes); err != nil {
		return h, nil, nil, fmt.Errorf("diskstore: read ivfdata ref: %w", err)
	}

	h = Header{
		Dimension:  int(dim),
		Nlist:      int(nlist),
		CodeSize:   int(codeSize),
		IsTrained:  trained != 0,
		Ntotal:     int64(ntotal),
		IvfdataRef: string(refBytes),
	}

	lists := make([]ListMeta, nlist)
	for i := range lists {
		var off, length uint64
		if err := binary.Read(r, binary.LittleEndian, &off); err != nil {
			return h, nil, nil, fmt.Errorf("diskstore: read list offset %d: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return h, nil, nil, fmt.Errorf("diskstore: read list length %d: %w", i, err)
		}
		lists[i] = ListMeta{Offset: int64(off), Length: int64(length)}
	}

	centroids := make([]float32, int(nlist)*int(dim))
	for i := range centroids {
		if err := binary.Read(r, binary.LittleEndian, &centroids[i]); err != nil {
			return h, nil, nil, fmt.Errorf("diskstore: read centroid %d: %w", i, err)
		}
	}

	return h, lists, centroids, nil
}

// RecordSize returns the on-disk size in bytes of one (id, code) record
// for the given code size.
func RecordSize(codeSize int) int64 {
	return 8 + int64(codeSize) // int64 id + code bytes
}

// EncodeRecord appends the binary form of one posting-list record (a
// vector id followed by its flat code) to dst.
func EncodeRecord(dst []byte, id int64, code []byte) []byte {
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], uint64(id))
	dst = append(dst, idBuf[:]...)
	dst = append(dst, code...)
	return dst
}

// DecodeRecord reads one (id, code) record from buf, returning the code
// as a sub-slice of buf (no copy).
func DecodeRecord(buf []byte, codeSize int) (id int64, code []byte, rest []byte) {
	id = int64(binary.LittleEndian.Uint64(buf[:8]))
	code = buf[8 : 8+codeSize]
	rest = buf[8+codeSize:]
	return id, code, rest
}

// EncodeFlat converts a float32 vector into its Flat-compression code
// (the raw vector bytes, little-endian).
func EncodeFlat(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeFlat converts a Flat-compression code back into a float32
// vector. The returned slice does not alias code.
func DecodeFlat(code []byte) []float32 {
	v := make([]float32, len(code)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(code[i*4:]))
	}
	return v
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
