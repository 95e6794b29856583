package diskstore

import "fmt"

// Record is one (vector id, code) entry in a posting list.
type Record struct {
	ID   int64
	Code []byte
}

// InlineLists holds posting lists entirely in memory while a sub-index
// is being built. Its ownership can be transferred wholesale to a
// merge target via TakeInvLists, mirroring the move semantics the
// on-disk merger relies on: after the transfer, the source is left
// holding empty lists rather than a half-copied structure.
type InlineLists struct {
	dimension int
	codeSize  int
	lists     [][]Record
}

// NewInlineLists allocates an empty set of nlist posting lists for
// vectors of the given dimension, stored with Flat compression
// (codeSize = dimension*4).
func NewInlineLists(nlist, dimension int) *InlineLists {
	return &InlineLists{
		dimension: dimension,
		codeSize:  dimension * 4,
		lists:     make([][]Record, nlist),
	}
}

// Dimension returns the vector dimension these lists were built for.
func (l *InlineLists) Dimension() int { return l.dimension }

// CodeSize returns the per-record code size in bytes.
func (l *InlineLists) CodeSize() int { return l.codeSize }

// NLists returns the number of posting lists (equal to nlist).
func (l *InlineLists) NLists() int { return len(l.lists) }

// Add appends a vector's code to the given list. listID must be in
// [0, NLists()).
func (l *InlineLists) Add(listID int, id int64, vec []float32) error {
	if listID < 0 || listID >= len(l.lists) {
		return fmt.Errorf("diskstore: list id %d out of range [0,%d)", listID, len(l.lists))
	}
	if len(vec) != l.dimension {
		return fmt.Errorf("diskstore: vector dimension %d does not match %d", len(vec), l.dimension)
	}
	l.lists[listID] = append(l.lists[listID], Record{ID: id, Code: EncodeFlat(vec)})
	return nil
}

// List returns the records currently held in listID without copying.
func (l *InlineLists) List(listID int) []Record {
	if listID < 0 || listID >= len(l.lists) {
		return nil
	}
	return l.lists[listID]
}

// Ntotal returns the total number of records across all lists.
func (l *InlineLists) Ntotal() int64 {
	var n int64
	for _, list := range l.lists {
		n += int64(len(list))
	}
	return n
}

// TakeInvLists transfers ownership of every posting list to the
// caller and resets the receiver to empty lists of the same shape.
// After this call the receiver behaves as a freshly built, empty
// InlineLists: it must not be treated as still holding the data it
// held before the call.
func (l *InlineLists) TakeInvLists() [][]Record {
	taken := l.lists
	l.lists = make([][]Record, len(taken))
	return taken
}
