// Package vecid implements the compound vector id convention shared by
// every component that touches a VectorID: doc_id = vid / Divisor,
// sent_id = vid % Divisor.
package vecid

// Divisor is the compound id base: a vector id's low digits are the
// sentence index within its document, and the rest is the document id.
const Divisor = 10000

// DocID extracts the document id from a compound vector id.
func DocID(vid int64) int64 { return vid / Divisor }

// SentID extracts the sentence id from a compound vector id.
func SentID(vid int64) int64 { return vid % Divisor }

// Compound builds a vector id from a document id and sentence id.
func Compound(docID, sentID int64) int64 { return docID*Divisor + sentID }
