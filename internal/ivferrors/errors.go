// Package ivferrors collects the sentinel errors shared by the index,
// merge, and shard-management layers so callers can branch with
// errors.Is regardless of which component raised them.
package ivferrors

import "errors"

var (
	// ErrNotEmpty is returned when an operation requires an empty
	// destination directory and finds one that already has entries, and
	// when a base index that must be trained and empty is untrained or
	// already holds vectors.
	ErrNotEmpty = errors.New("ivfshard: directory is not empty")

	// ErrPathExists is returned when a build target already exists and
	// the operation does not overwrite.
	ErrPathExists = errors.New("ivfshard: path already exists")

	// ErrPathNotClear is returned when a merge destination collides
	// with a file that is neither absent nor a recognized stale member
	// of the merge itself.
	ErrPathNotClear = errors.New("ivfshard: destination path is not clear")

	// ErrInvalidName is returned when a shard or sub-index name fails
	// the naming convention the directory relies on for date routing.
	ErrInvalidName = errors.New("ivfshard: invalid name")

	// ErrAmbiguousDate is returned when a shard name contains more than
	// one ISO-date-shaped substring and the caller did not disambiguate.
	ErrAmbiguousDate = errors.New("ivfshard: ambiguous date in shard name")

	// ErrCorrupt is returned when an on-disk artifact fails a header or
	// structural check (bad magic, truncated payload, offset out of
	// range).
	ErrCorrupt = errors.New("ivfshard: corrupt index artifact")

	// ErrIOError wraps an underlying filesystem error encountered while
	// building, merging, or opening an artifact.
	ErrIOError = errors.New("ivfshard: io error")

	// ErrVectorizerError is returned when the embedding collaborator
	// fails or returns a response this service cannot use.
	ErrVectorizerError = errors.New("ivfshard: vectorizer error")

	// ErrShardAlreadyOnline is returned when AddShard is called with a
	// name the manager already serves.
	ErrShardAlreadyOnline = errors.New("ivfshard: shard already online")

	// ErrTimeout is returned when a search is abandoned before every
	// shard worker reports back; partial results may still be usable.
	ErrTimeout = errors.New("ivfshard: search timed out")
)
