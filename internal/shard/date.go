package shard

import (
	"fmt"
	"strings"

	"gitlab.com/metakeule/fmtdate"

	"github.com/dtsim/ivfshard/internal/isodate"
	"github.com/dtsim/ivfshard/internal/ivferrors"
)

// extractDate pulls the single date substring out of name and validates
// it is a real calendar date. A name with no date substring is not an
// error: it returns ("", nil), and the shard it names is mounted with
// no date of its own, addressable only by unrestricted (unbounded)
// queries - see inRange. A name with more than one date-shaped
// substring is ErrAmbiguousDate, since the manager would otherwise have
// no principled way to pick one for range routing.
func extractDate(name string) (string, error) {
	matches := isodate.FindAll(name)
	if len(matches) == 0 {
		return "", nil
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("%w: %q", ivferrors.ErrAmbiguousDate, name)
	}

	raw := strings.ReplaceAll(matches[0], "/", "-")
	if _, err := fmtdate.Parse("YYYY-MM-DD", raw); err != nil {
		return "", fmt.Errorf("%w: %q is not a valid calendar date", ivferrors.ErrInvalidName, raw)
	}
	return raw, nil
}

// inRange reports whether date falls within [start, end] using plain
// lexicographic string comparison: ISO dates sort correctly as
// strings. A shard with no date of its own (date == "") matches only
// the fully unbounded query, per the addressing rule in extractDate.
func inRange(date, start, end string) bool {
	if date == "" {
		return start == "" && end == ""
	}
	if start != "" && date < start {
		return false
	}
	if end != "" && date > end {
		return false
	}
	return true
}
