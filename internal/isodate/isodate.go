// Package isodate holds the one ISO-calendar-date pattern the shard
// naming convention is built on, shared by the disk merger (grouping
// sub-indexes by date) and the shard manager (routing queries by date).
package isodate

import "regexp"

// Pattern matches an ISO calendar date embedded anywhere in a string,
// with either '-' or '/' as the separator between fields.
var Pattern = regexp.MustCompile(`\d{4}[-/]\d{2}[-/]\d{2}`)

// FindAll returns every non-overlapping match of Pattern in s.
func FindAll(s string) []string {
	return Pattern.FindAllString(s, -1)
}
