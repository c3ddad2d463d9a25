// Package engine expands stored events into the concrete occurrences visible
// in a date window and detects time conflicts between occurrences.
//
// Everything here is a pure function of its arguments: no I/O, no shared
// state, and inputs are never modified. Returned occurrences are deep copies.
package engine
