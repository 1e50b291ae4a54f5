package rag

import (
	"strings"
	"unicode/utf8"
)

// minDuplicateLen is the rune length a fragment must exceed before it can be
// treated as a repeat.
const minDuplicateLen = 5

// Accumulator collects streamed fragments. With suppression enabled, a
// fragment longer than minDuplicateLen that already ends the accumulated text
// is dropped; some models resend their last fragment.
type Accumulator struct {
	b        strings.Builder
	suppress bool
}

func NewAccumulator(suppress bool) *Accumulator {
	return &Accumulator{suppress: suppress}
}

// Push records fragment and reports whether it should be emitted.
func (a *Accumulator) Push(fragment string) bool {
	if a.suppress && utf8.RuneCountInString(fragment) > minDuplicateLen && strings.HasSuffix(a.b.String(), fragment) {
		return false
	}
	a.b.WriteString(fragment)
	return true
}

func (a *Accumulator) String() string { return a.b.String() }
