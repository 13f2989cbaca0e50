// Package textmatch picks the closest option text for a fuzzy query.
package textmatch

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/cases"
)

// DefaultCutoff is the similarity a candidate must reach to be considered.
const DefaultCutoff = 0.6

// Match is a scored candidate.
type Match struct {
	Index int
	Text  string
	Score float64
}

// Fold normalizes s for comparison. Case is folded with Unicode rules and runs
// of whitespace collapse to one space; accents are kept, so "São" and "sao"
// differ by one rune.
func Fold(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

// Similarity returns the SequenceMatcher ratio of the folded forms of a and b,
// in the range [0, 1].
func Similarity(a, b string) float64 {
	return ratio(Fold(a), Fold(b))
}

func ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	m := difflib.NewMatcher(splitRunes(a), splitRunes(b))
	return m.Ratio()
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// Best returns the single candidate most similar to query with a score of at
// least cutoff. On equal scores the earlier candidate wins, which callers must
// treat as unspecified. ok is false when nothing reaches the cutoff.
func Best(query string, candidates []string, cutoff float64) (Match, bool) {
	q := Fold(query)
	qr := splitRunes(q)

	best := Match{Index: -1}
	for i, c := range candidates {
		cr := splitRunes(Fold(c))
		m := difflib.NewMatcher(cr, qr)
		// Cheap upper bounds first.
		if m.RealQuickRatio() < cutoff || m.QuickRatio() < cutoff {
			continue
		}
		score := m.Ratio()
		if score >= cutoff && (best.Index < 0 || score > best.Score) {
			best = Match{Index: i, Text: c, Score: score}
		}
	}
	return best, best.Index >= 0
}
