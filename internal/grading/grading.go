// Package grading holds the answer comparators for interactive lesson blocks.
// Every function is pure: authored data and a submission in, a Result out.
package grading

import (
	"math"
	"sort"
	"strings"
)

// Result is a partial-credit score. Passed is set only when every unit is correct.
type Result struct {
	Correct int  `json:"correct"`
	Total   int  `json:"total"`
	Passed  bool `json:"passed"`
}

func newResult(correct, total int) Result {
	return Result{Correct: correct, Total: total, Passed: total > 0 && correct == total}
}

// Choice compares the selected option ids with the ids flagged correct as sets.
func Choice(selected []string, correct []string) Result {
	want := make(map[string]struct{}, len(correct))
	for _, id := range correct {
		want[id] = struct{}{}
	}
	got := make(map[string]struct{}, len(selected))
	hits := 0
	for _, id := range selected {
		if _, dup := got[id]; dup {
			continue
		}
		got[id] = struct{}{}
		if _, ok := want[id]; ok {
			hits++
		}
	}
	passed := len(want) > 0 && hits == len(want) && len(got) == len(want)
	return Result{Correct: hits, Total: len(want), Passed: passed}
}

// SequenceItem is an authored item with its 1-based rank in the correct order.
type SequenceItem struct {
	ID           string
	CorrectOrder int
}

// Sequencing scores a submitted order by exact positional equality.
func Sequencing(items []SequenceItem, submitted []string) Result {
	expected := make([]SequenceItem, len(items))
	copy(expected, items)
	sort.SliceStable(expected, func(i, j int) bool {
		return expected[i].CorrectOrder < expected[j].CorrectOrder
	})
	correct := 0
	for i, item := range expected {
		if i < len(submitted) && submitted[i] == item.ID {
			correct++
		}
	}
	return newResult(correct, len(expected))
}

// MatchPair is an authored left item and the right item it belongs to.
type MatchPair struct {
	LeftID  string
	RightID string
}

// Matching compares the arranged right-hand list against each left item's right id, position by position.
func Matching(pairs []MatchPair, arrangedRight []string) Result {
	correct := 0
	for i, p := range pairs {
		if i < len(arrangedRight) && arrangedRight[i] == p.RightID {
			correct++
		}
	}
	return newResult(correct, len(pairs))
}

// Blank is one authored gap of a fill-in-blank exercise.
type Blank struct {
	ID            string
	Answer        string
	Accepted      []string
	CaseSensitive bool
}

// Accepts reports whether the given answer fills the blank.
func (b Blank) Accepts(answer string) bool {
	answer = strings.TrimSpace(answer)
	candidates := append([]string{b.Answer}, b.Accepted...)
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if b.CaseSensitive {
			if answer == c {
				return true
			}
			continue
		}
		if strings.EqualFold(answer, c) {
			return true
		}
	}
	return false
}

// FillBlanks grades each blank against the answer submitted under its id.
func FillBlanks(blanks []Blank, answers map[string]string) Result {
	correct := 0
	for _, b := range blanks {
		if a, ok := answers[b.ID]; ok && b.Accepts(a) {
			correct++
		}
	}
	return newResult(correct, len(blanks))
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Region is a circular hotspot.
type Region struct {
	ID     string
	X, Y   float64
	Radius float64
}

// Hit reports whether p lands in the region. The boundary is inclusive.
func (r Region) Hit(p Point, tolerance float64) bool {
	d := math.Hypot(p.X-r.X, p.Y-r.Y)
	return d <= r.Radius+tolerance
}

// Hotspot grades clicks against regions. With allowMultiple every region must be hit at least once;
// otherwise exactly one click has to land in any region.
func Hotspot(regions []Region, clicks []Point, tolerance float64, allowMultiple bool) Result {
	if allowMultiple {
		matched := 0
		for _, r := range regions {
			for _, c := range clicks {
				if r.Hit(c, tolerance) {
					matched++
					break
				}
			}
		}
		return newResult(matched, len(regions))
	}

	landed := 0
	for _, c := range clicks {
		for _, r := range regions {
			if r.Hit(c, tolerance) {
				landed++
				break
			}
		}
	}
	if landed == 1 {
		return newResult(1, 1)
	}
	return newResult(0, 1)
}
