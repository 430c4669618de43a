package rag

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// AssembledContext is the bounded, ranked passage set sent to generation.
type AssembledContext struct {
	Passages []Passage
	// Chars is the rune count of all passage texts in the context.
	Chars int
	// Duplicates counts passages removed as near-identical copies.
	Duplicates int
	// Dropped counts passages removed because they did not fit the budget.
	Dropped int
}

// Empty reports whether there is nothing to ground an answer on.
func (c AssembledContext) Empty() bool {
	return len(c.Passages) == 0
}

// Assembler builds a prompt context bounded by a rune budget.
// A budget of zero or less disables the bound.
type Assembler struct {
	budget int
}

// NewAssembler creates an assembler with the given rune budget.
func NewAssembler(budget int) *Assembler {
	return &Assembler{budget: budget}
}

// Budget returns the configured rune budget.
func (a *Assembler) Budget() int {
	return a.budget
}

// Assemble de-duplicates and truncates ranked passages.
//
// Passages with blank text are discarded. Passages that share a document id
// and normalized text collapse to the highest-scoring instance, the earliest
// one winning ties. The survivors are kept in rank order and included while
// they fit the budget; the first passage that does not fit ends the context,
// so the output is always a prefix of the de-duplicated ranking. The only
// passage ever cut is a leading one that alone exceeds the budget.
func (a *Assembler) Assemble(passages []Passage) AssembledContext {
	ranked := a.dedupe(passages)
	var out AssembledContext
	out.Duplicates = countNonBlank(passages) - len(ranked)

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	for i, p := range ranked {
		n := utf8.RuneCountInString(p.Text)
		if a.budget > 0 && out.Chars+n > a.budget {
			if i == 0 {
				p.Text = truncateRunes(p.Text, a.budget)
				if p.Text == "" {
					out.Dropped = len(ranked)
					return out
				}
				p.Truncated = true
				out.Passages = append(out.Passages, p)
				out.Chars = utf8.RuneCountInString(p.Text)
				out.Dropped = len(ranked) - 1
				return out
			}
			out.Dropped = len(ranked) - i
			return out
		}
		out.Passages = append(out.Passages, p)
		out.Chars += n
	}
	return out
}

func (a *Assembler) dedupe(passages []Passage) []Passage {
	type key struct {
		doc  string
		text string
	}
	index := make(map[key]int, len(passages))
	kept := make([]Passage, 0, len(passages))
	for _, p := range passages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		k := key{doc: p.DocumentID, text: NormalizeText(p.Text)}
		if i, ok := index[k]; ok {
			if p.Score > kept[i].Score {
				kept[i] = p
			}
			continue
		}
		index[k] = len(kept)
		kept = append(kept, p)
	}
	return kept
}

func countNonBlank(passages []Passage) int {
	n := 0
	for _, p := range passages {
		if strings.TrimSpace(p.Text) != "" {
			n++
		}
	}
	return n
}

// NormalizeText lowercases text, replaces every non-alphanumeric rune with a
// space and collapses whitespace. Two passages are near-identical when their
// normalized forms match.
func NormalizeText(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// truncateRunes trims s and cuts it to at most n runes, backing off to the
// last word boundary when that still leaves text. The result is empty only
// when s is blank or n is not positive.
func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	cut := string([]rune(s)[:n])
	if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > 0 {
		if word := strings.TrimRightFunc(cut[:i], unicode.IsSpace); word != "" {
			return word
		}
	}
	return strings.TrimRightFunc(cut, unicode.IsSpace)
}

// Excerpt shortens text to at most n runes for display. A non-positive n
// returns the text unchanged.
func Excerpt(text string, n int) string {
	if n <= 0 {
		return strings.TrimSpace(text)
	}
	return truncateRunes(text, n)
}
