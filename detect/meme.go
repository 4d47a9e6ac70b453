// Package detect implements meme pattern matching over chat messages and the
// sliding-window burst triggers (per-meme hot moments and the aggregate wave).
package detect

// Kind identifies one of the recognized recurring chat phrases.
type Kind string

const (
	KindJiChang Kind = "ji_chang"
	KindSesin   Kind = "sesin"
	KindJjajang Kind = "jjajang"
	KindDjrg    Kind = "djrg"
	KindSdn     Kind = "sdn"
)

// fillerRunes may appear in any run between the syllables of a meme without
// breaking the match ("지ㅡㅡ창", "지~ 창").
var fillerRunes = map[rune]bool{
	'ㅡ': true,
	'~': true,
	'-': true,
	' ': true,
	'\t': true,
}

// Pattern matches one meme kind. A pattern carries one or more core forms
// (alternative spellings); a message matches if any form's syllables appear in
// order with only filler runes between them.
//
// This is a small explicit scanner rather than a regex: worst-case cost is
// O(len(text) * len(form)) and obvious.
type Pattern struct {
	Key         Kind
	DisplayName string
	forms       [][]rune
}

// NewPattern builds a pattern from its display name and core forms.
func NewPattern(key Kind, displayName string, forms ...string) *Pattern {
	p := &Pattern{Key: key, DisplayName: displayName}
	for _, f := range forms {
		p.forms = append(p.forms, []rune(f))
	}
	return p
}

// DefaultPatterns returns the meme set tracked for the target broadcast.
func DefaultPatterns() []*Pattern {
	return []*Pattern{
		NewPattern(KindJiChang, "지창", "지창"),
		NewPattern(KindSesin, "세신", "세신"),
		NewPattern(KindJjajang, "짜장면", "짜장면"),
		NewPattern(KindDjrg, "ㄷㅈㄹㄱ", "ㄷㅈㄹㄱ"),
		NewPattern(KindSdn, "ㅆㄷㄴ", "ㅆㄷㄴ", "쌋다나", "쌌다나"),
	}
}

// Match reports whether text contains the meme, tolerating filler runs
// between syllables.
func (p *Pattern) Match(text string) bool {
	runes := []rune(text)
	for _, form := range p.forms {
		if matchForm(runes, form) {
			return true
		}
	}
	return false
}

func matchForm(runes, form []rune) bool {
	if len(form) == 0 {
		return false
	}
	for i := range runes {
		if runes[i] != form[0] {
			continue
		}
		j, k := i+1, 1
		for k < len(form) && j < len(runes) {
			switch {
			case runes[j] == form[k]:
				j++
				k++
			case fillerRunes[runes[j]]:
				j++
			default:
				// A non-filler interloper breaks this candidate.
				k = -1
			}
			if k < 0 {
				break
			}
		}
		if k == len(form) {
			return true
		}
	}
	return false
}
