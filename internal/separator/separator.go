// Package separator finds the boundary between the new part of an email and
// the quoted or forwarded history below it.
//
// Rules are plain data. A Ruleset orders them by Kind (stable within a kind),
// and that order is the matching priority.
package separator

import (
	"sort"
	"strings"
)

// Match is the result of a whole-text search.
type Match struct {
	Rule   Rule
	Rank   int
	Offset int
	End    int
}

// Ruleset is an immutable ranked list of line rules and text rules.
type Ruleset struct {
	line []Rule
	text []Rule
}

var defaultRuleset = New(defaultLineRules, defaultTextRules)

// Default returns the built-in ruleset covering English, Chinese, German,
// French, Spanish, Japanese and Korean clients.
func Default() *Ruleset { return defaultRuleset }

// New builds a ruleset. Rules are copied and ranked by Kind.
func New(lineRules, textRules []Rule) *Ruleset {
	return &Ruleset{line: ranked(lineRules), text: ranked(textRules)}
}

func ranked(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Pattern != nil {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// WithRules returns a new ruleset extended with extra rules; the receiver is
// left untouched.
func (rs *Ruleset) WithRules(lineRules, textRules []Rule) *Ruleset {
	line := append(append([]Rule{}, rs.line...), lineRules...)
	text := append(append([]Rule{}, rs.text...), textRules...)
	return New(line, text)
}

// LineRules returns the line rules in priority order.
func (rs *Ruleset) LineRules() []Rule { return append([]Rule(nil), rs.line...) }

// TextRules returns the text rules in priority order.
func (rs *Ruleset) TextRules() []Rule { return append([]Rule(nil), rs.text...) }

// MatchLine reports the highest-priority line rule matching line.
func (rs *Ruleset) MatchLine(line string) (Rule, bool) {
	for _, r := range rs.line {
		if r.Pattern.MatchString(line) {
			return r, true
		}
	}
	return Rule{}, false
}

// ScanLines returns the index of the first line that matches a line rule.
func (rs *Ruleset) ScanLines(lines []string) (int, Rule, bool) {
	for i, line := range lines {
		if r, ok := rs.MatchLine(line); ok {
			return i, r, true
		}
	}
	return -1, Rule{}, false
}

// MatchText searches the whole text. The first text rule in rank order that
// matches anywhere wins, even if a lower-ranked rule matches earlier in the
// text.
func (rs *Ruleset) MatchText(text string) (Match, bool) {
	for i, r := range rs.text {
		if loc := r.Pattern.FindStringIndex(text); loc != nil {
			return Match{Rule: r, Rank: i, Offset: loc[0], End: loc[1]}, true
		}
	}
	return Match{}, false
}

// Cut keeps the text before the winning whole-text match, trimmed. Text with
// no match is returned trimmed.
func (rs *Ruleset) Cut(text string) string {
	if m, ok := rs.MatchText(text); ok {
		text = text[:m.Offset]
	}
	return strings.TrimSpace(text)
}
