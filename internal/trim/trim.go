// Package trim drops the salutation line and the closing/signature block of a
// message.
package trim

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	DefaultGreetings = []string{
		"hi", "hello", "dear", "hey", "greetings",
		"good morning", "good afternoon", "good evening",
	}
	DefaultClosings = []string{
		"thanks", "thank you", "regards", "best", "cheers", "sincerely",
		"sent from my", "yours truly", "warm regards", "kind regards",
		"respectfully", "with appreciation", "with gratitude",
	}
)

type Trimmer struct {
	greetings []string
	closings  []string
}

// New returns a trimmer with the default word lists.
func New() *Trimmer {
	return NewWithWords(DefaultGreetings, DefaultClosings)
}

func NewWithWords(greetings, closings []string) *Trimmer {
	return &Trimmer{greetings: lower(greetings), closings: lower(closings)}
}

func lower(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Lines removes a leading greeting line, cuts at the first closing line and
// collapses runs of three or more blank lines into one. A lone line is never
// treated as a greeting.
func (t *Trimmer) Lines(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	if len(lines) > 1 && t.isGreeting(lines[0]) {
		lines = lines[1:]
	}

	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		if t.isClosing(line) {
			break
		}
		if strings.TrimSpace(line) == "" {
			blank++
			continue
		}
		if blank > 0 {
			n := blank
			if n >= 3 {
				n = 1
			}
			for i := 0; i < n; i++ {
				out = append(out, "")
			}
			blank = 0
		}
		out = append(out, line)
	}
	return out
}

// Text trims text and joins what is left into a single line with single
// spaces.
func (t *Trimmer) Text(text string) string {
	kept := t.Lines(strings.Split(text, "\n"))
	return strings.Join(strings.Fields(strings.Join(kept, "\n")), " ")
}

func (t *Trimmer) isGreeting(line string) bool {
	l := strings.ToLower(strings.TrimSpace(line))
	for _, g := range t.greetings {
		if l == g || strings.HasPrefix(l, g+",") || strings.HasPrefix(l, g+" ") {
			return true
		}
	}
	return false
}

// isClosing matches closing words at the start of a line. The word must end
// there, so "Thanksgiving" or "Bestow" are content.
func (t *Trimmer) isClosing(line string) bool {
	l := strings.ToLower(strings.TrimSpace(line))
	for _, c := range t.closings {
		if !strings.HasPrefix(l, c) {
			continue
		}
		rest := l[len(c):]
		if rest == "" {
			return true
		}
		if r, _ := utf8.DecodeRuneInString(rest); !unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
