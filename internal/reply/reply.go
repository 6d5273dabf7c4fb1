// Package reply extracts the newly written part of an email body, dropping
// quoted history, forwarded blocks and reply headers.
package reply

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mailsift/mailsift/internal/separator"
)

const (
	DefaultMaxBlankRun   = 3
	DefaultMinKeptRatio  = 0.5
	DefaultMinProseChars = 5
	// Quoted lines up to this many characters that start with a letter after
	// the '>' are kept as new content.
	shortQuoteLimit = 10
)

var (
	shortQuoteRe = regexp.MustCompile(`^>\s*[A-Za-z]`)
	headerLineRe = regexp.MustCompile(`^[A-Z][a-z]+:\s*`)
)

// Options tunes the extractor. Negative numeric fields take the defaults;
// zero is a valid setting. Start from DefaultOptions.
type Options struct {
	// Parser is consulted first; nil means the line heuristic only.
	Parser     Parser
	Separators *separator.Ruleset

	// MaxBlankRun ends the scan once more than this many blank lines follow
	// each other. Zero stops at the first blank line.
	MaxBlankRun int
	// The truncation is undone when fewer than floor(MinKeptRatio * lines)
	// lines survive and none of them looks like prose. Zero disables the
	// guard.
	MinKeptRatio float64
	// A kept line counts as prose when it has more than MinProseChars
	// non-space characters and is not a "Header:" style line. Zero makes any
	// such line prose.
	MinProseChars int
}

// DefaultOptions returns the standard configuration with the fragment parser
// enabled.
func DefaultOptions() Options {
	return Options{
		Parser:        FragmentParser{},
		Separators:    separator.Default(),
		MaxBlankRun:   DefaultMaxBlankRun,
		MinKeptRatio:  DefaultMinKeptRatio,
		MinProseChars: DefaultMinProseChars,
	}
}

type Extractor struct {
	opts Options
}

func New(opts Options) *Extractor {
	if opts.Separators == nil {
		opts.Separators = separator.Default()
	}
	if opts.MaxBlankRun < 0 {
		opts.MaxBlankRun = DefaultMaxBlankRun
	}
	if opts.MinKeptRatio < 0 {
		opts.MinKeptRatio = DefaultMinKeptRatio
	}
	if opts.MinProseChars < 0 {
		opts.MinProseChars = DefaultMinProseChars
	}
	return &Extractor{opts: opts}
}

// Extract returns the visible reply text of body. It never fails: when the
// parser errors the heuristic runs alone, and when the heuristic cuts too
// much the pre-truncation text is kept.
func (e *Extractor) Extract(body string) string {
	if body == "" {
		return ""
	}
	text := strings.ReplaceAll(body, "\u00a0", " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	if e.opts.Parser != nil {
		if parsed, err := parseSafely(e.opts.Parser, text); err == nil {
			text = strings.TrimSpace(parsed)
		}
	}

	result := e.truncate(text)
	return e.opts.Separators.Cut(result)
}

func parseSafely(p Parser, text string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reply parser panicked: %v", r)
		}
	}()
	return p.Parse(text)
}

// truncate runs the line heuristic and applies the over-truncation guard.
func (e *Extractor) truncate(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	blankRun := 0
	prose := false

	for _, line := range lines {
		if _, ok := e.opts.Separators.MatchLine(line); ok {
			break
		}

		trimmed := strings.TrimSpace(line)
		if isQuoted(trimmed) {
			continue
		}

		if trimmed == "" {
			blankRun++
			if blankRun > e.opts.MaxBlankRun {
				break
			}
		} else {
			blankRun = 0
			if e.isProse(trimmed) {
				prose = true
			}
		}
		kept = append(kept, line)
	}

	if !prose && len(kept) < int(e.opts.MinKeptRatio*float64(len(lines))) {
		return text
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// isQuoted reports whether a trimmed line is quoted history to drop.
func isQuoted(trimmed string) bool {
	if !strings.HasPrefix(trimmed, ">") || len(trimmed) == 1 {
		return false
	}
	if utf8.RuneCountInString(trimmed) > shortQuoteLimit {
		return true
	}
	return !shortQuoteRe.MatchString(trimmed)
}

func (e *Extractor) isProse(trimmed string) bool {
	if headerLineRe.MatchString(trimmed) {
		return false
	}
	n := 0
	for _, r := range trimmed {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n > e.opts.MinProseChars
}
