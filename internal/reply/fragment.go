package reply

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// ErrLineTooLong is returned by FragmentParser for bodies it refuses to scan.
var ErrLineTooLong = errors.New("reply: line exceeds maximum length")

// Parser is a best-effort quote stripper consulted before the line heuristic.
// A Parser may fail; the Extractor then falls back to the heuristic alone.
type Parser interface {
	Parse(body string) (string, error)
}

// MaxParseLine bounds the length of a single line the fragment parser accepts.
const MaxParseLine = 64 * 1024

var (
	wrappedHeaderRe = regexp.MustCompile(`(?sm)^On\s.+?wrote:$`)
	quoteHeaderRe   = regexp.MustCompile(`^On .*wrote:$`)
	signatureRe     = regexp.MustCompile(`^(--|__|-\w)|^Sent from my (\w+\s*){1,3}$`)
)

// FragmentParser splits a body into quoted, signature and plain fragments and
// keeps the fragments a reader would see. Reading bottom-up, quoted and
// signature fragments are hidden until the first plain fragment is found;
// anything above that stays visible.
type FragmentParser struct{}

type fragment struct {
	lines     []string // bottom-up
	quoted    bool
	signature bool
	hidden    bool
}

func (f *fragment) text() string {
	out := make([]string, len(f.lines))
	for i, line := range f.lines {
		out[len(f.lines)-1-i] = line
	}
	return strings.Join(out, "\n")
}

type fragmentScan struct {
	current      *fragment
	done         []*fragment
	foundVisible bool
}

func (FragmentParser) Parse(body string) (string, error) {
	body = strings.ReplaceAll(body, "\r\n", "\n")

	// Some clients wrap the "On ... wrote:" header over several lines.
	if m := wrappedHeaderRe.FindString(body); m != "" {
		body = strings.Replace(body, m, strings.ReplaceAll(m, "\n", " "), 1)
	}

	lines := strings.Split(body, "\n")
	s := &fragmentScan{}
	for i := len(lines) - 1; i >= 0; i-- {
		if len(lines[i]) > MaxParseLine {
			return "", ErrLineTooLong
		}
		s.scan(lines[i])
	}
	s.finish()

	var visible []string
	for i := len(s.done) - 1; i >= 0; i-- {
		if !s.done[i].hidden {
			visible = append(visible, s.done[i].text())
		}
	}
	return strings.TrimRightFunc(strings.Join(visible, "\n"), unicode.IsSpace), nil
}

func (s *fragmentScan) scan(line string) {
	if !signatureRe.MatchString(strings.TrimSpace(line)) {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		line = strings.TrimLeftFunc(line, unicode.IsSpace)
	}
	quoted := strings.HasPrefix(line, ">")

	// A blank line above a fragment that opens with a signature marker closes
	// that fragment as a signature.
	if s.current != nil && strings.TrimSpace(line) == "" {
		top := strings.TrimSpace(s.current.lines[len(s.current.lines)-1])
		if signatureRe.MatchString(top) {
			s.current.signature = true
			s.finish()
		}
	}

	if s.current != nil && (s.current.quoted == quoted ||
		(s.current.quoted && (quoteHeaderRe.MatchString(line) || line == ""))) {
		s.current.lines = append(s.current.lines, line)
		return
	}
	s.finish()
	s.current = &fragment{quoted: quoted, lines: []string{line}}
}

func (s *fragmentScan) finish() {
	f := s.current
	if f == nil {
		return
	}
	if !s.foundVisible {
		if f.quoted || f.signature || strings.TrimSpace(f.text()) == "" {
			f.hidden = true
		} else {
			s.foundVisible = true
		}
	}
	s.done = append(s.done, f)
	s.current = nil
}
