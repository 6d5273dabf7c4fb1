// Package sanitize removes markup and client boilerplate from email text.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Profile selects which characters survive the final character filter.
type Profile int

const (
	// Unicode keeps printable characters of every script plus newlines.
	Unicode Profile = iota
	// Latin keeps printable ASCII plus newlines and turns other whitespace
	// into spaces. It erases non-Latin text, including localized reply
	// headers, so it is opt-in.
	Latin
)

func (p Profile) String() string {
	if p == Latin {
		return "latin"
	}
	return "unicode"
}

// ParseProfile maps a config value to a Profile. Empty means Unicode.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unicode":
		return Unicode, nil
	case "latin", "ascii":
		return Latin, nil
	default:
		return Unicode, fmt.Errorf("unknown sanitize profile %q", s)
	}
}

var (
	tagRe = regexp.MustCompile(`<[^>]*>`)

	entities = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)

	// Removed in order. Banners may span lines.
	boilerplate = []*regexp.Regexp{
		regexp.MustCompile(`(?is)Some people who received this message don[’']t often get email from .+?Learn why this is important`),
		regexp.MustCompile(`(?is)You don[’']t often get email from .+?Learn why this is important`),
		regexp.MustCompile(`\[ at https://aka\.ms/LearnAboutSenderIdentification \]`),
		regexp.MustCompile(`(?i).+?reacted via Gmail`),
		regexp.MustCompile(`.+?已通过 Gmail\s*做出回应`),
		regexp.MustCompile(`.+?님이 Gmail\s*을 통해 반응함`),
		regexp.MustCompile(`\d{4}年\d{1,2}月\d{1,2}日 \d{2}:\d{2}，.+?写道：`),
		regexp.MustCompile(`At \d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}, ".+?" wrote:`),
	}
)

type Sanitizer struct {
	profile Profile
}

func New(p Profile) *Sanitizer {
	return &Sanitizer{profile: p}
}

func (s *Sanitizer) Profile() Profile { return s.profile }

// Sanitize strips tags, decodes the common entities, removes banner and
// reaction boilerplate and filters characters according to the profile.
func (s *Sanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	text = tagRe.ReplaceAllString(text, "")
	text = entities.Replace(text)
	for _, re := range boilerplate {
		text = re.ReplaceAllString(text, "")
	}
	if s.profile == Latin {
		return filterLatin(text)
	}
	return filterUnicode(text)
}

func filterUnicode(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n':
			b.WriteRune(r)
		case r == utf8.RuneError:
			// invalid UTF-8
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case unicode.IsPrint(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

func filterLatin(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n' || (r >= 0x20 && r <= 0x7e):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return b.String()
}
