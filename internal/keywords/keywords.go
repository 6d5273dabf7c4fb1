// Package keywords counts content words across email bodies, grouping
// inflected forms under their English stem.
package keywords

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kljensen/snowball"
)

// DefaultTop is the keyword count reported when callers ask for n <= 0.
const DefaultTop = 20

var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

var stopwords = toSet(
	"a", "about", "above", "after", "again", "against", "all", "am", "an", "and",
	"any", "are", "aren", "as", "at", "be", "because", "been", "before", "being",
	"below", "between", "both", "but", "by", "can", "could", "couldn", "did",
	"didn", "do", "does", "doesn", "doing", "don", "down", "during", "each",
	"few", "for", "from", "further", "had", "hadn", "has", "hasn", "have",
	"haven", "having", "he", "her", "here", "hers", "herself", "him", "himself",
	"his", "how", "i", "if", "in", "into", "is", "isn", "it", "its", "itself",
	"just", "ll", "me", "might", "more", "most", "must", "my", "myself", "no",
	"nor", "not", "now", "of", "off", "on", "once", "only", "or", "other",
	"our", "ours", "ourselves", "out", "over", "own", "re", "same", "shan",
	"she", "should", "shouldn", "so", "some", "such", "than", "that", "the",
	"their", "theirs", "them", "themselves", "then", "there", "these", "they",
	"this", "those", "through", "to", "too", "under", "until", "up", "ve",
	"very", "was", "wasn", "we", "were", "weren", "what", "when", "where",
	"which", "while", "who", "whom", "why", "will", "with", "won", "would",
	"wouldn", "you", "your", "yours", "yourself", "yourselves",
	// mailbox boilerplate
	"uoft", "toronto", "university", "college", "campus",
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// IsStopword reports whether the lowercased word is excluded from counts.
func IsStopword(word string) bool {
	_, ok := stopwords[strings.ToLower(word)]
	return ok
}

type Keyword struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Weight is one word-cloud entry; Weight is Count scaled so the most
// frequent word is 1.
type Weight struct {
	Text   string  `json:"text"`
	Count  int     `json:"count"`
	Weight float64 `json:"weight"`
}

// Counter accumulates keyword counts. It is not safe for concurrent use.
type Counter struct {
	stems map[string]map[string]int
	total map[string]int
}

func NewCounter() *Counter {
	return &Counter{stems: map[string]map[string]int{}, total: map[string]int{}}
}

// Add tokenizes text and counts every non-stopword token of two or more
// runes that is not purely numeric.
func (c *Counter) Add(text string) {
	for _, tok := range tokenRegex.FindAllString(strings.ToLower(text), -1) {
		if utf8.RuneCountInString(tok) < 2 || numeric(tok) {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		c.AddWord(tok)
	}
}

// AddWord counts one already-tokenized word without stopword filtering.
func (c *Counter) AddWord(word string) {
	stem := Stem(word)
	if c.stems[stem] == nil {
		c.stems[stem] = map[string]int{}
	}
	c.stems[stem][word]++
	c.total[stem]++
}

// Top returns the n most frequent stem groups, each reported under its most
// frequent surface form. Ties break alphabetically.
func (c *Counter) Top(n int) []Keyword {
	if n <= 0 {
		n = DefaultTop
	}
	out := make([]Keyword, 0, len(c.total))
	for stem, count := range c.total {
		out = append(out, Keyword{Word: surface(c.stems[stem]), Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Weights returns Top(n) as word-cloud entries.
func (c *Counter) Weights(n int) []Weight {
	return WeightsOf(c.Top(n))
}

func WeightsOf(top []Keyword) []Weight {
	out := make([]Weight, 0, len(top))
	if len(top) == 0 {
		return out
	}
	max := top[0].Count
	for _, k := range top {
		out = append(out, Weight{Text: k.Word, Count: k.Count, Weight: float64(k.Count) / float64(max)})
	}
	return out
}

// Top counts keywords across texts.
func Top(texts []string, n int) []Keyword {
	c := NewCounter()
	for _, t := range texts {
		c.Add(t)
	}
	return c.Top(n)
}

// Stem returns the English snowball stem of word, or word itself if the
// stemmer rejects it.
func Stem(word string) string {
	stemmed, err := snowball.Stem(word, "english", true)
	if err != nil || stemmed == "" {
		return word
	}
	return stemmed
}

func surface(forms map[string]int) string {
	best, bestN := "", 0
	for w, n := range forms {
		if n > bestN || (n == bestN && w < best) {
			best, bestN = w, n
		}
	}
	return best
}

func numeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
