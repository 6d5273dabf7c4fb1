// Package classifier assigns cleaned email text to a topical category by
// keyword frequency.
package classifier

import (
	"regexp"
	"strings"

	"github.com/mailsift/mailsift/internal/model"
)

type matcher struct {
	keyword string
	re      *regexp.Regexp
}

// Classifier scores text against a Table. It is safe for concurrent use.
type Classifier struct {
	table    *Table
	matchers [][]matcher
}

// New compiles the keyword matchers of table. A nil table means Default().
func New(table *Table) *Classifier {
	if table == nil {
		table = Default()
	}
	c := &Classifier{table: table, matchers: make([][]matcher, len(table.categories))}
	for i, cat := range table.categories {
		for _, kw := range cat.Keywords {
			c.matchers[i] = append(c.matchers[i], matcher{
				keyword: kw,
				re:      regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`),
			})
		}
	}
	return c
}

func (c *Classifier) Table() *Table { return c.table }

// CategoryScore is one category's normalized score for a text.
type CategoryScore struct {
	Category string   `json:"category"`
	Score    float64  `json:"score"`
	Matched  []string `json:"matched_keywords"`
}

// Scores returns every category's score in table order. A category's score
// is its whole-word keyword hits in the lowercased subject and content,
// divided by the whitespace token count, times 100.
func (c *Classifier) Scores(subject, content string) []CategoryScore {
	text := strings.ToLower(subject + " " + content)
	tokens := len(strings.Fields(text))

	scores := make([]CategoryScore, len(c.table.categories))
	for i, cat := range c.table.categories {
		scores[i].Category = cat.Name
		if tokens == 0 {
			continue
		}
		hits := 0
		for _, m := range c.matchers[i] {
			if n := len(m.re.FindAllStringIndex(text, -1)); n > 0 {
				hits += n
				scores[i].Matched = append(scores[i].Matched, m.keyword)
			}
		}
		scores[i].Score = float64(hits) / float64(tokens) * 100
	}
	return scores
}

// Classify picks the first category with the strictly highest positive
// score. Text no category scores on is uncategorized with confidence 0.
func (c *Classifier) Classify(subject, content string) model.ClassificationResult {
	result := model.ClassificationResult{Category: model.Uncategorized, MatchedKeywords: []string{}}
	best := 0.0
	for _, s := range c.Scores(subject, content) {
		if s.Score > best {
			best = s.Score
			result.Category = s.Category
			result.Confidence = s.Score
			result.MatchedKeywords = s.Matched
		}
	}
	return result
}
