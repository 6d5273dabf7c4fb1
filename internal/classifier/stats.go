package classifier

import (
	"sort"

	"github.com/mailsift/mailsift/internal/model"
)

const topKeywordsPerCategory = 5

type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

type Stats struct {
	CategoryCounts        map[string]int            `json:"category_counts"`
	CategoryDescriptions  map[string]string         `json:"category_descriptions"`
	ConfidenceByCategory  map[string]float64        `json:"confidence_by_category"`
	TopKeywordsByCategory map[string][]KeywordCount `json:"top_keywords_by_category"`
	TotalEmails           int                       `json:"total_emails"`
	CategorizedEmails     int                       `json:"categorized_emails"`
}

// Stats summarizes already classified emails against the classifier's table.
func (c *Classifier) Stats(emails []model.AnalyzedEmail) Stats {
	s := Stats{
		CategoryCounts:        map[string]int{},
		CategoryDescriptions:  map[string]string{},
		ConfidenceByCategory:  map[string]float64{},
		TopKeywordsByCategory: map[string][]KeywordCount{},
		TotalEmails:           len(emails),
	}
	for _, cat := range c.table.categories {
		s.CategoryDescriptions[cat.Name] = cat.Description
	}

	confidenceSum := map[string]float64{}
	keywordHits := map[string]map[string]int{}
	for _, e := range emails {
		cat := e.Classification.Category
		s.CategoryCounts[cat]++
		confidenceSum[cat] += e.Classification.Confidence
		if cat == model.Uncategorized {
			continue
		}
		s.CategorizedEmails++
		if keywordHits[cat] == nil {
			keywordHits[cat] = map[string]int{}
		}
		for _, kw := range e.Classification.MatchedKeywords {
			keywordHits[cat][kw]++
		}
	}

	for cat, n := range s.CategoryCounts {
		s.ConfidenceByCategory[cat] = confidenceSum[cat] / float64(n)
	}
	for cat, hits := range keywordHits {
		s.TopKeywordsByCategory[cat] = topKeywords(hits, topKeywordsPerCategory)
	}
	return s
}

func topKeywords(hits map[string]int, n int) []KeywordCount {
	out := make([]KeywordCount, 0, len(hits))
	for kw, count := range hits {
		out = append(out, KeywordCount{Keyword: kw, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Keyword < out[j].Keyword
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
