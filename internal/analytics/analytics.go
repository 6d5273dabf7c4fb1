// Package analytics aggregates stored emails into the dashboard views:
// overall counts, category and sentiment breakdowns, timelines and keywords.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/mailsift/mailsift/internal/classifier"
	"github.com/mailsift/mailsift/internal/keywords"
	"github.com/mailsift/mailsift/internal/model"
	"github.com/mailsift/mailsift/internal/sentiment"
)

// Analyzer derives classification and sentiment for stored emails.
type Analyzer struct {
	classifier *classifier.Classifier
	sentiment  *sentiment.Scorer
}

// New returns an Analyzer. Nil arguments fall back to the built-in category
// table and lexicon.
func New(c *classifier.Classifier, s *sentiment.Scorer) *Analyzer {
	if c == nil {
		c = classifier.New(nil)
	}
	if s == nil {
		s = sentiment.Default()
	}
	return &Analyzer{classifier: c, sentiment: s}
}

func (a *Analyzer) Classifier() *classifier.Classifier { return a.classifier }

// Analyze classifies subject and content and scores the content's sentiment.
func (a *Analyzer) Analyze(emails []model.CleanedEmail) []model.AnalyzedEmail {
	return lo.Map(emails, func(e model.CleanedEmail, _ int) model.AnalyzedEmail {
		return model.AnalyzedEmail{
			CleanedEmail:   e,
			Classification: a.classifier.Classify(e.Subject, e.Content),
			Sentiment:      a.sentiment.Score(e.Content),
		}
	})
}

// CategoryStats summarizes the category assignment of emails.
func (a *Analyzer) CategoryStats(emails []model.AnalyzedEmail) classifier.Stats {
	return a.classifier.Stats(emails)
}

// FilterStream keeps the emails of one stream. An empty stream keeps all.
func FilterStream(emails []model.CleanedEmail, stream string) []model.CleanedEmail {
	if stream == "" {
		return emails
	}
	return lo.Filter(emails, func(e model.CleanedEmail, _ int) bool {
		return e.Stream == stream
	})
}

// Streams lists the distinct streams of emails, sorted.
func Streams(emails []model.CleanedEmail) []string {
	streams := lo.Uniq(lo.Map(emails, func(e model.CleanedEmail, _ int) string { return e.Stream }))
	sort.Strings(streams)
	return streams
}

type Overall struct {
	TotalEmails  int            `json:"total_emails"`
	DateRange    []string       `json:"date_range"`
	StreamCounts map[string]int `json:"stream_counts"`
	UniquePeople int            `json:"unique_people"`
}

// ComputeOverall counts emails, their date range, streams and distinct
// person names. Emails with an unparseable date do not affect the range.
func ComputeOverall(emails []model.AnalyzedEmail) Overall {
	o := Overall{
		TotalEmails: len(emails),
		DateRange:   []string{},
		StreamCounts: lo.CountValuesBy(emails, func(e model.AnalyzedEmail) string {
			return e.Stream
		}),
	}

	people := lo.Uniq(lo.FilterMap(emails, func(e model.AnalyzedEmail, _ int) (string, bool) {
		return e.PersonName, e.PersonName != ""
	}))
	o.UniquePeople = len(people)

	if min, max, ok := dateRange(emails); ok {
		o.DateRange = []string{min.Format(model.DateLayout), max.Format(model.DateLayout)}
	}
	return o
}

type Volume struct {
	Time  []string `json:"time"`
	Count []int    `json:"count"`
}

// VolumeTimeline counts emails per period bucket. Only buckets holding at
// least one email are listed.
func VolumeTimeline(emails []model.AnalyzedEmail, p Period) Volume {
	v := Volume{Time: []string{}, Count: []int{}}
	groups := groupByBucket(emails, p)
	for _, start := range sortedKeys(groups) {
		v.Time = append(v.Time, p.Label(start))
		v.Count = append(v.Count, len(groups[start]))
	}
	return v
}

type SentimentTimeline struct {
	Time        []string  `json:"time"`
	AvgPolarity []float64 `json:"avg_polarity"`
}

// SentimentOverTime averages polarity per bucket from the first to the last
// email. Buckets with no email report 0.
func SentimentOverTime(emails []model.AnalyzedEmail, p Period) SentimentTimeline {
	st := SentimentTimeline{Time: []string{}, AvgPolarity: []float64{}}
	min, max, ok := dateRange(emails)
	if !ok {
		return st
	}
	groups := groupByBucket(emails, p)
	for _, start := range p.buckets(min, max) {
		st.Time = append(st.Time, p.Label(start))
		group := groups[start]
		if len(group) == 0 {
			st.AvgPolarity = append(st.AvgPolarity, 0)
			continue
		}
		sum := lo.SumBy(group, func(e model.AnalyzedEmail) float64 { return e.Sentiment.Polarity })
		st.AvgPolarity = append(st.AvgPolarity, round4(sum/float64(len(group))))
	}
	return st
}

// SentimentDistribution counts emails per sentiment label. All three labels
// are always present.
func SentimentDistribution(emails []model.AnalyzedEmail) map[model.SentimentLabel]int {
	dist := map[model.SentimentLabel]int{model.Positive: 0, model.Neutral: 0, model.Negative: 0}
	for _, e := range emails {
		dist[e.Sentiment.Label]++
	}
	return dist
}

type CategoryTimeline struct {
	Time       []string         `json:"time"`
	Categories map[string][]int `json:"categories"`
}

// CategoryTimeline counts emails per category per bucket, over every bucket
// from the first to the last email.
func (a *Analyzer) CategoryTimeline(emails []model.AnalyzedEmail, p Period) CategoryTimeline {
	ct := CategoryTimeline{Time: []string{}, Categories: map[string][]int{}}
	min, max, ok := dateRange(emails)
	if !ok {
		return ct
	}
	buckets := p.buckets(min, max)
	index := make(map[time.Time]int, len(buckets))
	for i, start := range buckets {
		index[start] = i
		ct.Time = append(ct.Time, p.Label(start))
	}
	for _, e := range emails {
		t := e.ReceivedTime()
		if t.IsZero() {
			continue
		}
		cat := e.Classification.Category
		if ct.Categories[cat] == nil {
			ct.Categories[cat] = make([]int, len(buckets))
		}
		ct.Categories[cat][index[p.start(t)]]++
	}
	return ct
}

// TopKeywords counts content keywords across emails.
func TopKeywords(emails []model.AnalyzedEmail, n int) []keywords.Keyword {
	return keywords.Top(contents(emails), n)
}

// WordWeights is TopKeywords shaped as word-cloud data.
func WordWeights(emails []model.AnalyzedEmail, n int) []keywords.Weight {
	return keywords.WeightsOf(TopKeywords(emails, n))
}

// ByCategoryWords weights category names by how many emails fell into each.
func ByCategoryWords(emails []model.AnalyzedEmail) []keywords.Weight {
	counts := lo.CountValuesBy(emails, func(e model.AnalyzedEmail) string {
		return e.Classification.Category
	})
	top := lo.MapToSlice(counts, func(cat string, n int) keywords.Keyword {
		return keywords.Keyword{Word: cat, Count: n}
	})
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Word < top[j].Word
	})
	return keywords.WeightsOf(top)
}

func contents(emails []model.AnalyzedEmail) []string {
	return lo.Map(emails, func(e model.AnalyzedEmail, _ int) string { return e.Content })
}

func dateRange(emails []model.AnalyzedEmail) (min, max time.Time, ok bool) {
	for _, e := range emails {
		t := e.ReceivedTime()
		if t.IsZero() {
			continue
		}
		if !ok || t.Before(min) {
			min = t
		}
		if !ok || t.After(max) {
			max = t
		}
		ok = true
	}
	return min, max, ok
}

func groupByBucket(emails []model.AnalyzedEmail, p Period) map[time.Time][]model.AnalyzedEmail {
	dated := lo.Filter(emails, func(e model.AnalyzedEmail, _ int) bool {
		return !e.ReceivedTime().IsZero()
	})
	return lo.GroupBy(dated, func(e model.AnalyzedEmail) time.Time {
		return p.start(e.ReceivedTime())
	})
}

func sortedKeys(groups map[time.Time][]model.AnalyzedEmail) []time.Time {
	keys := lo.Keys(groups)
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
