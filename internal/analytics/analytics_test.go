package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/internal/keywords"
	"github.com/mailsift/mailsift/internal/model"
)

func sample() []model.CleanedEmail {
	return []model.CleanedEmail{
		{Subject: "Course registration", Content: "The registration deadline is good news.", Received: "2025-01-06", Stream: "CS", PersonName: "Ada"},
		{Subject: "Bus route", Content: "The bus was terrible today.", Received: "2025-01-06", Stream: "LS", PersonName: "Ben"},
		{Subject: "Note", Content: "zzz", Received: "2025-01-08", Stream: "CS", PersonName: "Ada"},
		{Subject: "Broken date", Content: "registration", Received: "not-a-date", Stream: "CS"},
	}
}

func TestParsePeriod(t *testing.T) {
	for in, want := range map[string]Period{"": Days, "days": Days, "weeks": Weeks, "months": Months} {
		got, err := ParsePeriod(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePeriod("years")
	assert.Error(t, err)
}

func TestPeriodBuckets(t *testing.T) {
	d := func(s string) time.Time {
		tm, err := time.Parse(model.DateLayout, s)
		require.NoError(t, err)
		return tm
	}

	// 2025-01-08 is a Wednesday.
	assert.Equal(t, d("2025-01-06"), Weeks.start(d("2025-01-08")))
	assert.Equal(t, d("2025-01-06"), Weeks.start(d("2025-01-06")))
	assert.Equal(t, d("2025-01-06"), Weeks.start(d("2025-01-12")))
	assert.Equal(t, d("2025-01-01"), Months.start(d("2025-01-31")))

	assert.Equal(t, "2025-01-06/2025-01-12", Weeks.Label(d("2025-01-06")))
	assert.Equal(t, "2025-01", Months.Label(d("2025-01-01")))
	assert.Len(t, Days.buckets(d("2025-01-30"), d("2025-02-02")), 4)
	assert.Len(t, Months.buckets(d("2024-11-15"), d("2025-01-02")), 3)
}

func TestFilterStreamAndStreams(t *testing.T) {
	emails := sample()
	assert.Len(t, FilterStream(emails, ""), 4)
	assert.Len(t, FilterStream(emails, "CS"), 3)
	assert.Empty(t, FilterStream(emails, "HUM"))
	assert.Equal(t, []string{"CS", "LS"}, Streams(emails))
}

func TestAnalyze(t *testing.T) {
	a := New(nil, nil)
	got := a.Analyze(sample())
	require.Len(t, got, 4)

	assert.Equal(t, "course_selection", got[0].Classification.Category)
	assert.Equal(t, model.Positive, got[0].Sentiment.Label)
	assert.Equal(t, "transportation", got[1].Classification.Category)
	assert.Equal(t, model.Negative, got[1].Sentiment.Label)
	assert.Equal(t, model.Neutral, got[2].Sentiment.Label)
}

func TestComputeOverall(t *testing.T) {
	o := ComputeOverall(New(nil, nil).Analyze(sample()))
	assert.Equal(t, 4, o.TotalEmails)
	assert.Equal(t, []string{"2025-01-06", "2025-01-08"}, o.DateRange)
	assert.Equal(t, map[string]int{"CS": 3, "LS": 1}, o.StreamCounts)
	assert.Equal(t, 2, o.UniquePeople)

	empty := ComputeOverall(nil)
	assert.Equal(t, 0, empty.TotalEmails)
	assert.Empty(t, empty.DateRange)
}

func TestVolumeTimeline(t *testing.T) {
	emails := New(nil, nil).Analyze(sample())

	days := VolumeTimeline(emails, Days)
	assert.Equal(t, []string{"2025-01-06", "2025-01-08"}, days.Time)
	assert.Equal(t, []int{2, 1}, days.Count)

	weeks := VolumeTimeline(emails, Weeks)
	assert.Equal(t, []string{"2025-01-06/2025-01-12"}, weeks.Time)
	assert.Equal(t, []int{3}, weeks.Count)
}

func TestSentimentOverTimeFillsGaps(t *testing.T) {
	emails := []model.AnalyzedEmail{
		{CleanedEmail: model.CleanedEmail{Received: "2025-01-01"}, Sentiment: model.SentimentResult{Polarity: 0.5}},
		{CleanedEmail: model.CleanedEmail{Received: "2025-01-01"}, Sentiment: model.SentimentResult{Polarity: -0.1}},
		{CleanedEmail: model.CleanedEmail{Received: "2025-01-03"}, Sentiment: model.SentimentResult{Polarity: -0.4}},
	}

	got := SentimentOverTime(emails, Days)
	assert.Equal(t, []string{"2025-01-01", "2025-01-02", "2025-01-03"}, got.Time)
	assert.Equal(t, []float64{0.2, 0, -0.4}, got.AvgPolarity)

	assert.Empty(t, SentimentOverTime(nil, Days).Time)
}

func TestSentimentDistribution(t *testing.T) {
	dist := SentimentDistribution(New(nil, nil).Analyze(sample()))
	assert.Equal(t, 1, dist[model.Positive])
	assert.Equal(t, 1, dist[model.Negative])
	assert.Equal(t, 2, dist[model.Neutral])

	assert.Equal(t, map[model.SentimentLabel]int{model.Positive: 0, model.Neutral: 0, model.Negative: 0}, SentimentDistribution(nil))
}

func TestCategoryTimeline(t *testing.T) {
	a := New(nil, nil)
	ct := a.CategoryTimeline(a.Analyze(sample()), Days)
	assert.Equal(t, []string{"2025-01-06", "2025-01-07", "2025-01-08"}, ct.Time)
	assert.Equal(t, []int{1, 0, 0}, ct.Categories["course_selection"])
	assert.Equal(t, []int{1, 0, 0}, ct.Categories["transportation"])
	assert.Equal(t, []int{0, 0, 1}, ct.Categories[model.Uncategorized])
}

func TestKeywordViews(t *testing.T) {
	emails := New(nil, nil).Analyze(sample())

	top := TopKeywords(emails, 1)
	assert.Equal(t, []keywords.Keyword{{Word: "registration", Count: 2}}, top)

	weights := WordWeights(emails, 20)
	require.NotEmpty(t, weights)
	assert.Equal(t, 1.0, weights[0].Weight)

	byCat := ByCategoryWords(emails)
	require.NotEmpty(t, byCat)
	assert.Equal(t, "course_selection", byCat[0].Text)
	assert.Equal(t, 2, byCat[0].Count)
}
