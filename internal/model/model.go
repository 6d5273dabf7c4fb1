package model

import (
	"strings"
	"time"
)

// DateLayout is the calendar-date form used for CleanedEmail.Received.
const DateLayout = "2006-01-02"

// UnknownStream tags messages whose account has no configured stream.
const UnknownStream = "Unknown"

// RawMessage is one message as yielded by a mail source.
type RawMessage struct {
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	HTMLBody   string    `json:"html_body,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	Account    string    `json:"account"`
	Stream     string    `json:"stream,omitempty"`
}

// CleanedEmail is the persisted form of a message after the cleaning pipeline.
// (Subject, Content, Received) is its natural key.
type CleanedEmail struct {
	Subject    string `json:"subject"`
	Content    string `json:"content"`
	Received   string `json:"received"`
	Stream     string `json:"stream"`
	PersonName string `json:"person_name"`
}

// ReceivedTime parses Received, returning the zero time when it is malformed.
func (e CleanedEmail) ReceivedTime() time.Time {
	t, err := time.Parse(DateLayout, e.Received)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Key returns the natural key of the record.
func (e CleanedEmail) Key() [3]string {
	return [3]string{e.Subject, e.Content, e.Received}
}

// Uncategorized is the category of text no keyword set scored on.
const Uncategorized = "uncategorized"

type ClassificationResult struct {
	Category        string   `json:"category"`
	Confidence      float64  `json:"confidence"`
	MatchedKeywords []string `json:"matched_keywords"`
}

// SentimentLabel is the three-way sentiment bucket.
type SentimentLabel string

const (
	Positive SentimentLabel = "Positive"
	Neutral  SentimentLabel = "Neutral"
	Negative SentimentLabel = "Negative"
)

type SentimentResult struct {
	Polarity float64        `json:"polarity"`
	Label    SentimentLabel `json:"label"`
}

// AnalyzedEmail pairs a stored email with its on-demand derived results.
type AnalyzedEmail struct {
	CleanedEmail
	Classification ClassificationResult `json:"classification"`
	Sentiment      SentimentResult      `json:"sentiment"`
}

// PersonName derives the display name stored with an email: the first word of
// the account name.
func PersonName(account string) string {
	fields := strings.Fields(account)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
