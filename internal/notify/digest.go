package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"sort"
	texttemplate "text/template"
	"time"

	"github.com/mailsift/mailsift/internal/analytics"
	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/keywords"
	"github.com/mailsift/mailsift/internal/model"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

const digestKeywords = 10

type CategoryCount struct {
	Name  string
	Count int
}

type SentimentCounts struct {
	Positive, Neutral, Negative int
}

// DigestData is the input of the digest templates.
type DigestData struct {
	Date       string
	Stream     string
	Total      int
	DateRange  []string
	Categories []CategoryCount
	Sentiment  SentimentCounts
	Keywords   []keywords.Keyword
}

// BuildDigest summarizes analyzed emails. Categories are ordered by count,
// then name.
func BuildDigest(emails []model.AnalyzedEmail, stream string, now time.Time) DigestData {
	overall := analytics.ComputeOverall(emails)
	dist := analytics.SentimentDistribution(emails)

	counts := map[string]int{}
	for _, e := range emails {
		counts[e.Classification.Category]++
	}
	cats := make([]CategoryCount, 0, len(counts))
	for name, n := range counts {
		cats = append(cats, CategoryCount{Name: name, Count: n})
	}
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].Count != cats[j].Count {
			return cats[i].Count > cats[j].Count
		}
		return cats[i].Name < cats[j].Name
	})

	return DigestData{
		Date:       now.Format("January 2, 2006"),
		Stream:     stream,
		Total:      overall.TotalEmails,
		DateRange:  overall.DateRange,
		Categories: cats,
		Sentiment: SentimentCounts{
			Positive: dist[model.Positive],
			Neutral:  dist[model.Neutral],
			Negative: dist[model.Negative],
		},
		Keywords: analytics.TopKeywords(emails, digestKeywords),
	}
}

// Renderer holds the parsed digest templates.
type Renderer struct {
	text *texttemplate.Template
	html *htmltemplate.Template
}

func NewRenderer() (*Renderer, error) {
	text, err := texttemplate.ParseFS(embeddedTemplates, "templates/digest.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse text digest template: %w", err)
	}
	html, err := htmltemplate.ParseFS(embeddedTemplates, "templates/digest.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML digest template: %w", err)
	}
	return &Renderer{text: text, html: html}, nil
}

// Render returns the plain-text and HTML bodies of a digest.
func (r *Renderer) Render(data DigestData) (text, html string, err error) {
	var tb, hb bytes.Buffer
	if err := r.text.Execute(&tb, data); err != nil {
		return "", "", fmt.Errorf("failed to render digest: %w", err)
	}
	if err := r.html.Execute(&hb, data); err != nil {
		return "", "", fmt.Errorf("failed to render digest: %w", err)
	}
	return tb.String(), hb.String(), nil
}

// SendDigest renders data and sends it to every configured recipient. It
// returns the results in recipient order and the joined delivery errors.
func SendDigest(ctx context.Context, sender Sender, cfg config.DigestConfig, data DigestData) ([]Result, error) {
	r, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	text, html, err := r.Render(data)
	if err != nil {
		return nil, err
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "mailsift digest"
	}

	results := make([]Result, 0, len(cfg.To))
	var errs []error
	for _, to := range cfg.To {
		res := sender.Send(ctx, Message{To: to, From: cfg.From, Subject: subject, Text: text, HTML: html})
		results = append(results, res)
		if !res.Success {
			errs = append(errs, fmt.Errorf("%s via %s: %w", to, sender.Name(), res.Error))
		}
	}
	return results, errors.Join(errs...)
}
