package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/model"
)

func TestNewSender(t *testing.T) {
	for provider, want := range map[string]string{"": "smtp", "smtp": "smtp", "resend": "resend", "sendgrid": "sendgrid"} {
		s, err := NewSender(config.DigestConfig{Provider: provider, APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, want, s.Name())
	}
	_, err := NewSender(config.DigestConfig{Provider: "pigeon"})
	assert.Error(t, err)
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("ops@example.com"))
	assert.Error(t, ValidateEmail("ops@example.com\r\nBcc: x@y.z"))
	assert.Error(t, ValidateEmail("a@b.c, d@e.f"))
	assert.Error(t, ValidateEmail("not an address"))

	err := validateMessage(Message{From: "a@example.com", To: "b@example.com", Subject: "x\nBcc: y"})
	assert.Error(t, err)
}

func TestBuildMIMEAlternative(t *testing.T) {
	msg := Message{From: "a@example.com", To: "b@example.com", Subject: "Digest", Text: "plain body", HTML: "<p>html body</p>"}
	raw, err := buildMIME(msg, "id1", time.Date(2025, 2, 5, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Digest", subject)

	var bodies []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(p.Body)
		require.NoError(t, err)
		bodies = append(bodies, string(b))
	}
	assert.Equal(t, []string{"plain body", "<p>html body</p>"}, bodies)
}

func TestBuildMIMEPlain(t *testing.T) {
	raw, err := buildMIME(Message{From: "a@example.com", To: "b@example.com", Subject: "s", Text: "only text"}, "id2", time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Content-Type: text/plain")
	assert.NotContains(t, string(raw), "multipart")
	assert.Contains(t, string(raw), "only text")
}

func TestResendSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"re_123"}`)
	}))
	defer srv.Close()

	s, err := NewResendSender("re_key").WithBaseURL(srv.URL + "/")
	require.NoError(t, err)
	res := s.Send(context.Background(), Message{From: "a@example.com", To: "b@example.com", Subject: "s", Text: "t", HTML: "<b>h</b>"})
	require.NoError(t, res.Error)
	assert.True(t, res.Success)
	assert.Equal(t, "re_123", res.MessageID)
	assert.Equal(t, "s", got["subject"])
	assert.Equal(t, []any{"b@example.com"}, got["to"])
}

func TestSendGridSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.key", r.Header.Get("Authorization"))
		w.Header().Set("X-Message-Id", "sg_1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSendGridSender("SG.key").WithHost(srv.URL)
	res := s.Send(context.Background(), Message{From: "a@example.com", To: "b@example.com", Subject: "s", Text: "t", HTML: "<b>h</b>"})
	require.NoError(t, res.Error)
	assert.Equal(t, "sg_1", res.MessageID)
}

func TestSendGridSenderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	res := NewSendGridSender("bad").WithHost(srv.URL).Send(context.Background(),
		Message{From: "a@example.com", To: "b@example.com", Subject: "s", Text: "t", HTML: "h"})
	assert.False(t, res.Success)
	assert.Error(t, res.Error)
}

func digestEmails() []model.AnalyzedEmail {
	mk := func(received, category string, label model.SentimentLabel, content string) model.AnalyzedEmail {
		return model.AnalyzedEmail{
			CleanedEmail:   model.CleanedEmail{Content: content, Received: received},
			Classification: model.ClassificationResult{Category: category},
			Sentiment:      model.SentimentResult{Label: label},
		}
	}
	return []model.AnalyzedEmail{
		mk("2025-02-03", "transportation", model.Negative, "bus bus delays"),
		mk("2025-02-04", "transportation", model.Neutral, "bus schedule"),
		mk("2025-02-05", "housing_residence", model.Positive, "residence <script>"),
	}
}

func TestBuildDigestAndRender(t *testing.T) {
	data := BuildDigest(digestEmails(), "CS", time.Date(2025, 2, 6, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 3, data.Total)
	assert.Equal(t, []string{"2025-02-03", "2025-02-05"}, data.DateRange)
	assert.Equal(t, []CategoryCount{{"transportation", 2}, {"housing_residence", 1}}, data.Categories)
	assert.Equal(t, SentimentCounts{Positive: 1, Neutral: 1, Negative: 1}, data.Sentiment)
	require.NotEmpty(t, data.Keywords)
	assert.Equal(t, "bus", data.Keywords[0].Word)

	r, err := NewRenderer()
	require.NoError(t, err)
	text, html, err := r.Render(data)
	require.NoError(t, err)

	assert.Contains(t, text, "mailsift digest for February 6, 2025 (stream CS)")
	assert.Contains(t, text, "3 emails between 2025-02-03 and 2025-02-05.")
	assert.Contains(t, text, "bus (3)")
	assert.Contains(t, html, "<li>Negative: 1</li>")
	assert.NotContains(t, html, "<script>")
}

type fakeSender struct {
	sent []Message
	fail string
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(_ context.Context, msg Message) Result {
	f.sent = append(f.sent, msg)
	if msg.To == f.fail {
		return Result{Error: errors.New("mailbox full")}
	}
	return Result{Success: true, MessageID: "m-" + msg.To}
}

func TestSendDigest(t *testing.T) {
	sender := &fakeSender{fail: "c@example.com"}
	cfg := config.DigestConfig{From: "ops@example.com", To: []string{"b@example.com", "c@example.com"}}

	results, err := SendDigest(context.Background(), sender, cfg, BuildDigest(digestEmails(), "", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c@example.com via fake")
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "mailsift digest", sender.sent[0].Subject)
	assert.NotEmpty(t, sender.sent[0].Text)
	assert.NotEmpty(t, sender.sent[0].HTML)
}
