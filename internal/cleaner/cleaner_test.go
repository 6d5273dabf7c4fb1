package cleaner

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/internal/model"
	"github.com/mailsift/mailsift/internal/sanitize"
)

func defaultPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(DefaultConfig())
	require.NoError(t, err)
	return p
}

var messyBodies = []string{
	"",
	"Hi,\nI need help with my course registration deadline.\nThanks,\nBob",
	"On Mon, Jan 1 2024, Alice wrote:\n> old content\nHi, question about registration",
	"Hi,\nHello there is a problem with my wifi.\nThanks",
	"<div>Is the <b>gym</b> open &amp; free?</div>\n<div>&lt;b&gt;bold&lt;/b&gt;</div>",
	"You don't often get email from x@y.com. Learn why this is important\nWhere do I pick up my UHIP card?\n\n-----Original Message-----\nFrom: Office\nold",
	"好的，我明天到。\n\n2024年1月2日 10:00，张三写道：\n> 你什么时候到？",
	"Can I defer my tuition payment?\n\n\n\n\ntrailing junk",
	"Alice reacted via Gmail\nThe shuttle bus route changed.\nBest,\nA",
	"Dear Sir,\n\tTabs\tand   spaces everywhere.\r\nKind regards",
	"Am 01.02.2024 um 10:00 schrieb Max:\n> alt\nDanke für die Info zur Wohnung.",
	"&amp;lt;p&amp;gt;Thanks for the scholarship news",
}

func TestPipelineIsIdempotent(t *testing.T) {
	p := defaultPipeline(t)
	for _, body := range messyBodies {
		once := p.Clean(body)
		assert.Equal(t, once, p.Clean(once), "body %q", body)
	}
}

func TestPipelineScenarios(t *testing.T) {
	p := defaultPipeline(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", ""},
		{
			"greeting and signature trimmed",
			"Hi,\nI need help with my course registration deadline.\nThanks,\nBob",
			"I need help with my course registration deadline.",
		},
		{
			"reply header on first line",
			"On Mon, Jan 1 2024, Alice wrote:\n> old content\nHi, question about registration",
			"",
		},
		{
			"banner and quoted history",
			"You don't often get email from x@y.com. Learn why this is important\nWhere do I pick up my UHIP card?\n\n-----Original Message-----\nFrom: Office\nold",
			"Where do I pick up my UHIP card?",
		},
		{
			"html markup",
			"<div>Is the <b>gym</b> open &amp; free?</div>",
			"Is the gym open & free?",
		},
		{
			"localized header keeps chinese text",
			"好的，我明天到。\n\n2024年1月2日 10:00，张三写道：\n> 你什么时候到？",
			"好的，我明天到。",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Clean(tt.body))
		})
	}
}

func TestNoResidualSeparators(t *testing.T) {
	p := defaultPipeline(t)
	separators := []string{
		"On Tue, Jan 2, 2024 at 9:00 AM Bob <bob@example.com> wrote:",
		"From: Registrar <reg@example.edu>",
		"________________________________",
		"-----Original Message-----",
		"---------- Forwarded message ---------",
		"Alice reacted to your message:",
		"2024年1月2日 10:00，张三写道：",
		"Le lun. 1 janv. 2024 à 10:00, Alice a écrit :",
		"El lun, 1 ene 2024 a las 10:00, Ana escribió:",
	}
	for _, sep := range separators {
		body := "Could you confirm my residence room assignment?\n" + sep + "\nQUOTED HISTORY LINE\nmore history"
		got := p.Clean(body)
		assert.Equal(t, "Could you confirm my residence room assignment?", got, "separator %q", sep)
		assert.NotContains(t, got, "QUOTED")
	}
}

func TestNewStages(t *testing.T) {
	p, err := New(Config{Stages: []string{"sanitize"}})
	require.NoError(t, err)
	assert.Equal(t, []string{StageSanitize}, p.Stages())
	assert.Equal(t, "Hi,\nkeep me", p.Clean("<p>Hi,</p>\nkeep me"))

	_, err = New(Config{Stages: []string{"extract", "translate"}})
	assert.True(t, errors.Is(err, ErrUnknownStage))

	p, err = New(Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{StageExtract, StageSanitize, StageTrim}, p.Stages())
}

func TestLatinProfile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profile = sanitize.Latin
	p, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "Caf ok", p.Clean("Café ok"))
	assert.Equal(t, "Where is the library?", p.Clean("Where\tis the\tlibrary?"))
}

func TestCleanMessage(t *testing.T) {
	p := defaultPipeline(t)
	received := time.Date(2024, 3, 5, 23, 10, 0, 0, time.UTC)

	got, err := p.CleanMessage(model.RawMessage{
		Subject:    "  Parking permit  ",
		Body:       "Hello,\nWhere can I buy a parking permit?\nThanks",
		ReceivedAt: received,
		Account:    "Jamie Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, model.CleanedEmail{
		Subject:    "Parking permit",
		Content:    "Where can I buy a parking permit?",
		Received:   "2024-03-05",
		Stream:     model.UnknownStream,
		PersonName: "Jamie",
	}, got)
}

func TestCleanMessageFallsBackToHTML(t *testing.T) {
	p := defaultPipeline(t)
	got, err := p.CleanMessage(model.RawMessage{
		HTMLBody: "<p>Hello there, <b>question</b> about parking</p>",
		Stream:   "Engineering",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there, question about parking", got.Content)
	assert.Equal(t, "Engineering", got.Stream)
}

func TestCleanMessageDiscardsPanickingStage(t *testing.T) {
	p := FromStages(1, NewStage("boom", func(string) string { panic("bad regexp state") }))
	got, err := p.CleanMessage(model.RawMessage{Body: "anything"})

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "bad regexp state", stageErr.Value)
	assert.Equal(t, model.CleanedEmail{}, got)
}

func TestObserver(t *testing.T) {
	seen := map[string]int{}
	p := defaultPipeline(t).Observe(func(stage string, _ time.Duration) { seen[stage]++ })
	p.Clean("Plain question about the library hours")

	for _, stage := range []string{StageExtract, StageSanitize, StageTrim} {
		assert.GreaterOrEqual(t, seen[stage], 1, stage)
	}
	assert.Equal(t, seen[StageExtract], seen[StageTrim])
}
