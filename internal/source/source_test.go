package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/internal/config"
)

const multipartMessage = "From: Office <office@example.edu>\r\n" +
	"To: Jamie Doe <jamie@example.edu>\r\n" +
	"Subject: Parking\r\n" +
	"Date: Tue, 05 Mar 2024 10:00:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Where do I buy a permit?\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Where do I buy a <b>permit</b>?</p>\r\n" +
	"--b1--\r\n"

func TestParseMessagePrefersPlainText(t *testing.T) {
	msg, err := ParseMessage(strings.NewReader(multipartMessage))
	require.NoError(t, err)

	assert.Equal(t, "Parking", msg.Subject)
	assert.Equal(t, "Jamie Doe", msg.Account)
	assert.Equal(t, "Where do I buy a permit?", strings.TrimSpace(msg.Body))
	assert.Empty(t, msg.HTMLBody)
	assert.True(t, msg.ReceivedAt.Equal(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)))
}

func TestParseMessageHTMLOnly(t *testing.T) {
	raw := "Subject: Gym\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		`<div>Is the gym open?</div><div class="gmail_quote">On Mon, Alice wrote:<blockquote>old question</blockquote></div>`

	msg, err := ParseMessage(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "Is the gym open?")
	assert.NotContains(t, msg.Body, "old question")
	assert.NotContains(t, msg.Body, "wrote")
	assert.NotEmpty(t, msg.HTMLBody)
}

func TestParseMessageDecodesCharset(t *testing.T) {
	raw := "Subject: =?iso-8859-1?q?Caf=E9?=\r\n" +
		"Content-Type: text/plain; charset=iso-8859-1\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"Caf=E9 hours?\r\n"

	msg, err := ParseMessage(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Café", msg.Subject)
	assert.Equal(t, "Café hours?", strings.TrimSpace(msg.Body))
}

func TestHTMLToTextDropsOutlookHistory(t *testing.T) {
	html := `<html><body><p>New question about housing</p><hr><div id="divRplyFwdMsg">From: Residence Office</div><div>old history</div></body></html>`
	got := HTMLToText(html)
	assert.Contains(t, got, "New question about housing")
	assert.NotContains(t, got, "Residence Office")
	assert.NotContains(t, got, "old history")

	assert.Equal(t, "", HTMLToText("  "))
}

func TestReadJSONL(t *testing.T) {
	in := `{"subject":"A","body":"first","received_at":"2024-03-05T10:00:00Z","account":"Jamie Doe"}

{"subject":"B","body":"second","received_at":"2024-03-06T10:00:00Z","stream":"Arts"}
`
	msgs, err := ReadJSONL(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, "Arts", msgs[1].Stream)

	_, err = ReadJSONL(context.Background(), strings.NewReader("{\"subject\":\"ok\"}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestJSONLOwnerOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"subject":"A","account":"Someone Else","stream":"Old"}`+"\n"), 0644))

	msgs, err := JSONL{Path: path, Owner: Owner{Stream: "Science"}}.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Someone Else", msgs[0].Account)
	assert.Equal(t, "Science", msgs[0].Stream)
}

func TestReadMbox(t *testing.T) {
	archive := "From office@example.edu Tue Mar  5 10:00:00 2024\n" +
		"Subject: First\n" +
		"Date: Tue, 05 Mar 2024 10:00:00 +0000\n" +
		"\n" +
		"Body one\n" +
		">From the registrar\n" +
		"\n" +
		"From student@example.edu Wed Mar  6 09:30:00 2024\n" +
		"Subject: Second\n" +
		"\n" +
		"Body two\n"

	msgs, err := ReadMbox(context.Background(), strings.NewReader(archive))
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "First", msgs[0].Subject)
	assert.Contains(t, msgs[0].Body, "\nFrom the registrar")
	assert.Equal(t, "Second", msgs[1].Subject)
	assert.Equal(t, "2024-03-06", msgs[1].ReceivedAt.Format("2006-01-02"))
}

func TestEMLDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.EML"), []byte("Subject: Second\r\n\r\nlater\r\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.eml"), []byte(multipartMessage), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0644))

	msgs, err := EMLDir{Dir: dir, Owner: Owner{Account: "Advising Desk", Stream: "Arts"}}.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Parking", msgs[0].Subject)
	assert.Equal(t, "Second", msgs[1].Subject)
	assert.Equal(t, "Advising Desk", msgs[0].Account)
	assert.False(t, msgs[1].ReceivedAt.IsZero())
}

func TestIsNotification(t *testing.T) {
	tests := []struct {
		subject, body string
		want          bool
	}{
		{"Microsoft Teams meeting", "", true},
		{"Question", "join at https://teams.microsoft.com/l/meetup", true},
		{"Join the Meeting tomorrow", "", true},
		{"Reschedule", "Please reschedule my appointment", true},
		{"Course registration question", "Can I reschedule my exam?", false},
		{"Bookings", "", false},
		{"Parking permit", "Where do I buy one?", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsNotification(tt.subject, tt.body), "%q / %q", tt.subject, tt.body)
	}
}

func TestParseMailboxPaths(t *testing.T) {
	in := `Name: Jamie Doe Artsci | Stream: Engineering
  - Inbox/Students
  - Inbox/Advising

Name: Empty | Stream: Science

Name: Ana  |  Stream: Arts
 - Inbox
`
	sets, err := ParseMailboxPaths(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []MailboxSet{
		{Account: "Jamie Doe Artsci", Stream: "Engineering", Mailboxes: []string{"Inbox/Students", "Inbox/Advising"}},
		{Account: "Ana", Stream: "Arts", Mailboxes: []string{"Inbox"}},
	}, sets)
}

func TestResolveAccount(t *testing.T) {
	available := []string{"Jamie Doe", "Ana Lopez"}
	assert.Equal(t, "Jamie Doe", ResolveAccount("Jamie Doe", available))
	assert.Equal(t, "Jamie Doe", ResolveAccount("jamie doe", available))
	assert.Equal(t, "Jamie Doe", ResolveAccount("Jamie Doe Artsci", available, "Artsci"))
	assert.Equal(t, "Ana Lopez", ResolveAccount("Ana", available))
	assert.Equal(t, "Shared Box", ResolveAccount("Shared Box", available))
}

func TestLoadMailboxPaths(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("Name: A | Stream: B\n"), 0600))
	_, err := LoadMailboxPaths(empty)
	assert.ErrorIs(t, err, ErrNoMailboxes)

	good := filepath.Join(dir, "paths.txt")
	require.NoError(t, os.WriteFile(good, []byte("Name: Ana | Stream: Arts\n - Inbox\n"), 0600))
	sets, err := LoadMailboxPaths(good)
	require.NoError(t, err)
	assert.Len(t, sets, 1)
}

func TestApplyMailboxSets(t *testing.T) {
	accounts := []config.IMAPAccount{
		{Name: "Jamie Doe", Folders: []string{"INBOX"}},
		{Name: "Ana Lopez", Stream: "Old", Folders: []string{"INBOX"}},
	}
	sets := []MailboxSet{
		{Account: "Jamie Doe Artsci", Stream: "Engineering", Mailboxes: []string{"Inbox/Students"}},
		{Account: "Nobody", Stream: "Arts", Mailboxes: []string{"Inbox"}},
	}

	got, unmatched := ApplyMailboxSets(accounts, sets, "Artsci")
	assert.Equal(t, []string{"Nobody"}, unmatched)
	assert.Equal(t, "Engineering", got[0].Stream)
	assert.Equal(t, []string{"Inbox/Students"}, got[0].Folders)
	assert.Equal(t, "Old", got[1].Stream)
	assert.Equal(t, []string{"INBOX"}, accounts[0].Folders)
}
