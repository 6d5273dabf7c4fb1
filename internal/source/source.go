// Package source reads raw messages from files, mail archives and IMAP
// accounts, and decodes MIME bodies into RawMessage values.
package source

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/jaytaylor/html2text"

	"github.com/mailsift/mailsift/internal/model"
)

// Source yields one batch of raw messages.
type Source interface {
	Fetch(ctx context.Context) ([]model.RawMessage, error)
}

// Owner tags messages with the mailbox they were read from. Empty fields
// keep what the message itself carries.
type Owner struct {
	Account string
	Stream  string
}

func (o Owner) apply(msg *model.RawMessage) {
	if o.Account != "" {
		msg.Account = o.Account
	}
	if o.Stream != "" {
		msg.Stream = o.Stream
	}
}

// quoteSelectors match the containers mail clients wrap quoted history in.
var quoteSelectors = []string{".gmail_quote", "blockquote"}

// historySelectors mark the start of Outlook quoted history; the marker and
// every following sibling are history.
var historySelectors = []string{"#divRplyFwdMsg", "#appendonsend"}

// HTMLToText drops quoted history containers and renders the rest as plain
// text. Markup that cannot be parsed is returned unchanged for the
// sanitizer to strip.
func HTMLToText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		for _, sel := range historySelectors {
			doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
				s.NextAll().Remove()
				s.Remove()
			})
		}
		doc.Find(strings.Join(quoteSelectors, ", ")).Remove()
		if h, err := doc.Html(); err == nil {
			html = h
		}
	}

	text, err := html2text.FromString(html, html2text.Options{OmitLinks: true, TextOnly: true})
	if err != nil {
		return html
	}
	return text
}

// ParseMessage decodes an RFC 5322 message. The first text/plain part is the
// body; when there is none the first text/html part is converted with
// HTMLToText. Unknown charsets are tolerated.
func ParseMessage(r io.Reader) (model.RawMessage, error) {
	var msg model.RawMessage

	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return msg, fmt.Errorf("failed to read message: %w", err)
	}
	if mr == nil {
		return msg, fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	msg.Subject, _ = mr.Header.Subject()
	if d, err := mr.Header.Date(); err == nil {
		msg.ReceivedAt = d
	}
	if to, err := mr.Header.AddressList("To"); err == nil && len(to) == 1 {
		msg.Account = to[0].Name
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			break
		}
		if p == nil {
			continue
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, _ := io.ReadAll(p.Body)

		switch {
		case strings.HasPrefix(ct, "text/plain") && plain == "":
			plain = string(body)
		case strings.HasPrefix(ct, "text/html") && html == "":
			html = string(body)
		}
	}

	msg.Body = plain
	if strings.TrimSpace(plain) == "" && html != "" {
		msg.HTMLBody = html
		msg.Body = HTMLToText(html)
	}
	return msg, nil
}

// fallbackDate fills a missing Date header.
func fallbackDate(msg *model.RawMessage, t time.Time) {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = t
	}
}
