package source

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/logging"
	"github.com/mailsift/mailsift/internal/model"
)

const imapFetchBatch = 50

// IMAP pulls recent messages from the folders of one account. Folders are
// opened read-only and fetched with BODY.PEEK so nothing is marked seen.
type IMAP struct {
	Account config.IMAPAccount
	Folders []string // overrides Account.Folders when set
	Since   time.Time
	Logger  *zap.Logger

	client *client.Client
}

func NewIMAP(account config.IMAPAccount, logger *zap.Logger) *IMAP {
	return &IMAP{
		Account: account,
		Since:   time.Now().AddDate(0, 0, -account.SinceDays),
		Logger:  logging.OrNop(logger),
	}
}

func (s *IMAP) connect() error {
	addr := fmt.Sprintf("%s:%d", s.Account.Server, s.Account.Port)
	s.Logger.Info("Connecting to IMAP server", zap.String("addr", addr))

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	if err := c.Login(s.Account.Email, s.Account.Password); err != nil {
		c.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}
	s.client = c
	s.Logger.Debug("Login successful", zap.String("account", s.Account.Email))
	return nil
}

func (s *IMAP) disconnect() {
	if s.client != nil {
		s.client.Logout()
		s.client = nil
	}
}

func (s *IMAP) Fetch(ctx context.Context) ([]model.RawMessage, error) {
	if err := s.connect(); err != nil {
		return nil, err
	}
	defer s.disconnect()

	folders := s.Folders
	if len(folders) == 0 {
		folders = s.Account.Folders
	}
	if len(folders) == 0 {
		folders = []string{"INBOX"}
	}

	owner := Owner{Account: s.Account.Name, Stream: s.Account.Stream}
	var all []model.RawMessage
	for _, folder := range folders {
		msgs, err := s.fetchFolder(ctx, folder)
		if err != nil {
			return nil, err
		}
		for i := range msgs {
			owner.apply(&msgs[i])
		}
		all = append(all, msgs...)
	}
	return all, nil
}

func (s *IMAP) fetchFolder(ctx context.Context, folder string) ([]model.RawMessage, error) {
	mbox, err := s.client.Select(folder, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", folder, err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = s.Since
	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails in %s: %w", folder, err)
	}
	s.Logger.Info("Found messages",
		zap.String("folder", folder),
		zap.Int("count", len(uids)),
		zap.String("since", s.Since.Format(model.DateLayout)),
	)

	var msgs []model.RawMessage
	for i := 0; i < len(uids); i += imapFetchBatch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := i + imapFetchBatch
		if end > len(uids) {
			end = len(uids)
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids[i:end]...)

		section := &imap.BodySectionName{Peek: true}
		messages := make(chan *imap.Message, imapFetchBatch)
		done := make(chan error, 1)
		go func() {
			done <- s.client.UidFetch(seqSet, []imap.FetchItem{
				imap.FetchUid,
				imap.FetchInternalDate,
				section.FetchItem(),
			}, messages)
		}()

		for m := range messages {
			body := m.GetBody(section)
			if body == nil {
				continue
			}
			msg, err := ParseMessage(body)
			if err != nil {
				s.Logger.Warn("Failed to parse message", zap.Uint32("uid", m.Uid), zap.Error(err))
				continue
			}
			fallbackDate(&msg, m.InternalDate)
			msgs = append(msgs, msg)
		}

		if err := <-done; err != nil {
			return nil, fmt.Errorf("failed to fetch messages from %s: %w", folder, err)
		}
	}
	return msgs, nil
}
