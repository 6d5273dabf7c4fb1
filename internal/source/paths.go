package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/mailsift/mailsift/internal/config"
)

var ErrNoMailboxes = errors.New("no mailbox sets found")

// MailboxSet is one account block of a mailbox paths file.
type MailboxSet struct {
	Account   string
	Stream    string
	Mailboxes []string
}

var (
	pathsHeader  = regexp.MustCompile(`^Name:\s*(.*?)\s*\|\s*Stream:\s*([A-Za-z]+)\s*$`)
	pathsMailbox = regexp.MustCompile(`^\s*-\s*(.+?)\s*$`)
)

// ParseMailboxPaths reads blocks of the form
//
//	Name: <account>  |  Stream: <stream>
//	  - <mailbox path>
//
// A block without mailboxes is dropped. Blank lines end a block.
func ParseMailboxPaths(r io.Reader) ([]MailboxSet, error) {
	var (
		sets []MailboxSet
		cur  MailboxSet
	)
	flush := func() {
		if cur.Account != "" && cur.Stream != "" && len(cur.Mailboxes) > 0 {
			sets = append(sets, cur)
		}
		cur = MailboxSet{}
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if m := pathsHeader.FindStringSubmatch(line); m != nil {
			flush()
			cur.Account, cur.Stream = m[1], m[2]
			continue
		}
		if m := pathsMailbox.FindStringSubmatch(line); m != nil {
			cur.Mailboxes = append(cur.Mailboxes, m[1])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mailbox paths: %w", err)
	}
	flush()
	return sets, nil
}

// ResolveAccount maps a requested account name onto one of the available
// names: exact, then case-insensitive, then with any of suffixes removed,
// then a unique partial match. Unresolved names pass through so delegated
// mailboxes can still be tried.
func ResolveAccount(requested string, available []string, suffixes ...string) string {
	lower := make(map[string]string, len(available))
	for _, a := range available {
		if a == requested {
			return a
		}
		lower[strings.ToLower(a)] = a
	}
	req := strings.ToLower(requested)
	if a, ok := lower[req]; ok {
		return a
	}

	simplified := req
	for _, suffix := range suffixes {
		simplified = strings.TrimSpace(strings.TrimSuffix(simplified, strings.ToLower(suffix)))
	}
	if a, ok := lower[simplified]; ok {
		return a
	}

	var candidates []string
	for _, a := range available {
		la := strings.ToLower(a)
		if strings.Contains(la, req) || strings.Contains(la, simplified) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	return requested
}

// LoadMailboxPaths parses the file at path. A file without any usable block
// is ErrNoMailboxes.
func LoadMailboxPaths(path string) ([]MailboxSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mailbox paths: %w", err)
	}
	defer f.Close()

	sets, err := ParseMailboxPaths(f)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoMailboxes)
	}
	return sets, nil
}

// ApplyMailboxSets points each configured account at the folders and stream
// of the mailbox set whose name resolves to it. It returns the updated
// accounts and the names of sets that matched no account.
func ApplyMailboxSets(accounts []config.IMAPAccount, sets []MailboxSet, suffixes ...string) ([]config.IMAPAccount, []string) {
	names := make([]string, len(accounts))
	index := make(map[string]int, len(accounts))
	for i, a := range accounts {
		names[i] = a.Name
		index[a.Name] = i
	}

	out := append([]config.IMAPAccount(nil), accounts...)
	var unmatched []string
	for _, set := range sets {
		i, ok := index[ResolveAccount(set.Account, names, suffixes...)]
		if !ok {
			unmatched = append(unmatched, set.Account)
			continue
		}
		out[i].Stream = set.Stream
		out[i].Folders = append([]string(nil), set.Mailboxes...)
	}
	return out, unmatched
}
