package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mailsift/mailsift/internal/model"
)

// maxJSONLine bounds one JSONL record.
const maxJSONLine = 16 << 20

// JSONL reads one RawMessage JSON object per line.
type JSONL struct {
	Path  string
	Owner Owner
}

func (s JSONL) Fetch(ctx context.Context) ([]model.RawMessage, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.Path, err)
	}
	defer f.Close()

	msgs, err := ReadJSONL(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	for i := range msgs {
		s.Owner.apply(&msgs[i])
	}
	return msgs, nil
}

// ReadJSONL decodes a JSONL stream. Blank lines are skipped; a malformed line
// fails the whole read with its line number.
func ReadJSONL(ctx context.Context, r io.Reader) ([]model.RawMessage, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxJSONLine)

	var msgs []model.RawMessage
	line := 0
	for sc.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var msg model.RawMessage
		if err := json.Unmarshal(b, &msg); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		msgs = append(msgs, msg)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return msgs, nil
}

// Mbox reads an mboxrd archive.
type Mbox struct {
	Path  string
	Owner Owner
}

func (s Mbox) Fetch(ctx context.Context) ([]model.RawMessage, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.Path, err)
	}
	defer f.Close()

	msgs, err := ReadMbox(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	for i := range msgs {
		s.Owner.apply(&msgs[i])
	}
	return msgs, nil
}

// ReadMbox splits an archive on "From " lines, undoes ">From " quoting and
// parses each message. Messages that fail to parse are skipped.
func ReadMbox(ctx context.Context, r io.Reader) ([]model.RawMessage, error) {
	br := bufio.NewReader(r)

	var (
		msgs     []model.RawMessage
		buf      bytes.Buffer
		envelope time.Time
		started  bool
	)
	flush := func() {
		if !started {
			return
		}
		msg, err := ParseMessage(bytes.NewReader(buf.Bytes()))
		buf.Reset()
		if err != nil {
			return
		}
		fallbackDate(&msg, envelope)
		msgs = append(msgs, msg)
	}

	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			switch {
			case strings.HasPrefix(line, "From "):
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				flush()
				started = true
				envelope = envelopeDate(line)
			case started:
				if unq := strings.TrimLeft(line, ">"); len(unq) < len(line) && strings.HasPrefix(unq, "From ") {
					line = line[1:]
				}
				buf.WriteString(line)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read mbox: %w", err)
		}
	}
	flush()
	return msgs, nil
}

// envelopeDate parses the asctime date at the end of a "From sender date" line.
func envelopeDate(line string) time.Time {
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return time.Time{}
	}
	t, err := time.Parse(time.ANSIC, strings.Join(fields[len(fields)-5:], " "))
	if err != nil {
		return time.Time{}
	}
	return t
}

// EMLDir reads every .eml file in a directory, in name order.
type EMLDir struct {
	Dir   string
	Owner Owner
}

func (s EMLDir) Fetch(ctx context.Context) ([]model.RawMessage, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.Dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".eml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var msgs []model.RawMessage
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := readEML(filepath.Join(s.Dir, name))
		if err != nil {
			return nil, err
		}
		s.Owner.apply(&msg)
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func readEML(path string) (model.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.RawMessage{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	msg, err := ParseMessage(f)
	if err != nil {
		return msg, fmt.Errorf("%s: %w", path, err)
	}
	if info, err := f.Stat(); err == nil {
		fallbackDate(&msg, info.ModTime())
	}
	return msg, nil
}
