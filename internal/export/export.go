// Package export writes analyzed emails to CSV files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mailsift/mailsift/internal/model"
)

// Columns is the CSV header row.
var Columns = []string{
	"subject", "content", "received", "stream", "person",
	"category", "confidence", "polarity", "sentiment",
}

var whitespace = regexp.MustCompile(`\s+`)

// CleanText collapses newlines and whitespace runs to single spaces.
func CleanText(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Write emits the header and one row per email.
func Write(w io.Writer, emails []model.AnalyzedEmail) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range emails {
		row := []string{
			CleanText(e.Subject),
			CleanText(e.Content),
			e.Received,
			CleanText(e.Stream),
			CleanText(e.PersonName),
			e.Classification.Category,
			strconv.FormatFloat(e.Classification.Confidence, 'f', 2, 64),
			strconv.FormatFloat(e.Sentiment.Polarity, 'f', 4, 64),
			string(e.Sentiment.Label),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes emails to dir/name, creating dir, and returns the path.
func WriteFile(dir, name string, emails []model.AnalyzedEmail) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if err := Write(f, emails); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close export file: %w", err)
	}
	return path, nil
}

// ParseDay accepts DD-MM-YYYY or YYYY-MM-DD.
func ParseDay(s string) (time.Time, error) {
	for _, layout := range []string{"02-01-2006", model.DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (want DD-MM-YYYY)", s)
}

// OnDay keeps emails received on day.
func OnDay(emails []model.CleanedEmail, day time.Time) []model.CleanedEmail {
	want := day.Format(model.DateLayout)
	var out []model.CleanedEmail
	for _, e := range emails {
		if e.Received == want {
			out = append(out, e)
		}
	}
	return out
}

// Before keeps emails received strictly before day.
func Before(emails []model.CleanedEmail, day time.Time) []model.CleanedEmail {
	limit := day.Format(model.DateLayout)
	var out []model.CleanedEmail
	for _, e := range emails {
		if e.Received < limit {
			out = append(out, e)
		}
	}
	return out
}

// Filename names an export: <account>_<dd-mm-yyyy>.csv, or <account>_all.csv
// when day is zero. Spaces in account become "-" and slashes "--".
func Filename(account string, day time.Time) string {
	clean := strings.NewReplacer(" ", "-", "/", "--").Replace(strings.TrimSpace(account))
	if clean == "" {
		clean = "mailsift"
	}
	if day.IsZero() {
		return clean + "_all.csv"
	}
	return clean + "_" + day.Format("02-01-2006") + ".csv"
}
