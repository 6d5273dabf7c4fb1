package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mailsift/mailsift/internal/metrics"
	"github.com/mailsift/mailsift/internal/model"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; sqlite would otherwise answer SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS emails (
		subject TEXT NOT NULL,
		content TEXT NOT NULL,
		received TEXT NOT NULL,
		stream TEXT NOT NULL DEFAULT 'Unknown',
		person_name TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (subject, content, received)
	);

	CREATE INDEX IF NOT EXISTS idx_emails_received ON emails(received);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Databases written before streams and person names were tracked lack
	// these columns; the error on already migrated files is expected.
	s.db.Exec(`ALTER TABLE emails ADD COLUMN stream TEXT NOT NULL DEFAULT 'Unknown'`)
	s.db.Exec(`ALTER TABLE emails ADD COLUMN person_name TEXT NOT NULL DEFAULT ''`)

	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_emails_stream ON emails(stream)`); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *SQLite) InsertMany(ctx context.Context, emails []model.CleanedEmail) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}
	defer func(start time.Time) { metrics.RecordStoreQuery("insert_many", "sqlite", time.Since(start)) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT OR IGNORE INTO emails (subject, content, received, stream, person_name)
	VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range emails {
		res, err := stmt.ExecContext(ctx, e.Subject, e.Content, e.Received, streamOrUnknown(e.Stream), e.PersonName)
		if err != nil {
			return 0, fmt.Errorf("failed to insert email: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit emails: %w", err)
	}
	return inserted, nil
}

func (s *SQLite) All(ctx context.Context) ([]model.CleanedEmail, error) {
	defer func(start time.Time) { metrics.RecordStoreQuery("all", "sqlite", time.Since(start)) }(time.Now())

	rows, err := s.db.QueryContext(ctx, `
	SELECT subject, content, received, stream, person_name
	FROM emails ORDER BY received, subject`)
	if err != nil {
		return nil, fmt.Errorf("failed to query emails: %w", err)
	}
	defer rows.Close()

	var emails []model.CleanedEmail
	for rows.Next() {
		var e model.CleanedEmail
		var stream, person sql.NullString
		if err := rows.Scan(&e.Subject, &e.Content, &e.Received, &stream, &person); err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		e.Stream = streamOrUnknown(stream.String)
		e.PersonName = person.String
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

func (s *SQLite) Streams(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT stream FROM emails ORDER BY stream`)
	if err != nil {
		return nil, fmt.Errorf("failed to query streams: %w", err)
	}
	defer rows.Close()

	var streams []string
	for rows.Next() {
		var stream string
		if err := rows.Scan(&stream); err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		streams = append(streams, stream)
	}
	return streams, rows.Err()
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return n, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func streamOrUnknown(stream string) string {
	if stream == "" {
		return model.UnknownStream
	}
	return stream
}
