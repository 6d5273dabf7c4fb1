package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/logging"
	"github.com/mailsift/mailsift/internal/metrics"
	"github.com/mailsift/mailsift/internal/model"
)

type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgres(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*Postgres, error) {
	logger = logging.OrNop(logger)

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}

	// pool settings
	poolCfg.MaxConns = cfg.MaxConns
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = 10
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnIdleTime = time.Minute

	logger.Info("Initializing PostgreSQL connection pool",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("db", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns),
	)

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	p := &Postgres{pool: pool, logger: logger}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("PostgreSQL connection established successfully")
	return p, nil
}

// Long bodies exceed the btree tuple limit, so uniqueness is enforced on
// digests of the text columns.
func (p *Postgres) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS emails (
		subject TEXT NOT NULL,
		content TEXT NOT NULL,
		received DATE NOT NULL,
		stream TEXT NOT NULL DEFAULT 'Unknown',
		person_name TEXT NOT NULL DEFAULT ''
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_emails_key ON emails (md5(subject), md5(content), received);
	CREATE INDEX IF NOT EXISTS idx_emails_stream ON emails (stream);
	`
	if _, err := p.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (p *Postgres) InsertMany(ctx context.Context, emails []model.CleanedEmail) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}
	defer func(start time.Time) { metrics.RecordStoreQuery("insert_many", "postgres", time.Since(start)) }(time.Now())

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range emails {
		batch.Queue(`
		INSERT INTO emails (subject, content, received, stream, person_name)
		VALUES ($1, $2, $3::date, $4, $5)
		ON CONFLICT DO NOTHING`,
			e.Subject, e.Content, e.Received, streamOrUnknown(e.Stream), e.PersonName)
	}

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for range emails {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("failed to insert email: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("failed to insert emails: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit emails: %w", err)
	}
	return inserted, nil
}

func (p *Postgres) All(ctx context.Context) ([]model.CleanedEmail, error) {
	defer func(start time.Time) { metrics.RecordStoreQuery("all", "postgres", time.Since(start)) }(time.Now())

	rows, err := p.pool.Query(ctx, `
	SELECT subject, content, to_char(received, 'YYYY-MM-DD'), stream, person_name
	FROM emails ORDER BY received, subject`)
	if err != nil {
		return nil, fmt.Errorf("failed to query emails: %w", err)
	}
	defer rows.Close()

	var emails []model.CleanedEmail
	for rows.Next() {
		var e model.CleanedEmail
		if err := rows.Scan(&e.Subject, &e.Content, &e.Received, &e.Stream, &e.PersonName); err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

func (p *Postgres) Streams(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT stream FROM emails ORDER BY stream`)
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

func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return n, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
