// Package store persists cleaned emails with insert-or-ignore semantics on
// their natural key (subject, content, received).
package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/model"
)

var ErrUnknownDriver = errors.New("unknown store driver")

// Store is safe for concurrent use. Writers racing on the same key never see
// a uniqueness error; the loser's row is silently ignored.
type Store interface {
	// InsertMany writes emails in one transaction and returns how many were
	// new. Duplicates, within the batch or against stored rows, are skipped.
	InsertMany(ctx context.Context, emails []model.CleanedEmail) (int, error)
	// All returns every stored email ordered by received date, then subject.
	All(ctx context.Context) ([]model.CleanedEmail, error)
	Streams(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Open connects the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = config.DefaultDBPath()
		}
		return NewSQLite(path)
	case "postgres":
		return NewPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
