// Package ingest moves raw messages through the cleaning pipeline into the
// store.
package ingest

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mailsift/mailsift/internal/cleaner"
	"github.com/mailsift/mailsift/internal/logging"
	"github.com/mailsift/mailsift/internal/metrics"
	"github.com/mailsift/mailsift/internal/model"
	"github.com/mailsift/mailsift/internal/source"
	"github.com/mailsift/mailsift/internal/store"
)

const DefaultChunkSize = 500

// Report counts what happened to one batch.
type Report struct {
	JobID     string        `json:"job_id"`
	Received  int           `json:"received"`
	Filtered  int           `json:"filtered"`  // empty, notification or not before the cutoff
	Seen      int           `json:"seen"`      // short-circuited by the seen set
	Processed int           `json:"processed"` // cleaned and handed to the store
	Discarded int           `json:"discarded"` // cleaning failed or left nothing
	Inserted  int           `json:"inserted"`
	Duration  time.Duration `json:"duration"`
}

// BatchError reports a batch aborted by a collaborator. Chunks inserted
// before the failure stay inserted.
type BatchError struct {
	Processed int
	Inserted  int
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("ingest aborted after %d processed, %d inserted: %v", e.Processed, e.Inserted, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Invalidator is told that stored emails changed, so derived views built
// from them are stale.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Runner struct {
	Pipeline *cleaner.Pipeline
	Store    store.Store
	Seen     SeenSet // optional
	Logger   *zap.Logger
	// Invalidator, when set, runs once per batch that inserted rows, also
	// when the batch failed after an earlier chunk was stored.
	Invalidator Invalidator

	Workers           int
	ChunkSize         int
	Cutoff            time.Time // keep messages received before it; zero keeps all
	KeepNotifications bool
}

func (r *Runner) logger() *zap.Logger { return logging.OrNop(r.Logger) }

// RunSource fetches one batch from src and runs it.
func (r *Runner) RunSource(ctx context.Context, src source.Source) (Report, error) {
	msgs, err := src.Fetch(ctx)
	if err != nil {
		return Report{}, &BatchError{Err: fmt.Errorf("source: %w", err)}
	}
	return r.Run(ctx, msgs)
}

func (r *Runner) Run(ctx context.Context, msgs []model.RawMessage) (Report, error) {
	return r.RunWithID(ctx, uuid.New().String(), msgs)
}

// RunWithID filters, cleans and stores msgs under the given job id.
func (r *Runner) RunWithID(ctx context.Context, id string, msgs []model.RawMessage) (Report, error) {
	start := time.Now()
	rep := Report{JobID: id, Received: len(msgs)}
	log := r.logger().With(zap.String("job_id", id))
	defer func() { rep.Duration = time.Since(start) }()
	defer func() {
		if rep.Inserted == 0 || r.Invalidator == nil {
			return
		}
		if err := r.Invalidator.Invalidate(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to invalidate derived views", zap.Error(err))
		}
	}()

	kept := r.filter(ctx, msgs, &rep)

	cleaned, keys, err := r.clean(ctx, kept, &rep)
	if err != nil {
		rep.Duration = time.Since(start)
		return rep, &BatchError{Processed: rep.Processed, Err: err}
	}

	chunk := r.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	for i := 0; i < len(cleaned); i += chunk {
		if err := ctx.Err(); err != nil {
			rep.Duration = time.Since(start)
			return rep, &BatchError{Processed: rep.Processed, Inserted: rep.Inserted, Err: err}
		}
		end := min(i+chunk, len(cleaned))
		n, err := r.Store.InsertMany(ctx, cleaned[i:end])
		if err != nil {
			rep.Duration = time.Since(start)
			return rep, &BatchError{Processed: rep.Processed, Inserted: rep.Inserted, Err: fmt.Errorf("store: %w", err)}
		}
		rep.Inserted += n
		metrics.EmailsInserted.Add(float64(n))
		if r.Seen != nil {
			if err := r.Seen.Mark(ctx, keys[i:end]...); err != nil {
				log.Warn("Failed to mark messages seen", zap.Error(err))
			}
		}
	}

	rep.Duration = time.Since(start)
	log.Info("Ingest finished",
		zap.Int("received", rep.Received),
		zap.Int("filtered", rep.Filtered),
		zap.Int("seen", rep.Seen),
		zap.Int("processed", rep.Processed),
		zap.Int("discarded", rep.Discarded),
		zap.Int("inserted", rep.Inserted),
		zap.Duration("duration", rep.Duration),
	)
	return rep, nil
}

type keyedMessage struct {
	msg model.RawMessage
	key string
}

func (r *Runner) filter(ctx context.Context, msgs []model.RawMessage, rep *Report) []keyedMessage {
	kept := make([]keyedMessage, 0, len(msgs))
	for _, msg := range msgs {
		body := msg.Body
		if strings.TrimSpace(body) == "" {
			body = msg.HTMLBody
		}
		switch {
		case strings.TrimSpace(msg.Subject) == "" && strings.TrimSpace(body) == "":
			rep.Filtered++
		case !r.KeepNotifications && source.IsNotification(msg.Subject, body):
			rep.Filtered++
		case !r.Cutoff.IsZero() && !msg.ReceivedAt.Before(r.Cutoff):
			rep.Filtered++
		default:
			kept = append(kept, keyedMessage{msg: msg, key: MessageKey(msg)})
		}
	}
	metrics.MessagesProcessed.WithLabelValues("filtered").Add(float64(rep.Filtered))

	if r.Seen == nil || len(kept) == 0 {
		return kept
	}
	keys := make([]string, len(kept))
	for i, k := range kept {
		keys[i] = k.key
	}
	seen, err := r.Seen.Seen(ctx, keys...)
	if err != nil {
		r.logger().Warn("Seen set unavailable, processing every message", zap.Error(err))
		return kept
	}
	out := kept[:0]
	for i, k := range kept {
		if seen[i] {
			rep.Seen++
			continue
		}
		out = append(out, k)
	}
	metrics.MessagesProcessed.WithLabelValues("seen").Add(float64(rep.Seen))
	return out
}

// clean runs the pipeline over msgs on a bounded worker pool. Output order
// follows input order.
func (r *Runner) clean(ctx context.Context, msgs []keyedMessage, rep *Report) ([]model.CleanedEmail, []string, error) {
	workers := r.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]*model.CleanedEmail, len(msgs))
	var discarded atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, km := range msgs {
		i, km := i, km
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e, err := r.Pipeline.CleanMessage(km.msg)
			if err != nil {
				r.logger().Warn("Discarding message", zap.String("subject", km.msg.Subject), zap.Error(err))
				discarded.Add(1)
				return nil
			}
			if e.Subject == "" && e.Content == "" {
				discarded.Add(1)
				return nil
			}
			results[i] = &e
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	var (
		cleaned []model.CleanedEmail
		keys    []string
	)
	for i, e := range results {
		if e != nil {
			cleaned = append(cleaned, *e)
			keys = append(keys, msgs[i].key)
		}
	}
	rep.Processed = len(cleaned)
	rep.Discarded = int(discarded.Load())
	metrics.MessagesProcessed.WithLabelValues("cleaned").Add(float64(rep.Processed))
	metrics.MessagesProcessed.WithLabelValues("discarded").Add(float64(rep.Discarded))

	if err != nil {
		return nil, nil, err
	}
	return cleaned, keys, nil
}
