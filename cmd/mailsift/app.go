package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/analytics"
	"github.com/mailsift/mailsift/internal/api"
	"github.com/mailsift/mailsift/internal/classifier"
	"github.com/mailsift/mailsift/internal/cleaner"
	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/ingest"
	"github.com/mailsift/mailsift/internal/logging"
	"github.com/mailsift/mailsift/internal/metrics"
	"github.com/mailsift/mailsift/internal/model"
	"github.com/mailsift/mailsift/internal/reply"
	"github.com/mailsift/mailsift/internal/sanitize"
	"github.com/mailsift/mailsift/internal/sentiment"
	"github.com/mailsift/mailsift/internal/store"
)

// app holds what every command shares: config, logger and lazily opened
// connections.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  store.Store
	redis  *redis.Client
}

func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) openStore(ctx context.Context) (store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	st, err := store.Open(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st
	return st, nil
}

func (a *app) redisClient() *redis.Client {
	if !a.cfg.Redis.Enabled() {
		return nil
	}
	if a.redis == nil {
		a.redis = ingest.NewRedisClient(a.cfg.Redis)
	}
	return a.redis
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	a.logger.Sync()
}

func (a *app) pipeline() (*cleaner.Pipeline, error) {
	pc := a.cfg.Pipeline
	profile, err := sanitize.ParseProfile(pc.Profile)
	if err != nil {
		return nil, err
	}

	opts := reply.DefaultOptions()
	if pc.DisableParser {
		opts.Parser = nil
	}
	if pc.MaxBlankRun != nil {
		opts.MaxBlankRun = *pc.MaxBlankRun
	}
	if pc.MinKeptRatio != nil {
		opts.MinKeptRatio = *pc.MinKeptRatio
	}
	if pc.MinProseChars != nil {
		opts.MinProseChars = *pc.MinProseChars
	}

	cc := cleaner.DefaultConfig()
	cc.Profile = profile
	cc.Reply = opts
	if len(pc.Stages) > 0 {
		cc.Stages = pc.Stages
	}
	if pc.MaxPasses > 0 {
		cc.MaxPasses = pc.MaxPasses
	}

	p, err := cleaner.New(cc)
	if err != nil {
		return nil, err
	}
	return p.Observe(metrics.RecordStage), nil
}

func (a *app) analyzer() (*analytics.Analyzer, error) {
	var table *classifier.Table
	var err error
	switch {
	case a.cfg.Classifier.TableDir != "":
		table, err = classifier.LoadTableDir(a.cfg.Classifier.TableDir)
	case a.cfg.Classifier.Table != "":
		table, err = classifier.LoadTable(a.cfg.Classifier.Table)
	}
	if err != nil {
		return nil, err
	}

	return analytics.New(classifier.New(table), sentiment.Default()), nil
}

func (a *app) runner(ctx context.Context) (*ingest.Runner, error) {
	p, err := a.pipeline()
	if err != nil {
		return nil, err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	r := &ingest.Runner{
		Pipeline:          p,
		Store:             st,
		Logger:            a.logger,
		Workers:           a.cfg.Pipeline.Workers,
		ChunkSize:         a.cfg.Pipeline.ChunkSize,
		Cutoff:            a.cfg.CutoffDay(time.Now()),
		KeepNotifications: a.cfg.Sources.KeepNotifications,
	}
	if rc := a.redisClient(); rc != nil {
		r.Seen = ingest.NewRedisSeen(rc, time.Duration(a.cfg.Redis.SeenTTL)*time.Hour)
		r.Invalidator = api.NewRedisCache(rc)
	}
	return r, nil
}

// analyzed loads stored emails of one stream (all when empty) and derives
// their classification and sentiment.
func (a *app) analyzed(ctx context.Context, stream string) ([]model.AnalyzedEmail, error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	emails, err := st.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load emails: %w", err)
	}
	an, err := a.analyzer()
	if err != nil {
		return nil, err
	}
	return an.Analyze(analytics.FilterStream(emails, stream)), nil
}
