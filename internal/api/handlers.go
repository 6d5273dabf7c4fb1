package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/analytics"
	"github.com/mailsift/mailsift/internal/ingest"
	"github.com/mailsift/mailsift/internal/metrics"
	"github.com/mailsift/mailsift/internal/model"
	"github.com/mailsift/mailsift/internal/source"
)

var endpoints = []string{
	"/api/overall_stats",
	"/api/sentiment_over_time",
	"/api/word_cloud",
	"/api/classified_word_cloud",
	"/api/email_categories",
	"/api/category_timeline",
	"/api/sentiment_distribution",
	"/api/email_volume_timeline",
	"/api/top_keywords",
	"/api/available_streams",
}

// badRequest marks a view error caused by the query string.
type badRequest struct{ error }

// view computes one analytics response over the stream-filtered emails.
type view func(r *http.Request, emails []model.AnalyzedEmail) (any, error)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":             "mailsift analytics API",
		"available_endpoints": endpoints,
		"usage":               "Add ?stream=STREAM_NAME to filter by stream",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"token": csrf.Token(r)})
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := s.store.Streams(r.Context())
	if err != nil {
		s.logger.Error("failed to list streams", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list streams")
		return
	}
	if streams == nil {
		streams = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"streams": streams})
}

// analytics wraps a view with stream filtering and the response cache.
func (s *Server) analytics(v view) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := r.URL.Path + "?" + r.URL.Query().Encode()

		body, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.CacheLookups.WithLabelValues("error").Inc()
			s.logger.Warn("response cache lookup failed", zap.Error(err))
		case ok:
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			w.Write(body)
			return
		default:
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		}

		stored, err := s.store.All(ctx)
		if err != nil {
			s.logger.Error("failed to load emails", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load emails")
			return
		}
		stored = analytics.FilterStream(stored, r.URL.Query().Get("stream"))
		if len(stored) == 0 {
			writeError(w, http.StatusNotFound, "no data available")
			return
		}

		data, err := v(r, s.analyzer.Analyze(stored))
		if err != nil {
			var bad badRequest
			if errors.As(err, &bad) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			s.logger.Error("analytics view failed", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		body, err = json.Marshal(data)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if err := s.cache.Set(ctx, key, body, s.cacheTTL); err != nil {
			s.logger.Warn("response cache store failed", zap.Error(err))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

func period(r *http.Request) (analytics.Period, error) {
	p, err := analytics.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		return "", badRequest{err}
	}
	return p, nil
}

func limit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("n")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest{errors.New("n must be a non-negative integer")}
	}
	return n, nil
}

func overallStats(r *http.Request, emails []model.AnalyzedEmail) (any, error) {
	return analytics.ComputeOverall(emails), nil
}

func sentimentOverTime(r *http.Request, emails []model.AnalyzedEmail) (any, error) {
	p, err := period(r)
	if err != nil {
		return nil, err
	}
	return analytics.SentimentOverTime(emails, p), nil
}

func sentimentDistribution(r *http.Request, emails []model.AnalyzedEmail) (any, error) {
	return analytics.SentimentDistribution(emails), nil
}

func volumeTimeline(r *http.Request, emails []model.AnalyzedEmail) (any, error) {
	p, err := period(r)
	if err != nil {
		return nil, err
	}
	return analytics.VolumeTimeline(emails, p), nil
}

func wordCloud(r *http.Request, emails []model.AnalyzedEmail) (any, error) {
	n, err := limit(r)
	if err != nil {
		return nil, err
	}
	return map[string]any{"words": analytics.WordWeights(emails, n)}, nil
}

func topKeywords(r *http.Request, emails []model.AnalyzedEmail) (any, error) {
	n, err := limit(r)
	if err != nil {
		return nil, err
	}
	return analytics.TopKeywords(emails, n), nil
}

func classifiedWordCloud(r *http.Request, emails []model.AnalyzedEmail) (any, error) {
	return map[string]any{"words": analytics.ByCategoryWords(emails)}, nil
}

func (s *Server) emailCategories(r *http.Request, emails []model.AnalyzedEmail) (any, error) {
	return s.analyzer.CategoryStats(emails), nil
}

func (s *Server) categoryTimeline(r *http.Request, emails []model.AnalyzedEmail) (any, error) {
	p, err := period(r)
	if err != nil {
		return nil, err
	}
	return s.analyzer.CategoryTimeline(emails, p), nil
}

type classifyRequest struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
	// Clean runs the cleaning pipeline over Content first.
	Clean bool `json:"clean"`
}

type classifyResponse struct {
	Content        string                     `json:"content"`
	Classification model.ClassificationResult `json:"classification"`
	Sentiment      model.SentimentResult      `json:"sentiment"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Clean && s.runner != nil && s.runner.Pipeline != nil {
		req.Content = s.runner.Pipeline.Clean(req.Content)
	}

	analyzed := s.analyzer.Analyze([]model.CleanedEmail{{Subject: req.Subject, Content: req.Content}})[0]
	writeJSON(w, http.StatusOK, classifyResponse{
		Content:        req.Content,
		Classification: analyzed.Classification,
		Sentiment:      analyzed.Sentiment,
	})
}

// handleIngest accepts a JSONL body of raw messages and ingests it in the
// background.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "ingest is not configured")
		return
	}
	msgs, err := source.ReadJSONL(r.Context(), http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(msgs) == 0 {
		writeError(w, http.StatusBadRequest, "no messages in upload")
		return
	}

	job := s.jobs.Start(func(ctx context.Context, id string) (ingest.Report, error) {
		return s.runner.RunWithID(ctx, id, msgs)
	})
	s.logger.Info("ingest job started", zap.String("job", job.ID), zap.Int("messages", len(msgs)))
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, ingest.ErrJobNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if _, ok := s.jobs.Get(id); !ok {
		writeError(w, http.StatusNotFound, ingest.ErrJobNotFound.Error())
		return
	}
	if !s.jobs.Cancel(id) {
		writeError(w, http.StatusConflict, "job is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
