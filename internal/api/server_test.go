package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/internal/cleaner"
	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/ingest"
	"github.com/mailsift/mailsift/internal/model"
	"github.com/mailsift/mailsift/internal/store"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	cleared int
}

func newMemCache() *memCache { return &memCache{entries: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.entries[key]
	return body, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, body []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = body
	return nil
}

func (c *memCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string][]byte{}
	c.cleared++
	return nil
}

type fixture struct {
	srv     *Server
	handler http.Handler
	store   store.Store
	cache   *memCache
}

func newFixture(t *testing.T, seed []model.CleanedEmail) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "emails.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	if len(seed) > 0 {
		_, err := st.InsertMany(context.Background(), seed)
		require.NoError(t, err)
	}

	p, err := cleaner.New(cleaner.DefaultConfig())
	require.NoError(t, err)

	cache := newMemCache()
	srv, err := NewServer(config.ServerConfig{Port: 8080, CacheTTLSec: 60}, Deps{
		Store:  st,
		Runner: &ingest.Runner{Pipeline: p, Store: st, Workers: 2, ChunkSize: 10},
		Cache:  cache,
	})
	require.NoError(t, err)
	return &fixture{srv: srv, handler: srv.Handler(), store: st, cache: cache}
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

// post performs the CSRF handshake and then posts body.
func (f *fixture) post(t *testing.T, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	tokenRec := f.get(t, "/api/csrf")
	require.Equal(t, http.StatusOK, tokenRec.Code)
	var tok map[string]string
	require.NoError(t, json.NewDecoder(tokenRec.Body).Decode(&tok))

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("X-CSRF-Token", tok["token"])
	for _, c := range tokenRec.Result().Cookies() {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

var seed = []model.CleanedEmail{
	{Subject: "Course registration", Content: "When is the registration deadline?", Received: "2025-02-03", Stream: "CS", PersonName: "Ada"},
	{Subject: "Bus pass", Content: "The bus route is terrible.", Received: "2025-02-05", Stream: "LS", PersonName: "Ben"},
}

func TestIndexAndHealth(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = f.get(t, "/")
	var idx map[string]any
	decode(t, rec, &idx)
	assert.Len(t, idx["available_endpoints"], len(endpoints))
}

func TestOverallStatsWithStreamFilter(t *testing.T) {
	f := newFixture(t, seed)

	var all analyticsOverall
	decode(t, f.get(t, "/api/overall_stats"), &all)
	assert.Equal(t, 2, all.TotalEmails)
	assert.Equal(t, []string{"2025-02-03", "2025-02-05"}, all.DateRange)

	var cs analyticsOverall
	decode(t, f.get(t, "/api/overall_stats?stream=CS"), &cs)
	assert.Equal(t, 1, cs.TotalEmails)

	rec := f.get(t, "/api/overall_stats?stream=HUM")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type analyticsOverall struct {
	TotalEmails int      `json:"total_emails"`
	DateRange   []string `json:"date_range"`
}

func TestAnalyticsResponsesAreCached(t *testing.T) {
	f := newFixture(t, seed)

	first := f.get(t, "/api/sentiment_distribution")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get("X-Cache"))

	second := f.get(t, "/api/sentiment_distribution")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "hit", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestPeriodValidation(t *testing.T) {
	f := newFixture(t, seed)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/email_volume_timeline?period=years").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/top_keywords?n=-1").Code)

	var vol struct {
		Time  []string `json:"time"`
		Count []int    `json:"count"`
	}
	decode(t, f.get(t, "/api/email_volume_timeline?period=weeks"), &vol)
	assert.Equal(t, []string{"2025-02-03/2025-02-09"}, vol.Time)
	assert.Equal(t, []int{2}, vol.Count)

	var st struct {
		Time []string `json:"time"`
	}
	decode(t, f.get(t, "/api/sentiment_over_time"), &st)
	assert.Equal(t, []string{"2025-02-03", "2025-02-04", "2025-02-05"}, st.Time)
}

func TestCategoryEndpoints(t *testing.T) {
	f := newFixture(t, seed)

	var cats struct {
		CategoryCounts map[string]int `json:"category_counts"`
	}
	decode(t, f.get(t, "/api/email_categories"), &cats)
	assert.Equal(t, 1, cats.CategoryCounts["course_selection"])
	assert.Equal(t, 1, cats.CategoryCounts["transportation"])

	var timeline struct {
		Time       []string         `json:"time"`
		Categories map[string][]int `json:"categories"`
	}
	decode(t, f.get(t, "/api/category_timeline?period=months"), &timeline)
	assert.Equal(t, []string{"2025-02"}, timeline.Time)
	assert.Equal(t, []int{1}, timeline.Categories["transportation"])

	rec := f.get(t, "/api/classified_word_cloud")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "course_selection")
}

func TestAvailableStreams(t *testing.T) {
	f := newFixture(t, nil)
	assert.JSONEq(t, `{"streams":[]}`, f.get(t, "/api/available_streams").Body.String())

	f = newFixture(t, seed)
	assert.JSONEq(t, `{"streams":["CS","LS"]}`, f.get(t, "/api/available_streams").Body.String())
}

func TestPostRequiresCSRFToken(t *testing.T) {
	f := newFixture(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/classify", strings.NewReader(`{"content":"bus"}`))
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestClassify(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.post(t, "/api/classify", `{"subject":"Parking","content":"Hi,\nWhere is the parking lot?\nThanks","clean":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp classifyResponse
	decode(t, rec, &resp)
	assert.Equal(t, "transportation", resp.Classification.Category)
	assert.Equal(t, "Where is the parking lot?", resp.Content)
	assert.Equal(t, model.Neutral, resp.Sentiment.Label)

	rec = f.post(t, "/api/classify", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOutOfBandIngestRefreshesCachedViews(t *testing.T) {
	f := newFixture(t, seed)

	var before analyticsOverall
	decode(t, f.get(t, "/api/overall_stats"), &before)
	require.Equal(t, 2, before.TotalEmails)

	// A second runner over the same store and cache, as the ingest command uses.
	p, err := cleaner.New(cleaner.DefaultConfig())
	require.NoError(t, err)
	r := &ingest.Runner{Pipeline: p, Store: f.store, Invalidator: f.cache}
	rep, err := r.Run(context.Background(), []model.RawMessage{{
		Subject:    "Library",
		Body:       "Is the library open late?",
		ReceivedAt: time.Date(2025, 2, 6, 10, 0, 0, 0, time.UTC),
		Account:    "Cy Chen",
	}})
	require.NoError(t, err)
	require.Equal(t, 1, rep.Inserted)

	rec := f.get(t, "/api/overall_stats")
	assert.Empty(t, rec.Header().Get("X-Cache"))
	var after analyticsOverall
	decode(t, rec, &after)
	assert.Equal(t, 3, after.TotalEmails)
}

func TestNewServerKeepsRunnerInvalidator(t *testing.T) {
	own := newMemCache()
	r := &ingest.Runner{Invalidator: own}
	_, err := NewServer(config.ServerConfig{Port: 8080}, Deps{Runner: r, Cache: newMemCache()})
	require.NoError(t, err)
	assert.Same(t, own, r.Invalidator)
}

func TestIngestJob(t *testing.T) {
	f := newFixture(t, seed)

	// Warm the cache so the job has something to invalidate.
	require.Equal(t, http.StatusOK, f.get(t, "/api/overall_stats").Code)

	body := `{"subject":"Library","body":"Is the library open late?","received_at":"2025-02-06T10:00:00Z","account":"Cy Chen","stream":"HUM"}
{"subject":"","body":""}
`
	rec := f.post(t, "/api/ingest", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var job ingest.Job
	decode(t, rec, &job)
	require.NotEmpty(t, job.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := f.srv.Jobs().Wait(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ingest.JobStatusCompleted, done.Status)
	assert.Equal(t, 1, done.Report.Inserted)
	assert.Equal(t, 1, done.Report.Filtered)
	assert.Equal(t, 1, f.cache.cleared)

	var status ingest.Job
	decode(t, f.get(t, "/api/jobs/"+job.ID), &status)
	assert.Equal(t, ingest.JobStatusCompleted, status.Status)

	var overall analyticsOverall
	decode(t, f.get(t, "/api/overall_stats"), &overall)
	assert.Equal(t, 3, overall.TotalEmails)

	assert.Equal(t, http.StatusConflict, f.post(t, "/api/jobs/"+job.ID+"/cancel", "").Code)
}

func TestIngestRejectsBadUpload(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/ingest", "not json\n").Code)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/ingest", "").Code)
}

func TestUnknownJob(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/jobs/nope").Code)
	assert.Equal(t, http.StatusNotFound, f.post(t, "/api/jobs/nope/cancel", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.get(t, "/healthz")
	rec := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mailsift_http_request_duration_seconds")
}

func TestNewServerRejectsShortCSRFKey(t *testing.T) {
	_, err := NewServer(config.ServerConfig{CSRFKey: "short"}, Deps{})
	assert.Error(t, err)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(2 * time.Minute)
	assert.True(t, rl.Allow("a"))

	now = now.Add(2 * time.Minute)
	rl.Sweep()
	assert.Empty(t, rl.requests)
}
