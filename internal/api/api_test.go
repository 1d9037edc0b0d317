package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/LJTian/RSSDigest/internal/config"
	"github.com/LJTian/RSSDigest/internal/pipeline"
	"github.com/LJTian/RSSDigest/internal/report"
	"github.com/LJTian/RSSDigest/internal/scheduler"
	"github.com/LJTian/RSSDigest/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []pipeline.Options
}

func (f *fakeFetcher) Run(_ context.Context, opts pipeline.Options) pipeline.RunStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	return pipeline.RunStats{Feeds: 2, Processed: 3, New: 2, Duplicates: 1, FailedFeeds: []string{}}
}

type fakeGenerator struct {
	kind   report.Kind
	window report.Window
}

func (g *fakeGenerator) Generate(_ context.Context, kind report.Kind, w report.Window) (*storage.Report, error) {
	g.kind, g.window = kind, w
	return &storage.Report{ID: 7, Kind: string(kind), WindowStart: w.Start, WindowEnd: w.End, Digest: "d"}, nil
}

type fakeStatus struct{}

func (fakeStatus) Status() scheduler.Status {
	return scheduler.Status{FetchRunning: true, FetchPeriodMinutes: 10, Reports: []string{"daily"}}
}

type testEnv struct {
	router   *gin.Engine
	store    *storage.Store
	provider *config.Provider
	fetcher  *fakeFetcher
	gen      *fakeGenerator
	server   *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	store, err := storage.NewStore(storage.Options{Driver: "sqlite", DSN: filepath.Join(dir, "api.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.AI.APIKey = "sk-secret"
	cfg.Server.BasicAuthPass = "pw"
	provider := config.NewProvider(filepath.Join(dir, "config.yaml"), cfg)

	env := &testEnv{store: store, provider: provider, fetcher: &fakeFetcher{}, gen: &fakeGenerator{}}
	env.server = NewServer(provider, store, env.fetcher, env.gen, fakeStatus{}, nil)
	env.router = gin.New()
	env.server.RegisterRoutes(env.router)
	return env
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func TestSettingsAreRedactedAndSecretsPreserved(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, code)
	var got config.Config
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, config.Redacted, got.AI.APIKey)
	assert.Empty(t, got.Server.BasicAuthPass)

	got.Fetch.Feeds = []string{" https://example.com/rss ", ""}
	got.Fetch.IntervalMinutes = 15
	code, resp = env.do(t, http.MethodPut, "/api/settings", got)
	require.Equal(t, http.StatusOK, code, string(resp.Data))

	cur := env.provider.Get()
	assert.Equal(t, "sk-secret", cur.AI.APIKey, "*** keeps the stored secret")
	assert.Equal(t, "pw", cur.Server.BasicAuthPass)
	assert.Equal(t, []string{"https://example.com/rss"}, cur.Fetch.Feeds)
	assert.Equal(t, 15, cur.Fetch.IntervalMinutes)
}

func TestSettingsPartialBodyKeepsOtherFields(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPut, "/api/settings", map[string]any{
		"reports": map[string]any{"hourly_enabled": true},
	})
	require.Equal(t, http.StatusOK, code)
	cur := env.provider.Get()
	assert.True(t, cur.Reports.HourlyEnabled)
	assert.Equal(t, config.Default().Fetch.IntervalMinutes, cur.Fetch.IntervalMinutes)
	assert.Equal(t, "sk-secret", cur.AI.APIKey)
}

func TestSettingsRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPut, "/api/settings", map[string]any{
		"fetch": map[string]any{"interval_minutes": 0},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", resp.Code)
	assert.Equal(t, config.Default().Fetch.IntervalMinutes, env.provider.Get().Fetch.IntervalMinutes)
}

func TestFetchPassesForce(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/api/fetch", map[string]any{"force": true})
	require.Equal(t, http.StatusOK, code)
	var stats pipeline.RunStats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, 3, stats.Processed)

	code, _ = env.do(t, http.MethodPost, "/api/fetch", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []pipeline.Options{{Force: true}, {Force: false}}, env.fetcher.calls)
}

func TestArticlesListAndGet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i, feed := range []string{"https://a/rss", "https://a/rss", "https://b/rss"} {
		_, _, err := env.store.InsertArticle(ctx, &storage.Article{FeedURL: feed, ItemUID: string(rune('x' + i)), Title: "t"})
		require.NoError(t, err)
	}

	code, resp := env.do(t, http.MethodGet, "/api/articles?feed=https://a/rss&limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	var page storage.ArticlePage
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.EqualValues(t, 2, page.Total)
	require.Len(t, page.Items, 1)

	code, resp = env.do(t, http.MethodGet, "/api/articles/1", nil)
	require.Equal(t, http.StatusOK, code)
	var a storage.Article
	require.NoError(t, json.Unmarshal(resp.Data, &a))
	assert.Equal(t, "https://a/rss", a.FeedURL)

	code, resp = env.do(t, http.MethodGet, "/api/articles/999", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", resp.Code)

	code, _ = env.do(t, http.MethodGet, "/api/articles/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReportsListValidatesKind(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, report.Beijing)
	_, err := env.store.UpsertReport(ctx, &storage.Report{Kind: "daily", WindowStart: start, WindowEnd: start.Add(24 * time.Hour), Digest: "x"})
	require.NoError(t, err)

	code, resp := env.do(t, http.MethodGet, "/api/reports?kind=daily", nil)
	require.Equal(t, http.StatusOK, code)
	var page storage.ReportPage
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.EqualValues(t, 1, page.Total)

	code, _ = env.do(t, http.MethodGet, "/api/reports?kind=weekly", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodGet, "/api/reports/42", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGenerateReportWindows(t *testing.T) {
	env := newTestEnv(t)
	env.server.now = func() time.Time { return time.Date(2024, 5, 1, 2, 30, 0, 0, time.UTC) }

	// 省略 start/end：最近一个完整的小时窗口（北京时间 10:00-11:00）
	code, _ := env.do(t, http.MethodPost, "/api/reports/generate", map[string]any{"kind": "hourly"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, report.Hourly, env.gen.kind)
	assert.True(t, env.gen.window.Start.Equal(time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)))
	assert.True(t, env.gen.window.End.Equal(time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)))

	code, _ = env.do(t, http.MethodPost, "/api/reports/generate", map[string]any{
		"kind": "daily", "start": "2024-04-01T00:00:00+08:00", "end": "2024-04-03T00:00:00+08:00",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 48*time.Hour, env.gen.window.End.Sub(env.gen.window.Start))

	cases := []map[string]any{
		{"kind": "weekly"},
		{"kind": "daily", "start": "2024-04-01T00:00:00Z"},
		{"kind": "daily", "start": "yesterday", "end": "2024-04-03T00:00:00Z"},
		{"kind": "daily", "start": "2024-04-03T00:00:00Z", "end": "2024-04-03T00:00:00Z"},
	}
	for _, body := range cases {
		code, resp := env.do(t, http.MethodPost, "/api/reports/generate", body)
		assert.Equal(t, http.StatusBadRequest, code, "%v", body)
		assert.Equal(t, "bad_request", resp.Code)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	code, resp := env.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, code)
	var st statusResponse
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	assert.True(t, st.Scheduler.FetchRunning)
	assert.Equal(t, []string{"daily"}, st.Scheduler.Reports)
	assert.Zero(t, st.Articles)
}

func TestBasicAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BasicAuth("admin", "pw"))
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/api/status", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	serve := func(path, user, pass string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if user != "" {
			req.SetBasicAuth(user, pass)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, serve("/health", "", ""))
	assert.Equal(t, http.StatusUnauthorized, serve("/api/status", "", ""))
	assert.Equal(t, http.StatusUnauthorized, serve("/api/status", "admin", "bad"))
	assert.Equal(t, http.StatusOK, serve("/api/status", "admin", "pw"))

	open := gin.New()
	open.Use(BasicAuth("", ""))
	open.GET("/api/status", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	w := httptest.NewRecorder()
	open.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
