package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/config"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/db"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/health"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/registry"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/streaming"
)

func newTestRouter(t *testing.T, redisClient *redis.Client) (http.Handler, *registry.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cat, err := config.DefaultCatalog()
	require.NoError(t, err)
	reg := registry.NewFromCatalog(cat, logger)
	stream := streaming.NewManager(8, logger)
	reg.AddListener(stream.PublishChange)

	hm := health.NewManager(logger)
	require.NoError(t, hm.RegisterChecker(health.NewRegistryHealthChecker(reg)))

	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<h1>Activities</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "app.js"), []byte("fetchActivities();"), 0o644))

	return newRouter(routerDeps{
		registry:  reg,
		stream:    stream,
		health:    hm,
		redis:     redisClient,
		staticDir: staticDir,
		logger:    logger,
	}), reg
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_CoreRoutes(t *testing.T) {
	router, reg := newTestRouter(t, nil)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/static/index.html", rec.Header().Get("Location"))
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/static/index.html", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
	assert.Contains(t, rec.Body.String(), "Activities")

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fetchActivities")

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/activities", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Chess Club")

	rec = serve(router, httptest.NewRequest(http.MethodPost, "/activities/Chess%20Club/signup?email=test@mergington.edu", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	chess, err := reg.Get("Chess Club")
	require.NoError(t, err)
	assert.Len(t, chess.Participants, 3)

	rec = serve(router, httptest.NewRequest(http.MethodDelete, "/activities/Chess%20Club/unregister?email=test@mergington.edu", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodPost, "/activities/NonExistent%20Activity/signup?email=test@mergington.edu", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_UnknownPathNotFound(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rec := serve(router, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_OperationalRoutes(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// generate at least one series for the HTTP collectors
	serve(router, httptest.NewRequest(http.MethodGet, "/activities", nil))
	rec = serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "activities_http_requests_total")

	rec = serve(router, httptest.NewRequest(http.MethodOptions, "/activities/Chess%20Club/signup", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_IdempotentSignup(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	router, reg := newTestRouter(t, client)

	signup := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/activities/Chess%20Club/signup?email=retry@mergington.edu", nil)
		req.Header.Set("Idempotency-Key", "retry-1")
		return serve(router, req)
	}

	first := signup()
	require.Equal(t, http.StatusOK, first.Code)

	// a retried request replays the success instead of reporting a duplicate
	second := signup()
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Cached"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	chess, _ := reg.Get("Chess Club")
	assert.Len(t, chess.Participants, 3)

	// without the header the duplicate is reported as usual
	rec := serve(router, httptest.NewRequest(http.MethodPost, "/activities/Chess%20Club/signup?email=retry@mergington.edu", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWatchCatalog_AppliesChanges(t *testing.T) {
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "activities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`activities:
  Chess Club:
    description: Chess
    schedule: Fridays
    max_participants: 12
    participants: [michael@mergington.edu]
`), 0o644))

	cat, err := config.LoadCatalog(path)
	require.NoError(t, err)
	reg := registry.NewFromCatalog(cat, logger)
	_, err = reg.Signup("Chess Club", "live@mergington.edu")
	require.NoError(t, err)

	cm, err := watchCatalog(t.Context(), config.CatalogConfig{Path: path, PollInterval: 50}, reg, logger)
	require.NoError(t, err)
	defer cm.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`activities:
  Chess Club:
    description: Chess and more
    schedule: Fridays
    max_participants: 14
    participants: [michael@mergington.edu]
  Film Club:
    description: Watch films
    schedule: Thursdays
    max_participants: 10
    participants: []
`), 0o644))

	require.Eventually(t, func() bool {
		_, err := reg.Get("Film Club")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	chess, err := reg.Get("Chess Club")
	require.NoError(t, err)
	assert.Equal(t, "Chess and more", chess.Description)
	assert.Equal(t, []string{"michael@mergington.edu", "live@mergington.edu"}, chess.Participants)

	// an invalid file is rejected and leaves the registry alone
	require.NoError(t, os.WriteFile(path, []byte("activities: {}\n"), 0o644))
	require.Error(t, cm.ReloadConfig("activities.yaml"))
	assert.Len(t, reg.Names(), 2)
}

func TestRouter_HistoryRoute(t *testing.T) {
	withoutAudit, _ := newTestRouter(t, nil)
	rec := serve(withoutAudit, httptest.NewRequest(http.MethodGet, "/activities/Chess%20Club/history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	logger := zaptest.NewLogger(t)
	sqlDB, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	auditClient := db.NewClientFromDB(sqlDB, logger, 1, 16)
	t.Cleanup(func() { _ = auditClient.Close() })
	require.NoError(t, auditClient.EnsureSchema(t.Context()))

	cat, err := config.DefaultCatalog()
	require.NoError(t, err)
	reg := registry.NewFromCatalog(cat, logger)
	reg.AddListener(auditClient.RecordChange)
	router := newRouter(routerDeps{
		registry:  reg,
		stream:    streaming.NewManager(8, logger),
		health:    health.NewManager(logger),
		audit:     auditClient,
		staticDir: t.TempDir(),
		logger:    logger,
	})

	rec = serve(router, httptest.NewRequest(http.MethodPost, "/activities/Chess%20Club/signup?email=test@mergington.edu", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := serve(router, httptest.NewRequest(http.MethodGet, "/activities/Chess%20Club/history", nil))
		return rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), `"count":1`)
	}, 5*time.Second, 20*time.Millisecond)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/activities/Chess%20Club/history", nil))
	assert.Contains(t, rec.Body.String(), "test@mergington.edu")
	assert.Contains(t, rec.Body.String(), `"action":"signup"`)
}
