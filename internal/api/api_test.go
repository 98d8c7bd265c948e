package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/content-store-api/internal/api"
	"github.com/content-store-api/internal/config"
	"github.com/content-store-api/internal/mocks"
	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/search"
	"github.com/content-store-api/internal/service"
)

const (
	testDims  = 32
	testActor = "editor:7"
)

type healthStub struct{ err error }

func (h healthStub) HealthCheck(ctx context.Context) error { return h.err }

type testServer struct {
	router *gin.Engine
	store  *mocks.MemoryStore
	clock  *mocks.FakeClock
}

func setupTestRouter(t *testing.T, health api.HealthChecker) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Defaults()
	cfg.Search.EmbeddingDimensions = testDims

	store := mocks.NewMemoryStore()
	clock := mocks.NewFakeClock(time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC))
	index := search.NewMaintainer(mocks.NewMockEmbedder(testDims), testDims, zerolog.Nop())
	services := service.NewServices(store.Repositories(), index, cfg, zerolog.Nop(), service.WithClock(clock))

	return &testServer{
		router: api.NewRouter(services, health, cfg, zerolog.Nop()),
		store:  store,
		clock:  clock,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", testActor)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) create(t *testing.T, title, body string) models.Article {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/articles", models.ArticleInput{Title: title, Body: body})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res models.MutationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return *res.Article
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Entity  string `json:"entity"`
		Field   string `json:"field"`
		Value   string `json:"value"`
		Fields  []struct {
			Field string `json:"field"`
		} `json:"fields"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	return e
}

func TestHealthEndpoint(t *testing.T) {
	srv := setupTestRouter(t, healthStub{})

	w := srv.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
	assert.Equal(t, "ok", response["database"])
	assert.Equal(t, "content-store-api", response["service"])
}

func TestHealthEndpoint_DatabaseDown(t *testing.T) {
	srv := setupTestRouter(t, healthStub{err: errors.New("connection refused")})

	w := srv.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupTestRouter(t, nil)
	a := srv.create(t, "Metrics Check", "body")
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/v1/articles/"+itoa(a.ID)+"/views", nil).Code)

	w := srv.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `content_store_mutations_total{op="create",outcome="ok"}`)
	assert.Contains(t, body, "content_store_articles_counter_increments_total")
	assert.NotContains(t, body, "content_store_articles_mutations_total")
}

func TestRequestID(t *testing.T) {
	srv := setupTestRouter(t, nil)

	w := srv.do(t, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "6f1c1f3e-8d8b-4b38-9c43-0c3c5f7d2a11")
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, "6f1c1f3e-8d8b-4b38-9c43-0c3c5f7d2a11", w.Header().Get("X-Request-ID"))
}

func TestCreateArticle(t *testing.T) {
	srv := setupTestRouter(t, nil)

	a := srv.create(t, "Hello Gin World", "one two three")
	assert.Equal(t, "hello-gin-world", a.Slug)
	assert.Equal(t, models.StatusDraft, a.Status)
	assert.Equal(t, testActor, a.CreatedBy)
}

func TestCreateArticle_Errors(t *testing.T) {
	srv := setupTestRouter(t, nil)
	srv.create(t, "Taken", "x")

	t.Run("missing actor", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/articles", strings.NewReader(`{"title":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		srv.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		e := decodeError(t, w)
		assert.Equal(t, "validation_failed", e.Error.Code)
		require.Len(t, e.Error.Fields, 1)
		assert.Equal(t, "X-Actor-ID", e.Error.Fields[0].Field)
	})

	t.Run("malformed json", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/v1/articles", `{"title":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/v1/articles", models.ArticleInput{Title: "   "})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		e := decodeError(t, w)
		assert.Equal(t, "article", e.Error.Entity)
	})

	t.Run("slug conflict", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/v1/articles", models.ArticleInput{Title: "Taken"})
		assert.Equal(t, http.StatusConflict, w.Code)
		e := decodeError(t, w)
		assert.Equal(t, "conflict", e.Error.Code)
		assert.Equal(t, "slug", e.Error.Field)
		assert.Equal(t, "taken", e.Error.Value)
	})
}

func TestGetArticle(t *testing.T) {
	srv := setupTestRouter(t, nil)
	a := srv.create(t, "Fetch Me", "body")

	w := srv.do(t, http.MethodGet, "/v1/articles/"+itoa(a.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, http.MethodGet, "/v1/articles/slug/fetch-me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Article
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, a.ID, got.ID)

	w = srv.do(t, http.MethodGet, "/v1/articles/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.do(t, http.MethodGet, "/v1/articles/9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, "not_found", e.Error.Code)
	assert.Equal(t, "article", e.Error.Entity)
	assert.Equal(t, "9999", e.Error.Value)
}

func TestLifecycleEndpoints(t *testing.T) {
	srv := setupTestRouter(t, nil)
	a := srv.create(t, "Lifecycle", "body")
	path := "/v1/articles/" + itoa(a.ID)

	decode := func(w *httptest.ResponseRecorder) *models.Article {
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var res models.MutationResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		return res.Article
	}

	at := srv.clock.Now().Add(time.Hour)
	got := decode(srv.do(t, http.MethodPost, path+"/schedule", map[string]string{"scheduled_at": at.Format(time.RFC3339)}))
	assert.Equal(t, models.StatusScheduled, got.Status)
	require.NotNil(t, got.ScheduledAt)
	assert.True(t, at.Equal(*got.ScheduledAt))

	w := srv.do(t, http.MethodPost, path+"/schedule", map[string]string{"scheduled_at": "tomorrow"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	got = decode(srv.do(t, http.MethodPost, path+"/publish", nil))
	assert.Equal(t, models.StatusPublished, got.Status)
	assert.Nil(t, got.ScheduledAt)

	got = decode(srv.do(t, http.MethodPost, path+"/feature", nil))
	assert.True(t, got.IsFeatured)
	got = decode(srv.do(t, http.MethodPost, path+"/unfeature", nil))
	assert.False(t, got.IsFeatured)

	got = decode(srv.do(t, http.MethodPatch, path, map[string]string{"title": "Lifecycle Renamed"}))
	assert.Equal(t, "lifecycle-renamed", got.Slug)

	w = srv.do(t, http.MethodPatch, path, map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	got = decode(srv.do(t, http.MethodPatch, path, map[string]any{"author_id": 5, "category_id": 8}))
	require.NotNil(t, got.AuthorID)
	assert.Equal(t, int64(5), *got.AuthorID)
	got = decode(srv.do(t, http.MethodPatch, path, map[string]any{"clear_author": true}))
	assert.Nil(t, got.AuthorID)
	require.NotNil(t, got.CategoryID, "category untouched")
	assert.Equal(t, int64(8), *got.CategoryID)
	w = srv.do(t, http.MethodPatch, path, map[string]any{"category_id": 9, "clear_category": true})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	got = decode(srv.do(t, http.MethodPost, path+"/draft", nil))
	assert.Equal(t, models.StatusDraft, got.Status)
	assert.Nil(t, got.PublishedAt)

	got = decode(srv.do(t, http.MethodDelete, path, nil))
	assert.True(t, got.IsDeleted)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, path+"?include_deleted=true", nil).Code)

	got = decode(srv.do(t, http.MethodPost, path+"/restore", nil))
	assert.False(t, got.IsDeleted)
}

func TestListAndStats(t *testing.T) {
	srv := setupTestRouter(t, nil)
	srv.create(t, "Draft One", "x")
	pub := srv.create(t, "Published One", "x")
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/v1/articles/"+itoa(pub.ID)+"/publish", nil).Code)

	w := srv.do(t, http.MethodGet, "/v1/articles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page models.ArticlePage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)

	w = srv.do(t, http.MethodGet, "/v1/articles?include_unpublished=true", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)

	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/v1/articles?limit=ten", nil).Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/v1/articles?featured=maybe", nil).Code)

	w = srv.do(t, http.MethodGet, "/v1/articles?published_from=2026-05-04T00:00:00Z&published_to=2026-05-05T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page = models.ArticlePage{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	w = srv.do(t, http.MethodGet, "/v1/articles?published_to=2026-05-04T00:00:00Z", nil)
	page = models.ArticlePage{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Zero(t, page.Total)
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/v1/articles?published_to=tomorrow", nil).Code)

	w = srv.do(t, http.MethodGet, "/v1/articles/popular?by=likes", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, srv.do(t, http.MethodGet, "/v1/articles/popular?by=shares", nil).Code)

	w = srv.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.StatusPublished])
}

func TestVersionEndpoints(t *testing.T) {
	srv := setupTestRouter(t, nil)
	a := srv.create(t, "Versioned", "first body")
	path := "/v1/articles/" + itoa(a.ID)

	w := srv.do(t, http.MethodPost, path+"/versions", map[string]string{"comment": "v1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var v models.ArticleVersion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, 1, v.VersionNumber)

	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPatch, path, map[string]string{"body": "second body"}).Code)

	w = srv.do(t, http.MethodPost, path+"/versions/1/restore", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res models.MutationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "first body", res.Article.Body)

	w = srv.do(t, http.MethodGet, path+"/versions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []models.ArticleVersion `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Items, 1)

	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, path+"/versions/1", nil).Code)
	w = srv.do(t, http.MethodPost, path+"/versions/7/restore", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "article_version", decodeError(t, w).Error.Entity)
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, path+"/versions/zero", nil).Code)
}

func TestTagEndpoints(t *testing.T) {
	srv := setupTestRouter(t, nil)
	srv.store.AddTag(models.Tag{ID: 3, Name: "Go", Slug: "go"})
	a := srv.create(t, "Tagged", "x")
	path := "/v1/articles/" + itoa(a.ID) + "/tags"

	w := srv.do(t, http.MethodPut, path+"/3", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"added":true}`, w.Body.String())

	w = srv.do(t, http.MethodPut, path+"/3", nil)
	assert.JSONEq(t, `{"added":false}`, w.Body.String())

	w = srv.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"slug":"go"`)

	w = srv.do(t, http.MethodDelete, path+"/3", nil)
	assert.JSONEq(t, `{"removed":true}`, w.Body.String())
	w = srv.do(t, http.MethodDelete, path+"/3", nil)
	assert.JSONEq(t, `{"removed":false}`, w.Body.String())
}

func TestCounterEndpoints(t *testing.T) {
	srv := setupTestRouter(t, nil)
	a := srv.create(t, "Counted", "x")
	path := "/v1/articles/" + itoa(a.ID)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, path+"/views", nil).Code)
	}
	w := srv.do(t, http.MethodPost, path+"/likes", nil)
	assert.JSONEq(t, `{"id":`+itoa(a.ID)+`,"likes":1}`, w.Body.String())

	w = srv.do(t, http.MethodGet, path, nil)
	var got models.Article
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.EqualValues(t, 3, got.Views)

	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodPost, "/v1/articles/404/views", nil).Code)
}

func TestSearchEndpoints(t *testing.T) {
	srv := setupTestRouter(t, nil)
	a := srv.create(t, "Postgres Vacuum Tuning", "autovacuum thresholds and bloat")
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/v1/articles/"+itoa(a.ID)+"/publish", nil).Code)

	var res models.SearchResults
	w := srv.do(t, http.MethodGet, "/v1/search?q=vacuum", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, a.ID, res.Hits[0].Article.ID)
	assert.Equal(t, "Postgres <b>Vacuum</b> Tuning", res.Hits[0].HighlightTitle)

	assert.Equal(t, http.StatusUnprocessableEntity, srv.do(t, http.MethodGet, "/v1/search?q=", nil).Code)

	w = srv.do(t, http.MethodGet, "/v1/search?q=vacuum&published_from=2026-05-05T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res = models.SearchResults{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Empty(t, res.Hits, "published before the range")

	w = srv.do(t, http.MethodGet, "/v1/search?q=vacuum&published_from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "published_from", decodeError(t, w).Error.Field)
	w = srv.do(t, http.MethodGet, "/v1/search?q=vacuum&published_from=2026-05-05T00:00:00Z&published_to=2026-05-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = srv.do(t, http.MethodPost, "/v1/search/semantic", map[string]string{"text": "vacuum bloat"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res = models.SearchResults{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, models.MatchSemantic, res.Hits[0].Match)

	w = srv.do(t, http.MethodPost, "/v1/search/semantic", map[string]any{"vector": []float32{1, 2, 3}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "vector", decodeError(t, w).Error.Fields[0].Field)

	w = srv.do(t, http.MethodGet, "/v1/search/hybrid?q=vacuum&weight=0.5", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res = models.SearchResults{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, models.MatchHybrid, res.Hits[0].Match)

	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/v1/search/hybrid?q=x&weight=heavy", nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, srv.do(t, http.MethodGet, "/v1/search/hybrid?q=x&weight=1.5", nil).Code)

	w = srv.do(t, http.MethodGet, "/v1/articles/suggest?prefix=post", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "postgres-vacuum-tuning")

	w = srv.do(t, http.MethodPost, "/v1/admin/reindex", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report models.ReindexReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Updated)
}

func TestExportEndpoint(t *testing.T) {
	srv := setupTestRouter(t, nil)
	srv.create(t, "Export One", "x")
	srv.create(t, "Export Two", "y")

	w := srv.do(t, http.MethodGet, "/v1/articles/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

	lines := 0
	sc := bufio.NewScanner(w.Body)
	for sc.Scan() {
		var a models.Article
		require.NoError(t, json.Unmarshal(sc.Bytes(), &a))
		lines++
	}
	assert.Equal(t, 2, lines)

	w = srv.do(t, http.MethodGet, "/v1/articles/export?format=json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []models.Article
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	w = srv.do(t, http.MethodGet, "/v1/articles/export?format=csv", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "format", decodeError(t, w).Error.Fields[0].Field)
}

func TestStorageUnavailable(t *testing.T) {
	srv := setupTestRouter(t, nil)
	a := srv.create(t, "Before Outage", "x")
	srv.store.FailWith = errors.New("connection reset by peer")

	w := srv.do(t, http.MethodGet, "/v1/articles/"+itoa(a.ID), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, "storage_unavailable", e.Error.Code)
	assert.NotContains(t, e.Error.Message, "connection reset")

	w = srv.do(t, http.MethodPost, "/v1/articles", models.ArticleInput{Title: "During Outage"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := setupTestRouter(t, nil)

	w := srv.do(t, http.MethodOptions, "/v1/articles", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Actor-ID")
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
