package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRootHandler_Index(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>Activities</h1>"), 0o644))
	h := NewRootHandler(dir, zaptest.NewLogger(t))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.Redirect)
	mux.HandleFunc("GET "+IndexPath, h.Index)

	rec := do(mux, http.MethodGet, "/")
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	location := rec.Header().Get("Location")
	assert.Equal(t, IndexPath, location)

	// following the redirect lands on the page itself, not another redirect
	rec = do(mux, http.MethodGet, location)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "<h1>Activities</h1>", rec.Body.String())
}

func TestRootHandler_IndexMissing(t *testing.T) {
	h := NewRootHandler(t.TempDir(), zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.Index(rec, httptest.NewRequest(http.MethodGet, IndexPath, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
