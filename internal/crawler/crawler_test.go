package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolens/seolens/internal/util"
)

func TestCheckStatus(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><head><title>  Landing Page </title></head><body>hi</body></html>")
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	c := New(DefaultConfig())
	results := c.CheckStatus(context.Background(), []string{
		server.URL + "/ok",
		server.URL + "/missing",
	})

	require.Len(t, results, 2)

	ok := results[util.NormaliseURL(server.URL+"/ok")]
	require.NotNil(t, ok)
	assert.Equal(t, http.StatusOK, ok.StatusCode)
	assert.Equal(t, "Landing Page", ok.Title)
	assert.True(t, ok.OK())

	missing := results[util.NormaliseURL(server.URL+"/missing")]
	require.NotNil(t, missing)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.True(t, missing.OK())
}

func TestCheckStatusFingerprintsTechnologies(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/app", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("X-Powered-By", "Express")
		fmt.Fprint(w, "<html><head><title>App</title></head><body>app</body></html>")
	})

	c := New(DefaultConfig())
	results := c.CheckStatus(context.Background(), []string{server.URL + "/app"})

	result := results[util.NormaliseURL(server.URL+"/app")]
	require.NotNil(t, result)
	assert.Contains(t, result.Technologies, "Express")
}

func TestCheckStatusUnreachableHost(t *testing.T) {
	c := New(DefaultConfig())
	results := c.CheckStatus(context.Background(), []string{"http://127.0.0.1:1/page"})

	require.Len(t, results, 1)
	for _, result := range results {
		assert.False(t, result.OK())
		assert.NotEmpty(t, result.Error)
	}
}

func TestCheckStatusEmptyBatch(t *testing.T) {
	c := New(DefaultConfig())
	results := c.CheckStatus(context.Background(), nil)
	assert.Empty(t, results)
}

func TestNewUsesDefaultConfig(t *testing.T) {
	c := New(nil)
	assert.Equal(t, DefaultConfig().UserAgent, c.GetUserAgent())
}
