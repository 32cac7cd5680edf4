package cmd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Bitlatte/contentpages/internal/config"
	"github.com/Bitlatte/contentpages/internal/metrics"
	"github.com/Bitlatte/contentpages/internal/model"
	"github.com/Bitlatte/contentpages/internal/site"
)

func testBuild(t *testing.T, m *metrics.Collector) *site.Build {
	t.Helper()
	root := t.TempDir()
	for rel, content := range map[string]string{
		"product/chair.md":    "---\nid: p1\nproductName: Chair\n---\n",
		"category/seating.md": "---\nid: c1\n---\n",
	} {
		path := filepath.Join(root, "content", filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	cfg := config.Config{Root: root, ContentDir: "content", OutputDir: "public"}.Resolved()
	b, err := site.Run(context.Background(), cfg, zerolog.Nop(), m)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	m := metrics.New()
	b := testBuild(t, m)
	srv := httptest.NewServer(newDevRouter(func() *site.Build { return b }, m))
	t.Cleanup(srv.Close)
	return srv
}

func TestDevRouter_Pages(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/__pages")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []model.RouteDescriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 2)
	require.Equal(t, "/products/p1/", got[0].Path)
	require.Equal(t, "/categories/c1/", got[1].Path)
}

func TestDevRouter_QueryPost(t *testing.T) {
	srv := newTestServer(t)

	body := `{"query":"query($id: String) { contentfulProduct(id: $id) { productName } }","variables":{"id":"p1"},"path":"/products/p1/"}`
	resp, err := http.Post(srv.URL+"/___graphql", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got queryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Empty(t, got.Errors)
	require.Equal(t, map[string]interface{}{"productName": "Chair"}, got.Data["contentfulProduct"])
}

func TestDevRouter_QueryGet(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/___graphql?query=" + url.QueryEscape(`{ allContentfulCategory { totalCount } }`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var got queryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Empty(t, got.Errors)
	require.Equal(t, map[string]interface{}{"totalCount": float64(1)}, got.Data["allContentfulCategory"])
}

func TestDevRouter_QueryErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		do     func() (*http.Response, error)
		status int
	}{
		{"missing query", func() (*http.Response, error) { return http.Get(srv.URL + "/___graphql") }, http.StatusBadRequest},
		{"bad body", func() (*http.Response, error) {
			return http.Post(srv.URL+"/___graphql", "application/json", strings.NewReader("{"))
		}, http.StatusBadRequest},
		{"unknown field", func() (*http.Response, error) {
			return http.Post(srv.URL+"/___graphql", "application/json", strings.NewReader(`{"query":"{ allContentfulBrand { totalCount } }"}`))
		}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.do()
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.status, resp.StatusCode)

			var got queryResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			require.NotEmpty(t, got.Errors)
		})
	}
}

func TestDevRouter_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `contentpages_pages_created_total{collection="allContentfulProduct"} 1`)
}
