package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Bitlatte/contentpages/internal/config"
)

func TestInitializeConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root: `+dir+`
store:
  driver: sqlite
collections:
  - name: allContentfulBrand
    pathPrefix: /brands
    template: src/templates/brand.js
`), 0o644))

	t.Setenv("SHIT_LOGLEVEL", "debug")
	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	require.NoError(t, initializeConfig(rootCmd))

	require.Equal(t, dir, appConfig.Root)
	require.Equal(t, filepath.Join(dir, "content"), appConfig.ContentDir)
	require.Equal(t, filepath.Join(dir, "public", "pages.yaml"), appConfig.ManifestFile)
	require.Equal(t, "sqlite", appConfig.Store.Driver)
	require.Equal(t, filepath.Join(dir, ".cache", "nodes.db"), appConfig.Store.Path)
	require.Equal(t, "debug", appConfig.LogLevel)
	require.Equal(t, 8000, appConfig.Serve.Port)
	require.Equal(t, []config.CollectionConfig{
		{Name: "allContentfulBrand", PathPrefix: "/brands", Template: "src/templates/brand.js"},
	}, appConfig.Collections)
}

func TestInitializeConfig_MissingExplicitFile(t *testing.T) {
	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { cfgFile = "" })

	require.Error(t, initializeConfig(rootCmd))
}
