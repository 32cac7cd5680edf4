package config

import "path/filepath"

// Config is decoded by viper from config.yaml, SHIT_* env vars and defaults.
type Config struct {
	Root         string             `mapstructure:"root"`
	ContentDir   string             `mapstructure:"contentDir"`
	OutputDir    string             `mapstructure:"outputDir"`
	ManifestFile string             `mapstructure:"manifestFile"`
	MetricsFile  string             `mapstructure:"metricsFile"`
	LogLevel     string             `mapstructure:"logLevel"`
	LogFormat    string             `mapstructure:"logFormat"`
	Store        StoreConfig        `mapstructure:"store"`
	Collections  []CollectionConfig `mapstructure:"collections"`
	Serve        ServeConfig        `mapstructure:"serve"`
}

// StoreConfig selects the node store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "memory" or "sqlite"
	Path   string `mapstructure:"path"`
}

// CollectionConfig is one queryable collection that gets a page per record.
type CollectionConfig struct {
	Name       string `mapstructure:"name"`
	PathPrefix string `mapstructure:"pathPrefix"`
	Template   string `mapstructure:"template"`
}

type ServeConfig struct {
	Port int `mapstructure:"port"`
}

// DefaultCollections are the product and category pages of the storefront.
func DefaultCollections() []CollectionConfig {
	return []CollectionConfig{
		{Name: "allContentfulProduct", PathPrefix: "/products", Template: "src/templates/product.js"},
		{Name: "allContentfulCategory", PathPrefix: "/categories", Template: "src/templates/category.js"},
	}
}

// Resolved returns a copy with the content, output, manifest, metrics and
// store paths anchored at Root. Empty paths stay empty.
func (c Config) Resolved() Config {
	if c.Root == "" {
		c.Root = "."
	}
	c.ContentDir = c.under(c.ContentDir)
	c.OutputDir = c.under(c.OutputDir)
	if c.ManifestFile != "" && !filepath.IsAbs(c.ManifestFile) {
		c.ManifestFile = filepath.Join(c.OutputDir, c.ManifestFile)
	}
	c.MetricsFile = c.under(c.MetricsFile)
	if c.Store.Path != ":memory:" {
		c.Store.Path = c.under(c.Store.Path)
	}
	return c
}

func (c Config) under(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}
