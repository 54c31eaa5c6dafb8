package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInputCeilings(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantItems int
		wantPages int
	}{
		{name: "absent keeps defaults", doc: `{}`, wantItems: DefaultMaxProducts, wantPages: DefaultMaxPages},
		{name: "explicit values", doc: `{"maxProducts": 2, "maxPages": 7}`, wantItems: 2, wantPages: 7},
		{name: "zero is unbounded", doc: `{"maxProducts": 0, "maxPages": 0}`, wantItems: 0, wantPages: 0},
		{name: "numeric strings", doc: `{"maxProducts": "15", "maxPages": "3"}`, wantItems: 15, wantPages: 3},
		{name: "negative falls back", doc: `{"maxProducts": -4, "maxPages": -1}`, wantItems: DefaultMaxProducts, wantPages: DefaultMaxPages},
		{name: "garbage falls back", doc: `{"maxProducts": "lots", "maxPages": [1]}`, wantItems: DefaultMaxProducts, wantPages: DefaultMaxPages},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ParseInput([]byte(tt.doc))
			require.NoError(t, err)

			cfg := DefaultConfig()
			in.Apply(cfg)
			assert.Equal(t, tt.wantItems, cfg.MaxProducts)
			assert.Equal(t, tt.wantPages, cfg.MaxPages)
		})
	}
}

func TestParseInputStartURLShapes(t *testing.T) {
	docs := map[string]string{
		"newline string": `{"startUrls": "https://a.test/x\nhttps://a.test/y"}`,
		"string list":    `{"startUrls": ["https://a.test/x", "https://a.test/y"]}`,
		"object list":    `{"startUrls": [{"url": "https://a.test/x"}, {"url": "https://a.test/y"}]}`,
	}

	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			in, err := ParseInput([]byte(doc))
			require.NoError(t, err)

			cfg := DefaultConfig()
			in.Apply(cfg)
			seeds, err := cfg.SeedURLs()
			require.NoError(t, err)
			assert.Equal(t, []string{"https://a.test/x", "https://a.test/y"}, seeds)
		})
	}
}

func TestLoadInputYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.yaml")
	doc := `
searchQuery: headphones
minPrice: 500
maxPrice: "2500"
sortBy: priceasc
includeOutOfStock: true
usePlaywright: true
proxyConfiguration:
  proxyUrls:
    - http://proxy-1.test:8000
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	in, err := LoadInput(path)
	require.NoError(t, err)

	cfg := DefaultConfig()
	in.Apply(cfg)
	assert.Equal(t, "headphones", cfg.SearchQuery)
	assert.Equal(t, "500", cfg.MinPrice)
	assert.Equal(t, "2500", cfg.MaxPrice)
	assert.Equal(t, "priceasc", cfg.SortBy)
	assert.True(t, cfg.IncludeOutOfStock)
	assert.True(t, cfg.UsePlaywright)
	assert.Equal(t, []string{"http://proxy-1.test:8000"}, cfg.ProxyURLs)
}

func TestApplyKeepsOutOfStockWhenOmitted(t *testing.T) {
	in, err := ParseInput([]byte(`{"searchQuery": "kettle"}`))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.IncludeOutOfStock = true
	in.Apply(cfg)
	assert.True(t, cfg.IncludeOutOfStock)

	in, err = ParseInput([]byte(`{"includeOutOfStock": false}`))
	require.NoError(t, err)
	in.Apply(cfg)
	assert.False(t, cfg.IncludeOutOfStock)
}

func TestLoadInputMissingFile(t *testing.T) {
	_, err := LoadInput(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
