package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoSeeds is returned when seed inputs were supplied but none yields a usable URL.
var ErrNoSeeds = errors.New("config: no usable seed URLs")

// Input is the crawl input document. JSON documents decode as well since YAML is a superset.
type Input struct {
	StartURLs          urlList       `yaml:"startUrls"`
	CategoryURL        string        `yaml:"categoryUrl"`
	SearchQuery        string        `yaml:"searchQuery"`
	MaxProducts        ceiling       `yaml:"maxProducts"`
	MaxPages           ceiling       `yaml:"maxPages"`
	MinPrice           scalar        `yaml:"minPrice"`
	MaxPrice           scalar        `yaml:"maxPrice"`
	SortBy             string        `yaml:"sortBy"`
	IncludeOutOfStock  *bool         `yaml:"includeOutOfStock"`
	ProxyConfiguration *ProxyOptions `yaml:"proxyConfiguration"`
	UsePlaywright      bool          `yaml:"usePlaywright"`
}

// ProxyOptions is passed through to the fetch capability untouched.
type ProxyOptions struct {
	UseApifyProxy bool     `yaml:"useApifyProxy"`
	ProxyURLs     []string `yaml:"proxyUrls"`
}

// LoadInput reads and decodes an input document from path.
func LoadInput(path string) (*Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return ParseInput(data)
}

// ParseInput decodes an input document.
func ParseInput(data []byte) (*Input, error) {
	var in Input
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return &in, nil
}

// Apply copies the input options onto cfg.
func (in *Input) Apply(cfg *Config) {
	if in == nil {
		return
	}
	if len(in.StartURLs) > 0 {
		cfg.StartURLs = append([]string(nil), in.StartURLs...)
	}
	if v := strings.TrimSpace(in.CategoryURL); v != "" {
		cfg.CategoryURL = v
	}
	if v := strings.TrimSpace(in.SearchQuery); v != "" {
		cfg.SearchQuery = v
	}
	if in.MaxProducts.set {
		cfg.MaxProducts = in.MaxProducts.resolve(DefaultMaxProducts)
	}
	if in.MaxPages.set {
		cfg.MaxPages = in.MaxPages.resolve(DefaultMaxPages)
	}
	if in.MinPrice != "" {
		cfg.MinPrice = string(in.MinPrice)
	}
	if in.MaxPrice != "" {
		cfg.MaxPrice = string(in.MaxPrice)
	}
	if v := strings.TrimSpace(in.SortBy); v != "" {
		cfg.SortBy = v
	}
	if in.IncludeOutOfStock != nil {
		cfg.IncludeOutOfStock = *in.IncludeOutOfStock
	}
	if in.ProxyConfiguration != nil && len(in.ProxyConfiguration.ProxyURLs) > 0 {
		cfg.ProxyURLs = append([]string(nil), in.ProxyConfiguration.ProxyURLs...)
	}
	cfg.UsePlaywright = cfg.UsePlaywright || in.UsePlaywright
}

// SeedURLs builds the initial frontier: start URLs, then the category URL, then a
// synthesized search URL. With no seed input at all the default listing is used.
func (c *Config) SeedURLs() ([]string, error) {
	var seeds []string
	for _, raw := range c.StartURLs {
		for _, line := range strings.Split(raw, "\n") {
			line = strings.TrimSpace(line)
			if isAbsoluteHTTP(line) {
				seeds = append(seeds, line)
			}
		}
	}
	if len(seeds) > 0 {
		return seeds, nil
	}

	if isAbsoluteHTTP(c.CategoryURL) {
		return []string{c.CategoryURL}, nil
	}

	if q := strings.TrimSpace(c.SearchQuery); q != "" {
		return []string{c.searchURL(q)}, nil
	}

	if len(c.StartURLs) == 0 && c.CategoryURL == "" {
		return []string{c.Origin() + "/womens-fashion/"}, nil
	}
	return nil, ErrNoSeeds
}

func (c *Config) searchURL(query string) string {
	u, err := url.Parse(c.Origin() + "/catalog/")
	if err != nil {
		return c.Origin() + "/catalog/?q=" + url.QueryEscape(query)
	}
	params := u.Query()
	params.Set("q", query)
	if c.MinPrice != "" || c.MaxPrice != "" {
		params.Set("price", c.MinPrice+"-"+c.MaxPrice)
	}
	if c.SortBy != "" {
		params.Set("sort", c.SortBy)
	}
	u.RawQuery = params.Encode()
	return u.String()
}

func isAbsoluteHTTP(raw string) bool {
	if !strings.HasPrefix(raw, "http") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// urlList accepts a newline-delimited string, a list of strings, or a list of {url: ...}.
type urlList []string

func (l *urlList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = urlList{node.Value}
		return nil
	case yaml.SequenceNode:
		out := make(urlList, 0, len(node.Content))
		for _, item := range node.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				out = append(out, item.Value)
			case yaml.MappingNode:
				var entry struct {
					URL string `yaml:"url"`
				}
				if err := item.Decode(&entry); err != nil {
					return err
				}
				out = append(out, entry.URL)
			}
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("startUrls: unsupported node kind %d", node.Kind)
	}
}

// ceiling is a products/pages limit that tolerates numeric strings and garbage.
type ceiling struct {
	set   bool
	valid bool
	value int
}

func (c *ceiling) UnmarshalYAML(node *yaml.Node) error {
	c.set = true
	if node.Kind != yaml.ScalarNode {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(node.Value), 64)
	if err != nil || f != f {
		return nil
	}
	c.valid = true
	c.value = int(f)
	return nil
}

func (c ceiling) resolve(fallback int) int {
	if !c.valid || c.value < 0 {
		return fallback
	}
	return c.value
}

// scalar keeps numbers and strings as their textual form.
type scalar string

func (s *scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode || node.Tag == "!!null" {
		return nil
	}
	*s = scalar(strings.TrimSpace(node.Value))
	return nil
}
