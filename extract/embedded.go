package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"sort"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// embeddedPattern marks where an inline JSON object starts. The object itself
// is cut out by brace matching since the pattern cannot see its end. expr names
// the page expression holding the same object once rendered, if any.
type embeddedPattern struct {
	expr string
	re   *regexp.Regexp
}

var embeddedPatterns = []embeddedPattern{
	{expr: "window.pageData", re: regexp.MustCompile(`window\.pageData\s*=\s*`)},
	{expr: "window.__INITIAL_STATE__", re: regexp.MustCompile(`window\.__INITIAL_STATE__\s*=\s*`)},
	{expr: "window.__PRELOADED_STATE__", re: regexp.MustCompile(`window\.__PRELOADED_STATE__\s*=\s*`)},
	{re: regexp.MustCompile(`app\.run\(\s*`)},
}

// EmbeddedStrategy reads product lists from inline script state and ld+json
// ItemList blocks.
type EmbeddedStrategy struct{}

func NewEmbeddedStrategy() *EmbeddedStrategy { return &EmbeddedStrategy{} }

func (s *EmbeddedStrategy) Source() models.Source { return models.SourceEmbedded }

// Attempt concatenates the items of every pattern and metadata block that parses.
// An inline assignment is skipped when its evaluated value is already in State.
func (s *EmbeddedStrategy) Attempt(_ context.Context, page *PageContext) Result {
	var res Result
	add := func(doc any) {
		items, matched := FindItems(doc)
		if !matched {
			return
		}
		res.Matched = true
		res.Items = append(res.Items, items...)
		if res.TotalPages == 0 {
			res.TotalPages = FindTotalPages(doc)
		}
	}

	keys := make([]string, 0, len(page.State))
	for k := range page.State {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(page.State[k])
	}

	html := []byte(page.HTML)
	for _, pattern := range embeddedPatterns {
		if pattern.expr != "" {
			if _, evaluated := page.State[pattern.expr]; evaluated {
				continue
			}
		}
		for _, loc := range pattern.re.FindAllIndex(html, -1) {
			raw := balancedObject(html[loc[1]:])
			if raw == nil {
				continue
			}
			if doc, err := decode(raw); err == nil {
				add(doc)
			}
		}
	}

	if doc, err := page.Document(); err == nil {
		for _, list := range itemLists(doc) {
			add(list)
		}
	}
	return res
}

// itemLists returns every ItemList object found in ld+json blocks.
func itemLists(doc *goquery.Document) []map[string]any {
	var out []map[string]any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		parsed, err := decode([]byte(sel.Text()))
		if err != nil {
			return
		}
		var walk func(v any)
		walk = func(v any) {
			switch t := v.(type) {
			case []any:
				for _, el := range t {
					walk(el)
				}
			case map[string]any:
				if t["@type"] == "ItemList" {
					out = append(out, t)
					return
				}
				if graph, ok := t["@graph"]; ok {
					walk(graph)
				}
			}
		}
		walk(parsed)
	})
	return out
}

// balancedObject returns the JSON object at the start of b, honouring string
// literals and escapes, or nil when b does not start with a complete object.
func balancedObject(b []byte) []byte {
	b = bytes.TrimLeft(b, " \t\r\n")
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inString := false
	escaped := false
	for i, c := range b {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[:i+1]
			}
		}
	}
	return nil
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
