package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ItemPaths are the known locations of the product list, tried in order.
var ItemPaths = []string{
	"mods.listItems",
	"data.mods.listItems",
	"listItems",
	"data.listItems",
	"data.products",
	"products",
	"items",
	"result.items",
	"data.items",
	"itemListElement",
}

// TotalPagePaths are the known locations of the total page count.
var TotalPagePaths = []string{
	"mainInfo.pageTotal",
	"data.mainInfo.pageTotal",
	"pageInfo.totalPages",
	"pagination.totalPages",
	"totalPages",
}

// FindItems returns the first non-empty product list under ItemPaths. matched is
// true when any known path holds a list, even an empty one.
func FindItems(doc any) (items []models.RawItem, matched bool) {
	for _, path := range ItemPaths {
		v, ok := lookup(doc, path)
		if !ok {
			continue
		}
		list, ok := v.([]any)
		if !ok {
			continue
		}
		matched = true
		if out := rawItems(list); len(out) > 0 {
			return out, true
		}
	}
	return nil, matched
}

// FindTotalPages returns the total page count, or 0 when the document does not say.
func FindTotalPages(doc any) int {
	for _, path := range TotalPagePaths {
		if v, ok := lookup(doc, path); ok {
			if n := toInt(v); n > 0 {
				return n
			}
		}
	}
	for _, prefix := range []string{"mainInfo", "data.mainInfo"} {
		total, okTotal := lookup(doc, prefix+".totalResults")
		size, okSize := lookup(doc, prefix+".pageSize")
		if okTotal && okSize {
			if t, s := toInt(total), toInt(size); t > 0 && s > 0 {
				return int(math.Ceil(float64(t) / float64(s)))
			}
		}
	}
	return 0
}

func lookup(doc any, path string) (any, bool) {
	cur := doc
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// rawItems keeps object elements, unwrapping ld+json ListItem wrappers.
func rawItems(list []any) []models.RawItem {
	out := make([]models.RawItem, 0, len(list))
	for _, el := range list {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if inner, ok := m["item"].(map[string]any); ok {
			m = inner
		}
		if len(m) == 0 {
			continue
		}
		out = append(out, models.RawItem(m))
	}
	return out
}

func toInt(v any) int {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(t)
	case int:
		return t
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return 0
}
