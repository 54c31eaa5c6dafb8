package parser

import (
	"encoding/json"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	numberPattern = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)
	schemeRepeat  = regexp.MustCompile(`^(?i)(?:https?:)+(https?:)`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// ParseNumber converts a raw value such as "Rs. 1,250" or 4.5 into a float.
// Absent, unparseable and non-finite values yield nil.
func ParseNumber(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		return ParseNumber(t.String())
	case string:
		match := numberPattern.FindString(t)
		if match == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Text renders a scalar raw value as trimmed text with collapsed whitespace.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(whitespace.ReplaceAllString(t, " "))
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		// brand/seller objects carry their display value under name
		if name, ok := t["name"]; ok {
			return Text(name)
		}
	}
	return ""
}

// NormalizeURL makes raw absolute against origin. Already absolute URLs are
// returned unchanged apart from repairing duplicated scheme prefixes.
func NormalizeURL(raw string, origin *url.URL) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = schemeRepeat.ReplaceAllString(raw, "$1")

	switch {
	case strings.HasPrefix(raw, "//"):
		return origin.Scheme + ":" + raw
	case strings.HasPrefix(raw, "/"):
		return origin.Scheme + "://" + origin.Host + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return raw
	}
	return origin.ResolveReference(u).String()
}
