package fetch

import "net/http"

// HeaderProfile is a coherent browser identity. A session pairs one profile with
// the proxy chosen for the request.
type HeaderProfile struct {
	UserAgent       string
	AcceptLanguage  string
	SecChUa         string
	SecChUaMobile   string
	SecChUaPlatform string
}

// Mode selects between a top-level navigation and an XHR-style data request.
type Mode int

const (
	ModeDocument Mode = iota
	ModeJSON
)

const (
	acceptDocument = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"
	acceptJSON     = "application/json, text/plain, */*"
)

// DefaultProfiles returns desktop and mobile browser identities to rotate through.
func DefaultProfiles() []HeaderProfile {
	return []HeaderProfile{
		{
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			AcceptLanguage:  "en-US,en;q=0.9",
			SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
			SecChUaMobile:   "?0",
			SecChUaPlatform: `"Windows"`,
		},
		{
			UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			AcceptLanguage:  "en-US,en;q=0.9",
			SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
			SecChUaMobile:   "?0",
			SecChUaPlatform: `"macOS"`,
		},
		{
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Safari/605.1.15",
			AcceptLanguage: "en-US,en;q=0.9",
		},
		{
			UserAgent:       "Mozilla/5.0 (Linux; Android 14; Pixel 8 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36",
			AcceptLanguage:  "en-PK,en;q=0.9,ur;q=0.8",
			SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
			SecChUaMobile:   "?1",
			SecChUaPlatform: `"Android"`,
		},
	}
}

// Header builds request headers for the profile. Values already present in
// extra (Referer, Origin) win over the profile defaults.
func (p HeaderProfile) Header(mode Mode, extra http.Header) http.Header {
	h := http.Header{}
	h.Set("User-Agent", p.UserAgent)
	h.Set("Accept-Language", p.AcceptLanguage)
	if p.SecChUa != "" {
		h.Set("Sec-Ch-Ua", p.SecChUa)
		h.Set("Sec-Ch-Ua-Mobile", p.SecChUaMobile)
		h.Set("Sec-Ch-Ua-Platform", p.SecChUaPlatform)
	}

	switch mode {
	case ModeJSON:
		h.Set("Accept", acceptJSON)
		h.Set("X-Requested-With", "XMLHttpRequest")
		h.Set("Sec-Fetch-Dest", "empty")
		h.Set("Sec-Fetch-Mode", "cors")
		h.Set("Sec-Fetch-Site", "same-origin")
	default:
		h.Set("Accept", acceptDocument)
		h.Set("Sec-Fetch-Dest", "document")
		h.Set("Sec-Fetch-Mode", "navigate")
		h.Set("Sec-Fetch-Site", "none")
		h.Set("Upgrade-Insecure-Requests", "1")
	}

	for key, values := range extra {
		h.Del(key)
		for _, v := range values {
			h.Add(key, v)
		}
	}
	return h
}
