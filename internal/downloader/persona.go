package downloader

import (
	"fmt"
	"sort"
	"strings"
)

const (
	iPhoneUserAgent  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	tiktokReferer    = "https://www.tiktok.com/"
	tiktokAPIHost    = "api.tiktokv.com"
)

// Persona is one client identity presented to the remote platform: the
// fingerprint, referer, extra headers and extractor tuning sent with a single
// attempt. Personas are values; Catalog hands out copies.
type Persona struct {
	Name          string
	UserAgent     string
	Referer       string
	Headers       map[string]string
	ExtractorArgs map[string]map[string]string
}

// HeaderList returns the persona's headers as sorted "Key:Value" pairs,
// including User-Agent and Referer when set.
func (p Persona) HeaderList() []string {
	out := make([]string, 0, len(p.Headers)+2)
	if p.UserAgent != "" {
		out = append(out, "User-Agent:"+p.UserAgent)
	}
	if p.Referer != "" {
		out = append(out, "Referer:"+p.Referer)
	}
	return append(out, p.ExtraHeaders()...)
}

// ExtraHeaders returns the sorted "Key:Value" pairs of Headers, leaving out
// User-Agent and Referer, which travel in their own fields.
func (p Persona) ExtraHeaders() []string {
	keys := make([]string, 0, len(p.Headers))
	for key := range p.Headers {
		if strings.EqualFold(key, "User-Agent") || strings.EqualFold(key, "Referer") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+":"+p.Headers[key])
	}
	return out
}

// ExtractorArgList renders extractor arguments in yt-dlp's
// "extractor:key=value;key=value" form, one entry per extractor.
func (p Persona) ExtractorArgList() []string {
	extractors := make([]string, 0, len(p.ExtractorArgs))
	for name := range p.ExtractorArgs {
		extractors = append(extractors, name)
	}
	sort.Strings(extractors)

	out := make([]string, 0, len(extractors))
	for _, name := range extractors {
		args := p.ExtractorArgs[name]
		keys := make([]string, 0, len(args))
		for key := range args {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, key := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%s", key, args[key]))
		}
		if len(pairs) == 0 {
			continue
		}
		out = append(out, name+":"+strings.Join(pairs, ";"))
	}
	return out
}

func (p Persona) clone() Persona {
	out := p
	if p.Headers != nil {
		out.Headers = make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			out.Headers[k] = v
		}
	}
	if p.ExtractorArgs != nil {
		out.ExtractorArgs = make(map[string]map[string]string, len(p.ExtractorArgs))
		for name, args := range p.ExtractorArgs {
			copied := make(map[string]string, len(args))
			for k, v := range args {
				copied[k] = v
			}
			out.ExtractorArgs[name] = copied
		}
	}
	return out
}

// Catalog is an ordered, immutable list of personas ranked from most to
// least likely to succeed.
type Catalog struct {
	personas []Persona
}

func NewCatalog(personas ...Persona) Catalog {
	out := make([]Persona, len(personas))
	for i, p := range personas {
		out[i] = p.clone()
	}
	return Catalog{personas: out}
}

// Personas returns a copy of the catalog in rank order.
func (c Catalog) Personas() []Persona {
	out := make([]Persona, len(c.personas))
	for i, p := range c.personas {
		out[i] = p.clone()
	}
	return out
}

func (c Catalog) Len() int {
	return len(c.personas)
}

// DefaultExtractionCatalog is used for metadata lookups. The first persona
// sends a full mobile Safari navigation header set and routes through the
// app API host.
func DefaultExtractionCatalog() Catalog {
	return NewCatalog(
		Persona{
			Name:      "iphone-safari",
			UserAgent: iPhoneUserAgent,
			Referer:   tiktokReferer,
			Headers: map[string]string{
				"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
				"Accept-Language":           "en-US,en;q=0.5",
				"Accept-Encoding":           "gzip, deflate, br",
				"DNT":                       "1",
				"Connection":                "keep-alive",
				"Upgrade-Insecure-Requests": "1",
				"Sec-Fetch-Dest":            "document",
				"Sec-Fetch-Mode":            "navigate",
				"Sec-Fetch-Site":            "none",
				"Sec-Fetch-User":            "?1",
			},
			ExtractorArgs: map[string]map[string]string{
				"tiktok": {"api_hostname": tiktokAPIHost},
			},
		},
		desktopChromePersona(),
		Persona{Name: "basic"},
	)
}

// DefaultDownloadCatalog is used for media downloads.
func DefaultDownloadCatalog() Catalog {
	return NewCatalog(
		Persona{
			Name:      "iphone-safari",
			UserAgent: iPhoneUserAgent,
			Referer:   tiktokReferer,
			Headers: map[string]string{
				"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
				"Accept-Language": "en-US,en;q=0.5",
				"DNT":             "1",
				"Sec-Fetch-Mode":  "navigate",
			},
			ExtractorArgs: map[string]map[string]string{
				"tiktok": {"api_hostname": tiktokAPIHost},
			},
		},
		desktopChromePersona(),
		Persona{Name: "basic"},
	)
}

func desktopChromePersona() Persona {
	return Persona{
		Name:      "desktop-chrome",
		UserAgent: desktopUserAgent,
		Referer:   tiktokReferer,
		Headers: map[string]string{
			"Accept":          "*/*",
			"Accept-Language": "en-US,en;q=0.9",
		},
	}
}
