// Package scraper extracts link preview metadata from HTML documents.
package scraper

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"link-embed/internal/domain/entity"
)

// FaviconServiceURL is used when a page declares no icon of its own.
const FaviconServiceURL = "https://www.google.com/s2/favicons?domain=%s&sz=32"

// Extractor builds a MetadataRecord from a page's HTML.
// Extraction never fails: whatever the page does not declare is left empty,
// and the title falls back to the requested URL.
type Extractor struct {
	readabilityFallback bool
	logger              *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithReadabilityFallback derives description and site name from the article
// body when the page carries no description meta tag.
func WithReadabilityFallback(enabled bool) ExtractorOption {
	return func(e *Extractor) {
		e.readabilityFallback = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract applies the generic precedence rules:
//
//	title       og:title → <title> → requestedURL
//	description og:description → meta[name=description]
//	image       og:image (absolute)
//	site_name   og:site_name
//	favicon     link[rel~=icon] (absolute) → favicon service for the domain
//	url         finalURL (requestedURL when empty)
//	domain      host of url
func (e *Extractor) Extract(html, requestedURL, finalURL string) entity.MetadataRecord {
	canonical := finalURL
	if canonical == "" {
		canonical = requestedURL
	}
	base, _ := url.Parse(canonical)

	record := entity.MetadataRecord{
		Title: requestedURL,
		URL:   canonical,
	}
	if base != nil {
		record.Domain = base.Hostname()
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.logger.Debug("html parse failed, using fallbacks",
			slog.String("url", requestedURL),
			slog.Any("error", err))
		record.Favicon = DefaultFavicon(record.Domain)
		return record
	}

	meta := MetaTags(doc)

	if v := meta["og:title"]; v != "" {
		record.Title = v
	} else if v := strings.TrimSpace(doc.Find("title").First().Text()); v != "" {
		record.Title = collapseSpace(v)
	}

	if v := meta["og:description"]; v != "" {
		record.Description = v
	} else if v := meta["description"]; v != "" {
		record.Description = v
	}

	record.Image = ResolveURL(base, meta["og:image"])
	record.SiteName = meta["og:site_name"]

	record.Favicon = ResolveURL(base, findIcon(doc))
	if record.Favicon == "" {
		record.Favicon = DefaultFavicon(record.Domain)
	}

	if e.readabilityFallback && record.Description == "" && base != nil {
		e.applyReadability(&record, html, base)
	}

	return record
}

func (e *Extractor) applyReadability(record *entity.MetadataRecord, html string, base *url.URL) {
	article, err := readability.FromReader(strings.NewReader(html), base)
	if err != nil {
		e.logger.Debug("readability fallback failed",
			slog.String("url", record.URL),
			slog.Any("error", err))
		return
	}
	if v := collapseSpace(article.Excerpt); v != "" {
		record.Description = v
	}
	if record.SiteName == "" {
		record.SiteName = strings.TrimSpace(article.SiteName)
	}
}

// MetaTags collects <meta> values keyed by lower-cased property or name.
// The first non-empty value for a key wins.
func MetaTags(doc *goquery.Document) map[string]string {
	tags := make(map[string]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		content = strings.TrimSpace(content)
		if !ok || content == "" {
			return
		}
		for _, attr := range []string{"property", "name"} {
			key, ok := s.Attr(attr)
			if !ok {
				continue
			}
			key = strings.ToLower(strings.TrimSpace(key))
			if key == "" {
				continue
			}
			if _, seen := tags[key]; !seen {
				tags[key] = content
			}
		}
	})
	return tags
}

// findIcon returns the href of the first link whose rel names an icon.
func findIcon(doc *goquery.Document) string {
	var href string
	doc.Find("link[rel][href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		for _, token := range strings.Fields(strings.ToLower(rel)) {
			if token == "icon" || token == "apple-touch-icon" {
				href, _ = s.Attr("href")
				href = strings.TrimSpace(href)
				return href == ""
			}
		}
		return true
	})
	return href
}

// ResolveURL makes ref absolute against base. Results that are not
// http(s) URLs with a host, such as data: URIs, are dropped.
func ResolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	abs := u.String()
	if !entity.IsAbsoluteHTTPURL(abs) {
		return ""
	}
	return abs
}

// DefaultFavicon returns the favicon service URL for domain, or "" when domain is empty.
func DefaultFavicon(domain string) string {
	if domain == "" {
		return ""
	}
	return strings.Replace(FaviconServiceURL, "%s", url.QueryEscape(domain), 1)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
