package entity

import (
	"errors"
	"net/url"
	"strings"
)

// ErrIncompleteRecord is returned by Validate for a record without URL or Title.
var ErrIncompleteRecord = errors.New("metadata record requires url and title")

// MetadataRecord is the preview of a single web page.
// URL is the canonical URL after redirects and Domain is its host.
// Every field other than URL and Title may be empty.
type MetadataRecord struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
	URL         string `json:"url"`
	SiteName    string `json:"site_name"`
	Domain      string `json:"domain"`
	Favicon     string `json:"favicon"`
}

// Validate checks the fields every record must carry. An empty Image is valid.
func (m *MetadataRecord) Validate() error {
	if strings.TrimSpace(m.URL) == "" || strings.TrimSpace(m.Title) == "" {
		return ErrIncompleteRecord
	}
	return nil
}

// HasImage reports whether the record carries an image URL.
func (m *MetadataRecord) HasImage() bool {
	return strings.TrimSpace(m.Image) != ""
}

// IsAbsoluteHTTPURL reports whether raw parses as an absolute http or https URL with a host.
func IsAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
