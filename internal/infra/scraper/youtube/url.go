// Package youtube enriches link previews for YouTube videos and channels,
// whose pages often lack usable Open Graph tags when fetched by a bot.
package youtube

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	videoIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	handleRE  = regexp.MustCompile(`^@[\p{L}\p{N}._-]+$`)
)

// rootDomains are matched together with any of their subdomains.
var rootDomains = []string{"youtube.com", "youtu.be", "youtube-nocookie.com"}

// IsYouTubeURL reports whether raw points at a YouTube host.
func IsYouTubeURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return isYouTubeHost(u.Hostname())
}

func isYouTubeHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, root := range rootDomains {
		if host == root || strings.HasSuffix(host, "."+root) {
			return true
		}
	}
	return false
}

// NormalizeURL removes the "si" share-tracking parameter from YouTube URLs.
// Other parameters keep their original order and encoding. Non-YouTube URLs
// and unparseable input are returned unchanged.
//
// Example:
//
//	NormalizeURL("https://youtube.com/@demo?si=abc123&t=1") // "https://youtube.com/@demo?t=1"
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !isYouTubeHost(u.Hostname()) || u.RawQuery == "" {
		return raw
	}

	// url.Values would reorder the pairs, so filter the raw query instead.
	pairs := strings.Split(u.RawQuery, "&")
	kept := pairs[:0]
	removed := false
	for _, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil && k == "si" {
			removed = true
			continue
		}
		kept = append(kept, pair)
	}
	if !removed {
		return raw
	}
	u.RawQuery = strings.Join(kept, "&")
	u.ForceQuery = false
	return u.String()
}

// IsChannelURL reports whether raw is a YouTube channel handle URL whose path
// is exactly /@handle, optionally with a trailing slash.
func IsChannelURL(raw string) bool {
	return ExtractChannelLabel(raw) != ""
}

// ExtractChannelLabel returns the "@handle" of a channel URL, or "".
func ExtractChannelLabel(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !isYouTubeHost(u.Hostname()) {
		return ""
	}
	// "/@handle" と "/@handle/" のみ。タブ付きのパスは対象外
	first := strings.TrimSuffix(strings.TrimPrefix(u.Path, "/"), "/")
	if strings.Contains(first, "/") {
		return ""
	}
	if label, err := url.PathUnescape(first); err == nil && handleRE.MatchString(label) {
		return label
	}
	return ""
}

// ExtractVideoID returns the video ID of a watch, youtu.be, shorts, embed or live URL, or "".
//
// Example:
//
//	ExtractVideoID("https://youtu.be/dQw4w9WgXcQ")              // "dQw4w9WgXcQ"
//	ExtractVideoID("https://www.youtube.com/shorts/dQw4w9WgXcQ") // "dQw4w9WgXcQ"
func ExtractVideoID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !isYouTubeHost(u.Hostname()) {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	var id string
	switch {
	case host == "youtu.be" || strings.HasSuffix(host, ".youtu.be"):
		id = segments[0]
	case segments[0] == "watch":
		id = u.Query().Get("v")
	case len(segments) >= 2 && (segments[0] == "shorts" || segments[0] == "embed" || segments[0] == "live" || segments[0] == "v"):
		id = segments[1]
	}

	if videoIDRE.MatchString(id) {
		return id
	}
	return ""
}

// ThumbnailURL returns the high quality thumbnail URL of a video.
func ThumbnailURL(videoID string) string {
	return "https://i.ytimg.com/vi/" + videoID + "/hqdefault.jpg"
}
