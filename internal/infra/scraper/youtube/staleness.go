package youtube

import (
	"strings"

	"link-embed/internal/domain/entity"
)

// PlaceholderDescriptions are descriptions that say nothing about a specific
// channel: the text of the fallback record and YouTube's site-wide default.
var PlaceholderDescriptions = []string{
	"YouTubeチャンネルページです。",
	"YouTube channel page.",
	"Enjoy the videos and music you love, upload original content, and share it all with friends, family, and the world on YouTube.",
}

// IsPlaceholderDescription reports whether desc is one of PlaceholderDescriptions.
func IsPlaceholderDescription(desc string) bool {
	desc = strings.TrimSpace(desc)
	for _, p := range PlaceholderDescriptions {
		if desc == p {
			return true
		}
	}
	return false
}

// IsStale reports whether a cached record for rawURL was built from a
// degraded YouTube response and should be fetched again.
//
//   - Non-YouTube URLs are never stale.
//   - A record whose title is still the requested URL is stale.
//   - A channel record with a placeholder description and no image is stale.
//
// A channel record with a real description but no image is kept.
func IsStale(rawURL string, record entity.MetadataRecord) bool {
	if !IsYouTubeURL(rawURL) {
		return false
	}
	if record.Title == rawURL {
		return true
	}
	if IsChannelURL(rawURL) && IsPlaceholderDescription(record.Description) && !record.HasImage() {
		return true
	}
	return false
}
