package youtube

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ChannelMetadata is what structured data on a channel page reveals.
type ChannelMetadata struct {
	Title       string
	Description string
	Image       string
}

// Empty reports whether no field was found.
func (m ChannelMetadata) Empty() bool {
	return m.Title == "" && m.Description == "" && m.Image == ""
}

// ExtractChannelFromJSONLD reads the first schema.org Person or Organization
// from the page's application/ld+json scripts. Objects may appear directly,
// in an array, or under @graph.
func ExtractChannelFromJSONLD(html string) (ChannelMetadata, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ChannelMetadata{}, false
	}

	var found ChannelMetadata
	ok := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &data); err != nil {
			return true
		}
		if obj := findChannelObject(data); obj != nil {
			found = ChannelMetadata{
				Title:       stringField(obj["name"]),
				Description: stringField(obj["description"]),
				Image:       imageField(obj["image"]),
			}
			ok = !found.Empty()
			return !ok
		}
		return true
	})
	return found, ok
}

func findChannelObject(data any) map[string]any {
	switch v := data.(type) {
	case []any:
		for _, item := range v {
			if obj := findChannelObject(item); obj != nil {
				return obj
			}
		}
	case map[string]any:
		if isChannelType(v["@type"]) {
			return v
		}
		if graph, ok := v["@graph"]; ok {
			return findChannelObject(graph)
		}
	}
	return nil
}

func isChannelType(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "Person" || v == "Organization"
	case []any:
		for _, item := range v {
			if isChannelType(item) {
				return true
			}
		}
	}
	return false
}

func stringField(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// imageField accepts a URL string, an ImageObject, or a list of either.
func imageField(v any) string {
	switch img := v.(type) {
	case string:
		return strings.TrimSpace(img)
	case map[string]any:
		if u := stringField(img["url"]); u != "" {
			return u
		}
		return stringField(img["contentUrl"])
	case []any:
		for _, item := range img {
			if u := imageField(item); u != "" {
				return u
			}
		}
	}
	return ""
}

// initialDataMarkers precede the ytInitialData object literal in page scripts.
var initialDataMarkers = []string{
	"var ytInitialData = ",
	"var ytInitialData=",
	`window["ytInitialData"] = `,
	"window.ytInitialData = ",
}

type thumbnailList struct {
	Thumbnails []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
}

func (t thumbnailList) largest() string {
	for i := len(t.Thumbnails) - 1; i >= 0; i-- {
		if u := strings.TrimSpace(t.Thumbnails[i].URL); u != "" {
			return u
		}
	}
	return ""
}

type initialData struct {
	Metadata struct {
		ChannelMetadataRenderer struct {
			Title       string        `json:"title"`
			Description string        `json:"description"`
			Avatar      thumbnailList `json:"avatar"`
		} `json:"channelMetadataRenderer"`
	} `json:"metadata"`
	Avatar thumbnailList `json:"avatar"`
}

// ExtractChannelFromInitialData reads channel metadata from the ytInitialData
// script object. Escapes such as \u30c7 and \/ are decoded by the JSON decoder.
func ExtractChannelFromInitialData(html string) (ChannelMetadata, bool) {
	raw := findInitialData(html)
	if raw == "" {
		return ChannelMetadata{}, false
	}

	var data initialData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return ChannelMetadata{}, false
	}

	renderer := data.Metadata.ChannelMetadataRenderer
	meta := ChannelMetadata{
		Title:       strings.TrimSpace(renderer.Title),
		Description: strings.TrimSpace(renderer.Description),
		Image:       renderer.Avatar.largest(),
	}
	if meta.Image == "" {
		meta.Image = data.Avatar.largest()
	}
	return meta, !meta.Empty()
}

func findInitialData(html string) string {
	for _, marker := range initialDataMarkers {
		idx := strings.Index(html, marker)
		if idx < 0 {
			continue
		}
		if obj := extractJSONObject(html[idx+len(marker):]); obj != "" {
			return obj
		}
	}
	return ""
}

// extractJSONObject returns the balanced {...} literal at the start of s
// (after leading whitespace), honouring braces inside strings.
func extractJSONObject(s string) string {
	s = strings.TrimLeft(s, " \t\r\n")
	if !strings.HasPrefix(s, "{") {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
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
				return s[:i+1]
			}
		}
	}
	return ""
}
