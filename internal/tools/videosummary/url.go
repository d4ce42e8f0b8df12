package videosummary

import "regexp"

// videoURLPattern matches watch, embed, and short-link YouTube URLs,
// capturing the 11-character video id.
var videoURLPattern = regexp.MustCompile(
	`(?i)https?://(?:www\.)?(?:youtube\.com/(?:watch\?v=|embed/)|youtu\.be/)(?P<id>[A-Za-z0-9_-]{11})(?:[?&][^\s]*)?`)

// ExtractFirstURL finds the first YouTube video link in text and
// returns it in canonical short form.
func ExtractFirstURL(text string) (string, bool) {
	id, ok := findID(text)
	if !ok {
		return "", false
	}
	return "https://youtu.be/" + id, true
}

// VideoID extracts the video id from a YouTube URL.
func VideoID(url string) (string, bool) {
	return findID(url)
}

func findID(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	match := videoURLPattern.FindStringSubmatch(s)
	if match == nil {
		return "", false
	}
	return match[videoURLPattern.SubexpIndex("id")], true
}
