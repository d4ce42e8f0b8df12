package videosummary

import "testing"

func TestVideoID(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		wantID string
		wantOK bool
	}{
		{"watch url", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"watch without www", "https://youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"embed url", "https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"short url", "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"short url with params", "https://youtu.be/dQw4w9WgXcQ?t=30", "dQw4w9WgXcQ", true},
		{"http scheme", "http://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"uppercase host", "HTTPS://YOUTU.BE/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"wrong host", "https://example.com/watch?v=dQw4w9WgXcQ", "", false},
		{"id too short", "https://youtu.be/abc123", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := VideoID(tt.url)
			if ok != tt.wantOK {
				t.Fatalf("VideoID(%q) ok = %v, want %v", tt.url, ok, tt.wantOK)
			}
			if id != tt.wantID {
				t.Errorf("VideoID(%q) = %q, want %q", tt.url, id, tt.wantID)
			}
		})
	}
}

func TestExtractFirstURL(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantOK  bool
	}{
		{
			"url inside text",
			"看看這個 https://www.youtube.com/watch?v=dQw4w9WgXcQ 很有趣",
			"https://youtu.be/dQw4w9WgXcQ",
			true,
		},
		{
			"first of two",
			"https://youtu.be/aaaaaaaaaaa and https://youtu.be/bbbbbbbbbbb",
			"https://youtu.be/aaaaaaaaaaa",
			true,
		},
		{"no url", "just some text", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractFirstURL(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("ExtractFirstURL(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ExtractFirstURL(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
