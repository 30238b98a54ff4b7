package config

import (
	"testing"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single", "bitcoin", []string{"bitcoin"}},
		{"trims and drops blanks", " a , ,b ,", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitList(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitList(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("SplitList(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadNewsFeeds(t *testing.T) {
	t.Setenv("NEWS_FEEDS", "https://a.example/rss, https://b.example/feed")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.NewsFeeds) != 2 || cfg.NewsFeeds[0] != "https://a.example/rss" {
		t.Fatalf("news feeds = %v", cfg.NewsFeeds)
	}
}
