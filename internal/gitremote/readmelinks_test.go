package gitremote

import "testing"

func TestFirstExternalLink(t *testing.T) {
	cases := []struct {
		name     string
		markdown string
		want     string
	}{
		{
			"plain external link",
			"# Widget\n\nSee the [docs](https://widget.example.com/docs) for details.",
			"https://widget.example.com/docs",
		},
		{
			"skips github links",
			"[source](https://github.com/octo/widget) then [site](https://example.com)",
			"https://example.com",
		},
		{
			"skips badges",
			"![build](https://img.shields.io/badge/build-passing) [home](https://example.org)",
			"https://example.org",
		},
		{
			"skips relative links",
			"[guide](docs/guide.md) and [site](https://example.net)",
			"https://example.net",
		},
		{
			"autolink",
			"Visit <https://auto.example.com> today.",
			"https://auto.example.com",
		},
		{
			"no external links",
			"[guide](docs/guide.md) and [repo](https://github.com/octo/widget)",
			"",
		},
		{
			"empty readme",
			"",
			"",
		},
	}
	for _, c := range cases {
		if got := FirstExternalLink(c.markdown); got != c.want {
			t.Errorf("%s: expected %q, got %q", c.name, c.want, got)
		}
	}
}

func TestIsExternalDocURL(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://example.com", true},
		{"http://example.com/page", true},
		{"https://github.com/octo/widget", false},
		{"https://pages.github.com/x", false},
		{"https://img.shields.io/badge", false},
		{"https://badge.fury.io/py/x", false},
		{"ftp://example.com", false},
		{"docs/guide.md", false},
	}
	for _, c := range cases {
		if got := isExternalDocURL(c.url); got != c.want {
			t.Errorf("isExternalDocURL(%q): expected %v, got %v", c.url, c.want, got)
		}
	}
}
