package gitremote

import (
	"net/url"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// FirstExternalLink walks the README markdown and returns the first absolute
// http(s) link that leaves github.com. It backs the documentation page fetch
// when repository metadata carries no homepage.
func FirstExternalLink(markdown string) string {
	src := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var found string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || found != "" {
			return ast.WalkContinue, nil
		}
		var dest string
		switch link := n.(type) {
		case *ast.Link:
			dest = string(link.Destination)
		case *ast.AutoLink:
			dest = string(link.URL(src))
		default:
			return ast.WalkContinue, nil
		}
		if isExternalDocURL(dest) {
			found = dest
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}

func isExternalDocURL(dest string) bool {
	u, err := url.Parse(dest)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Host)
	if host == "github.com" || strings.HasSuffix(host, ".github.com") {
		return false
	}
	if strings.HasSuffix(host, "shields.io") || strings.HasSuffix(host, "badge.fury.io") {
		return false
	}
	return true
}
