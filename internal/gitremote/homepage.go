package gitremote

import (
	"context"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// FetchExternalPage downloads at most one external documentation page (the
// repository homepage or a README link). HTML responses are reduced to their
// visible text; the page is never followed further.
func (c *Client) FetchExternalPage(ctx context.Context, pageURL string) (FileContent, error) {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return FileContent{}, &Error{Code: ErrResponseShape, Message: "Documentation page URL must be http(s).", Context: pageURL}
	}
	body, err := c.getBytes(ctx, "download_homepage:"+pageURL, pageURL)
	if err != nil {
		return FileContent{}, err
	}
	text, err := decodeText(body, pageURL)
	if err != nil {
		return FileContent{}, err
	}
	if looksLikeHTML(text) {
		text = htmlToText(text)
	}
	text = strings.TrimSpace(text)
	return FileContent{Path: "about-homepage", SourceURL: pageURL, Content: text, Bytes: len(text)}, nil
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(s)
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// htmlToText extracts the visible text of an HTML page, skipping script,
// style and chrome elements. Parse errors fall back to the raw input.
func htmlToText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "nav", "footer", "header", "svg":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(t)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	if body := findElement(doc, "body"); body != nil {
		walk(body)
	} else {
		walk(doc)
	}
	return b.String()
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, name); found != nil {
			return found
		}
	}
	return nil
}
