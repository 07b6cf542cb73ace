package fetch

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/pkg/text"
)

// NoLinkText stands in for anchors without visible text
const NoLinkText = "(no text)"

var (
	textSkipTags = map[string]bool{
		"script": true, "style": true, "noscript": true,
		"header": true, "footer": true, "nav": true,
	}
	linkSkipTags = map[string]bool{
		"script": true, "style": true, "noscript": true,
	}
)

// CleanHTML returns the visible text of an HTML document, one trimmed non-empty
// line per text run. Script, style and page chrome are dropped.
func CleanHTML(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && textSkipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return text.NormalizeText(sb.String())
}

// ExtractLinks collects every anchor with an href, skipping in-page anchors and
// javascript: links. Hrefs are returned as written.
func ExtractLinks(body []byte) []core.ExtractedLink {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return []core.ExtractedLink{}
	}

	links := []core.ExtractedLink{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && linkSkipTags[n.Data] {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			if href, ok := attr(n, "href"); ok {
				href = strings.TrimSpace(href)
				if href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
					label := strings.Join(strings.Fields(nodeText(n)), " ")
					if label == "" {
						label = NoLinkText
					}
					links = append(links, core.ExtractedLink{URL: href, Description: label})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return links
}

// FormatLinks renders links as "[text](href)" lines.
func FormatLinks(links []core.ExtractedLink) string {
	var sb strings.Builder
	for i, link := range links {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("[" + link.Description + "](" + link.URL + ")")
	}
	return sb.String()
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
