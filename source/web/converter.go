package web

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var (
	scriptRe         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	excessiveLinesRe = regexp.MustCompile(`\n{4,}`)
)

// Elements and class names stripped before conversion when a page has no
// main or article element.
var (
	noiseTags = map[string]bool{
		"nav": true, "header": true, "footer": true, "aside": true,
		"script": true, "style": true, "noscript": true, "iframe": true,
		"object": true, "embed": true, "form": true, "input": true, "button": true,
	}
	noiseClasses = map[string]bool{
		"nav": true, "navbar": true, "navigation": true, "sidebar": true,
		"menu": true, "toc": true, "table-of-contents": true, "footer": true,
		"header": true, "ad": true, "advertisement": true, "social": true,
		"share": true, "comments": true, "related": true, "breadcrumb": true,
	}
)

// Document is a page reduced to its title and main content as markdown.
type Document struct {
	Title    string
	Markdown string
}

// Converter turns HTML pages into GitHub-flavoured markdown.
type Converter struct {
	converter *md.Converter
}

// NewConverter creates a converter.
func NewConverter() *Converter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Converter{converter: converter}
}

// Convert extracts the main content of an HTML page and renders it as
// markdown. The title comes from <title>, falling back to the first H1.
func (c *Converter) Convert(page []byte) (*Document, error) {
	var title, content string

	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		content = scriptRe.ReplaceAllString(string(page), "")
		content = styleRe.ReplaceAllString(content, "")
	} else {
		title = pageTitle(doc)
		content = mainContent(doc)
	}

	markdown, err := c.converter.ConvertString(content)
	if err != nil {
		return nil, err
	}
	markdown = cleanMarkdown(markdown)

	if title == "" {
		title = markdownTitle(markdown)
	}
	return &Document{Title: title, Markdown: markdown}, nil
}

// Excerpt returns at most limit runes of markdown, cut at a word boundary
// when one is close.
func Excerpt(markdown string, limit int) string {
	markdown = strings.TrimSpace(markdown)
	if limit <= 0 || utf8.RuneCountInString(markdown) <= limit {
		return markdown
	}
	runes := []rune(markdown)
	cut := string(runes[:limit])
	if i := strings.LastIndexAny(cut, " \n"); i > len(cut)*3/4 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}

func pageTitle(doc *html.Node) string {
	if n := find(doc, func(n *html.Node) bool { return n.Data == "title" }); n != nil && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	return ""
}

// mainContent renders the first main, article or role=main element. Without
// one, navigation chrome is removed and the body is used.
func mainContent(doc *html.Node) string {
	for _, match := range []func(*html.Node) bool{
		func(n *html.Node) bool { return n.Data == "main" },
		func(n *html.Node) bool { return n.Data == "article" },
		func(n *html.Node) bool { return attr(n, "role") == "main" },
	} {
		if n := find(doc, match); n != nil {
			return render(n)
		}
	}

	prune(doc)
	if body := find(doc, func(n *html.Node) bool { return n.Data == "body" }); body != nil {
		return render(body)
	}
	return render(doc)
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isNoise(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if noiseTags[n.Data] {
		return true
	}
	for _, class := range strings.Fields(strings.ToLower(attr(n, "class"))) {
		if noiseClasses[class] {
			return true
		}
	}
	return false
}

func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if isNoise(c) {
			n.RemoveChild(c)
		} else {
			prune(c)
		}
		c = next
	}
}

func render(n *html.Node) string {
	var sb strings.Builder
	_ = html.Render(&sb, n)
	return sb.String()
}

func cleanMarkdown(content string) string {
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func markdownTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
