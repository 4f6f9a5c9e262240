package content

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
)

var (
	youtubeID     = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	cssToken      = regexp.MustCompile(`^[a-z0-9-]{1,32}$`)
	calloutKinds  = map[string]bool{"info": true, "warning": true, "success": true, "danger": true, "note": true}
	allowedScheme = map[string]bool{"http": true, "https": true, "mailto": true}
)

// RenderHTML converts a document to HTML. Text and attributes are escaped,
// unknown nodes render their children only, and URLs outside http, https,
// mailto and relative references are dropped.
func RenderHTML(doc Node) string {
	var b strings.Builder
	renderNode(&b, doc)
	return b.String()
}

func renderChildren(b *strings.Builder, n Node) {
	for _, child := range n.Content {
		renderNode(b, child)
	}
}

func wrap(b *strings.Builder, open, close string, n Node) {
	b.WriteString(open)
	renderChildren(b, n)
	b.WriteString(close)
}

func renderNode(b *strings.Builder, n Node) {
	switch n.Type {
	case "doc":
		renderChildren(b, n)
	case "paragraph":
		wrap(b, "<p>", "</p>\n", n)
	case "heading":
		level := attrInt(n.Attrs, "level", 2)
		if level < 1 {
			level = 1
		}
		if level > 6 {
			level = 6
		}
		wrap(b, fmt.Sprintf("<h%d>", level), fmt.Sprintf("</h%d>\n", level), n)
	case "bulletList":
		wrap(b, "<ul>\n", "</ul>\n", n)
	case "orderedList":
		start := attrInt(n.Attrs, "start", 1)
		if start != 1 {
			wrap(b, fmt.Sprintf(`<ol start="%d">`+"\n", start), "</ol>\n", n)
		} else {
			wrap(b, "<ol>\n", "</ol>\n", n)
		}
	case "listItem":
		wrap(b, "<li>", "</li>\n", n)
	case "blockquote":
		wrap(b, "<blockquote>\n", "</blockquote>\n", n)
	case "codeBlock":
		lang := strings.ToLower(attrString(n.Attrs, "language"))
		if cssToken.MatchString(lang) {
			b.WriteString(`<pre><code class="language-` + lang + `">`)
		} else {
			b.WriteString("<pre><code>")
		}
		b.WriteString(html.EscapeString(rawText(n)))
		b.WriteString("</code></pre>\n")
	case "text":
		renderText(b, n)
	case "hardBreak":
		b.WriteString("<br>")
	case "horizontalRule":
		b.WriteString("<hr>\n")
	case "table":
		wrap(b, "<table>\n", "</table>\n", n)
	case "tableRow":
		wrap(b, "<tr>\n", "</tr>\n", n)
	case "tableCell":
		wrap(b, "<td>", "</td>\n", n)
	case "tableHeader":
		wrap(b, "<th>", "</th>\n", n)
	case "aside":
		wrap(b, `<aside class="content-aside">`+"\n", "</aside>\n", n)
	case "nav":
		label := attrString(n.Attrs, "label")
		if label != "" {
			wrap(b, `<nav class="content-nav" aria-label="`+html.EscapeString(label)+`">`+"\n", "</nav>\n", n)
		} else {
			wrap(b, `<nav class="content-nav">`+"\n", "</nav>\n", n)
		}
	case "callout":
		kind := attrString(n.Attrs, "kind")
		if !calloutKinds[kind] {
			kind = "info"
		}
		wrap(b, `<div class="callout callout-`+kind+`" role="note">`+"\n", "</div>\n", n)
	case "image":
		src := SafeURL(attrString(n.Attrs, "src"))
		if src == "" {
			return
		}
		fmt.Fprintf(b, `<img src="%s" alt="%s" loading="lazy">`, html.EscapeString(src), html.EscapeString(attrString(n.Attrs, "alt")))
	case "video":
		src := SafeURL(attrString(n.Attrs, "src"))
		if src == "" {
			return
		}
		b.WriteString(`<video controls preload="metadata" src="` + html.EscapeString(src) + `"`)
		if poster := SafeURL(attrString(n.Attrs, "poster")); poster != "" {
			b.WriteString(` poster="` + html.EscapeString(poster) + `"`)
		}
		b.WriteString("></video>\n")
	case "youtube":
		id := attrString(n.Attrs, "videoId")
		if !youtubeID.MatchString(id) {
			return
		}
		src := "https://www.youtube-nocookie.com/embed/" + id
		if start := attrInt(n.Attrs, "start", 0); start > 0 {
			src += fmt.Sprintf("?start=%d", start)
		}
		fmt.Fprintf(b, `<div class="embed embed-youtube"><iframe src="%s" title="YouTube video" frameborder="0" allow="accelerometer; encrypted-media; picture-in-picture" allowfullscreen></iframe></div>`+"\n", src)
	default:
		renderChildren(b, n)
	}
}

func rawText(n Node) string {
	if n.Type == "text" {
		return n.Text
	}
	if n.Type == "hardBreak" {
		return "\n"
	}
	var b strings.Builder
	for _, child := range n.Content {
		b.WriteString(rawText(child))
	}
	return b.String()
}

func renderText(b *strings.Builder, n Node) {
	if n.Text == "" {
		return
	}
	out := html.EscapeString(n.Text)

	// Marks apply from the inside out so the first mark is the outermost tag.
	for i := len(n.Marks) - 1; i >= 0; i-- {
		mark := n.Marks[i]
		switch mark.Type {
		case "bold":
			out = "<strong>" + out + "</strong>"
		case "italic":
			out = "<em>" + out + "</em>"
		case "code":
			out = "<code>" + out + "</code>"
		case "strike":
			out = "<s>" + out + "</s>"
		case "underline":
			out = "<u>" + out + "</u>"
		case "link":
			href := SafeURL(attrString(mark.Attrs, "href"))
			if href == "" {
				continue
			}
			rel := ""
			if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
				rel = ` rel="noopener noreferrer"`
			}
			out = `<a href="` + html.EscapeString(href) + `"` + rel + `>` + out + `</a>`
		}
	}
	b.WriteString(out)
}

// SafeURL returns raw when it is an http, https or mailto URL or a relative
// reference, and "" otherwise.
func SafeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	// Control characters and backslashes are how scheme filters get bypassed.
	for _, r := range raw {
		if r < 0x20 || r == 0x7f || r == '\\' {
			return ""
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme == "" {
		if strings.HasPrefix(raw, "//") {
			return ""
		}
		return raw
	}
	if !allowedScheme[strings.ToLower(u.Scheme)] {
		return ""
	}
	return raw
}
