// Package content renders stored rich-text editor documents. Documents are
// the editor's JSON tree: nodes with a type, attrs, child content, and text
// leaves carrying marks.
package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

var ErrInvalidDocument = errors.New("content: invalid document")

// EmptyDocument is stored when a post has no body yet.
var EmptyDocument = json.RawMessage(`{"type":"doc","content":[]}`)

// Parse decodes a stored document. The root must be a doc node.
func Parse(raw json.RawMessage) (Node, error) {
	if len(raw) == 0 {
		return Node{Type: "doc"}, nil
	}
	var doc Node
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Node{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Type != "doc" {
		return Node{}, fmt.Errorf("%w: root node is %q", ErrInvalidDocument, doc.Type)
	}
	return doc, nil
}

// PlainText flattens a document to text, one block per line. It feeds search
// indexing and excerpts.
func PlainText(doc Node) string {
	var b strings.Builder
	writePlain(&b, doc)
	return strings.TrimSpace(collapseBlankLines(b.String()))
}

func writePlain(b *strings.Builder, n Node) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
		return
	case "hardBreak":
		b.WriteString("\n")
		return
	case "image":
		if alt := attrString(n.Attrs, "alt"); alt != "" {
			b.WriteString(alt)
			b.WriteString("\n")
		}
		return
	case "video", "youtube", "horizontalRule":
		return
	}
	for _, child := range n.Content {
		writePlain(b, child)
	}
	if isBlock(n.Type) {
		b.WriteString("\n")
	}
}

func isBlock(nodeType string) bool {
	switch nodeType {
	case "paragraph", "heading", "listItem", "blockquote", "codeBlock", "tableRow", "aside", "callout", "nav":
		return true
	}
	return false
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Excerpt returns the first limit runes of the document text on one line.
func Excerpt(doc Node, limit int) string {
	text := strings.Join(strings.Fields(PlainText(doc)), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := string(runes[:limit])
	if i := strings.LastIndex(cut, " "); i > limit/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

func attrString(attrs map[string]any, key string) string {
	if attrs == nil {
		return ""
	}
	switch v := attrs[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	}
	return ""
}

func attrInt(attrs map[string]any, key string, fallback int) int {
	if attrs == nil {
		return fallback
	}
	switch v := attrs[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
