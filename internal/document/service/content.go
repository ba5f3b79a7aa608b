package service

import (
	"encoding/json"
	"strings"
)

const snippetLength = 100

// tiptapNode is the subset of the editor's JSON document model we read.
type tiptapNode struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Text    string         `json:"text,omitempty"`
	Content []tiptapNode   `json:"content,omitempty"`
}

// initialContent is the starter document: the title as a heading and a
// placeholder paragraph.
func initialContent(title string) json.RawMessage {
	doc := tiptapNode{
		Type: "doc",
		Content: []tiptapNode{
			{
				Type:    "heading",
				Attrs:   map[string]any{"level": 1},
				Content: []tiptapNode{{Type: "text", Text: title}},
			},
			{
				Type:    "paragraph",
				Content: []tiptapNode{{Type: "text", Text: "Start writing here..."}},
			},
		},
	}
	raw, _ := json.Marshal(doc)
	return raw
}

// getSnippetFromContent flattens the text of a document into a short preview.
// Content that is not a TipTap document yields an empty snippet.
func getSnippetFromContent(content []byte) string {
	var doc tiptapNode
	if err := json.Unmarshal(content, &doc); err != nil {
		return ""
	}
	var sb strings.Builder
	collectText(&sb, doc)
	res := strings.Join(strings.Fields(sb.String()), " ")
	if r := []rune(res); len(r) > snippetLength {
		return string(r[:snippetLength]) + "..."
	}
	return res
}

func collectText(sb *strings.Builder, n tiptapNode) {
	if sb.Len() > snippetLength*4 {
		return
	}
	if n.Text != "" {
		sb.WriteString(n.Text)
	}
	for _, child := range n.Content {
		collectText(sb, child)
	}
	// Block boundaries become spaces.
	if n.Type != "text" {
		sb.WriteString(" ")
	}
}
