// Package mindmap renders conversation forests as Mermaid mindmaps.
package mindmap

import (
	"fmt"
	"strings"

	"github.com/ibeckermayer/threadmap/internal/types"
)

const (
	// labelRunes is how much of a post's text goes into its label.
	labelRunes = 40
	indentStep = 4
	// mainIndent is the column of the main thread's root label.
	mainIndent = 6
)

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Render returns the forest as a fenced Mermaid mindmap block. The output
// depends only on the forest and rootAuthor.
func Render(forest *types.Forest, rootAuthor string) string {
	var sb strings.Builder

	sb.WriteString("```mermaid\nmindmap\n")
	sb.WriteString("  root\n")
	fmt.Fprintf(&sb, "    %s\n", rootAuthor)

	writeNode(&sb, forest.Main, mainIndent)

	if len(forest.AuthorQuotes) > 0 {
		sb.WriteString(pad(mainIndent) + "Author_Quotes\n")
		for _, q := range forest.AuthorQuotes {
			writeNode(&sb, q, mainIndent+2)
		}
	}

	sb.WriteString("```\n")
	return sb.String()
}

func writeNode(sb *strings.Builder, n *types.Node, indent int) {
	sb.WriteString(pad(indent) + Label(n) + "\n")
	for _, q := range n.Quoted {
		sb.WriteString(pad(indent+2) + "Quoted:\n")
		writeNode(sb, q, indent+indentStep)
	}
	for _, r := range n.Replies {
		sb.WriteString(pad(indent+2) + "Reply:\n")
		writeNode(sb, r, indent+indentStep)
	}
}

// Label returns the single-line label of a node: its id, the first 40
// characters of its text and, when present, the media count.
func Label(n *types.Node) string {
	label := n.ID + ": " + newlines.Replace(truncate(n.Text, labelRunes))
	if len(n.MediaURLs) > 0 {
		label += fmt.Sprintf(" (%d imgs)", len(n.MediaURLs))
	}
	if n.Truncated != types.NotTruncated {
		label += fmt.Sprintf(" [truncated: %s]", n.Truncated)
	}
	return label
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}

func pad(n int) string {
	return strings.Repeat(" ", n)
}
