// Package export serializes conversation forests to the thread JSON layout.
//
// Each node is an object with the keys id, content, author, images, quoted and
// replies; the top-level object additionally carries author_quotes.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ibeckermayer/threadmap/internal/types"
)

type nodeJSON struct {
	ID        postID      `json:"id"`
	Content   string      `json:"content"`
	Author    string      `json:"author"`
	Images    []string    `json:"images"`
	Quoted    []*nodeJSON `json:"quoted"`
	Replies   []*nodeJSON `json:"replies"`
	Truncated string      `json:"truncated,omitempty"`
}

type forestJSON struct {
	nodeJSON
	AuthorQuotes []*nodeJSON `json:"author_quotes"`
}

// postID accepts both string and numeric ids so files written by older
// tools, which emitted ids as numbers, can be read back.
type postID string

func (id *postID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = postID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseUint(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id must be an integer: %s", n)
	}
	*id = postID(n.String())
	return nil
}

func toJSON(n *types.Node) *nodeJSON {
	out := &nodeJSON{
		ID:        postID(n.ID),
		Content:   n.Text,
		Author:    n.Author,
		Images:    append([]string{}, n.MediaURLs...),
		Quoted:    make([]*nodeJSON, 0, len(n.Quoted)),
		Replies:   make([]*nodeJSON, 0, len(n.Replies)),
		Truncated: string(n.Truncated),
	}
	for _, q := range n.Quoted {
		out.Quoted = append(out.Quoted, toJSON(q))
	}
	for _, r := range n.Replies {
		out.Replies = append(out.Replies, toJSON(r))
	}
	return out
}

func fromJSON(n *nodeJSON) (*types.Node, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: null node", types.ErrMalformedPost)
	}
	if n.ID == "" {
		return nil, fmt.Errorf("%w: node without id", types.ErrMalformedPost)
	}
	out := &types.Node{
		ID:        string(n.ID),
		Author:    n.Author,
		Text:      n.Content,
		MediaURLs: append([]string{}, n.Images...),
		Quoted:    make([]*types.Node, 0, len(n.Quoted)),
		Replies:   make([]*types.Node, 0, len(n.Replies)),
		Truncated: types.TruncationReason(n.Truncated),
	}
	for _, q := range n.Quoted {
		child, err := fromJSON(q)
		if err != nil {
			return nil, err
		}
		out.Quoted = append(out.Quoted, child)
	}
	for _, r := range n.Replies {
		child, err := fromJSON(r)
		if err != nil {
			return nil, err
		}
		out.Replies = append(out.Replies, child)
	}
	return out, nil
}

// Marshal encodes the forest with two-space indentation and without escaping
// HTML or non-ASCII characters.
func Marshal(forest *types.Forest) ([]byte, error) {
	if forest == nil || forest.Main == nil {
		return nil, fmt.Errorf("forest has no main thread")
	}

	doc := forestJSON{
		nodeJSON:     *toJSON(forest.Main),
		AuthorQuotes: make([]*nodeJSON, 0, len(forest.AuthorQuotes)),
	}
	for _, q := range forest.AuthorQuotes {
		doc.AuthorQuotes = append(doc.AuthorQuotes, toJSON(q))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode forest: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Unmarshal decodes a thread document back into a forest. RootAuthor is
// taken from the main thread's author.
func Unmarshal(data []byte) (*types.Forest, error) {
	var doc forestJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse thread JSON: %w", err)
	}

	main, err := fromJSON(&doc.nodeJSON)
	if err != nil {
		return nil, err
	}
	forest := &types.Forest{Main: main, RootAuthor: main.Author}
	for _, q := range doc.AuthorQuotes {
		tree, err := fromJSON(q)
		if err != nil {
			return nil, err
		}
		forest.AuthorQuotes = append(forest.AuthorQuotes, tree)
	}
	return forest, nil
}
