package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedPost is returned when a provider record lacks a field the
	// tree builder depends on.
	ErrMalformedPost = errors.New("malformed post")

	// ErrNotFound is returned when a post id cannot be resolved.
	ErrNotFound = errors.New("post not found")
)

// Post represents a single X post as normalized from a provider payload
type Post struct {
	ID             string    `json:"id"`
	Author         string    `json:"author"`
	AuthorName     string    `json:"author_name,omitempty"`
	Text           string    `json:"text"`
	ParentID       string    `json:"parent_id,omitempty"`       // post this one replies to
	ReplyToAuthor  string    `json:"reply_to_author,omitempty"` // handle the reply is addressed to
	QuotedID       string    `json:"quoted_id,omitempty"`       // post this one quotes
	Quoted         *Post     `json:"quoted,omitempty"`          // resolved quoted post, if the payload carried it
	ConversationID string    `json:"conversation_id,omitempty"`
	MediaURLs      []string  `json:"media_urls,omitempty"`
	Links          []string  `json:"links,omitempty"` // expanded URLs found in the text
	CreatedAt      time.Time `json:"created_at"`
}

// Validate reports whether the post carries the fields needed to place it in a tree.
func (p Post) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedPost)
	}
	if p.Author == "" {
		return fmt.Errorf("%w: post %s has no author", ErrMalformedPost, p.ID)
	}
	return nil
}

// Conversation returns the conversation the post belongs to. A post without
// a provider conversation id starts its own.
func (p Post) Conversation() string {
	if p.ConversationID != "" {
		return p.ConversationID
	}
	return p.ID
}

// TruncationReason records why the builder stopped expanding a node.
type TruncationReason string

const (
	NotTruncated   TruncationReason = ""
	TruncatedCycle TruncationReason = "cycle"
	TruncatedDepth TruncationReason = "depth"
)

// Node is one post in a reconstructed conversation tree.
type Node struct {
	ID        string
	Author    string
	Text      string
	MediaURLs []string
	Quoted    []*Node // at most one element
	Replies   []*Node // provider order
	Truncated TruncationReason
}

// Walk visits n and all of its descendants depth-first, quoted branch first.
// Returning false from fn skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, q := range n.Quoted {
		q.Walk(fn)
	}
	for _, r := range n.Replies {
		r.Walk(fn)
	}
}

// URL returns the canonical status URL of the post behind n.
func (n *Node) URL() string {
	return fmt.Sprintf("https://x.com/%s/status/%s", n.Author, n.ID)
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *Node) Count() int {
	count := 0
	n.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}

// Forest is the result of one extraction: the main thread plus the trees of
// quote posts the original author wrote about it.
type Forest struct {
	Main         *Node
	AuthorQuotes []*Node
	RootAuthor   string
}

// Walk visits every node of the main thread, then every author quote tree.
func (f *Forest) Walk(fn func(*Node) bool) {
	f.Main.Walk(fn)
	for _, q := range f.AuthorQuotes {
		q.Walk(fn)
	}
}

// Count returns the total number of nodes in the forest.
func (f *Forest) Count() int {
	count := 0
	f.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}
