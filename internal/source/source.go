// Package source defines the post provider boundary used by the thread builder
// and the decorators layered on top of it.
package source

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/ibeckermayer/threadmap/internal/types"
)

// PostSource is a search provider for X posts.
type PostSource interface {
	// Search returns a lazy, possibly unbounded sequence of posts matching q in
	// provider order. The sequence ends early when the consumer stops ranging.
	Search(ctx context.Context, q Query) iter.Seq2[types.Post, error]
	// FetchByID resolves exactly one post.
	FetchByID(ctx context.Context, id string) (types.Post, error)
}

// Query is a conjunction of X advanced-search filters. Empty fields are ignored.
type Query struct {
	From           string // authored by
	To             string // addressed to
	ConversationID string
	URL            string // body links to a URL containing this substring
}

// String renders q in X search syntax.
func (q Query) String() string {
	var parts []string
	if q.From != "" {
		parts = append(parts, "from:"+q.From)
	}
	if q.To != "" {
		parts = append(parts, "to:"+q.To)
	}
	if q.ConversationID != "" {
		parts = append(parts, "conversation_id:"+q.ConversationID)
	}
	if q.URL != "" {
		parts = append(parts, fmt.Sprintf("url:%q", q.URL))
	}
	return strings.Join(parts, " ")
}

// Matches evaluates q against a single post. Providers that cannot push the
// filters down to a backend use it to filter in memory.
func (q Query) Matches(p types.Post) bool {
	if q.From != "" && !strings.EqualFold(p.Author, q.From) {
		return false
	}
	if q.To != "" && !strings.EqualFold(p.ReplyToAuthor, q.To) {
		return false
	}
	if q.ConversationID != "" && p.Conversation() != q.ConversationID {
		return false
	}
	if q.URL != "" && !linksTo(p, q.URL) {
		return false
	}
	return true
}

func linksTo(p types.Post, fragment string) bool {
	fragment = strings.ToLower(fragment)
	if strings.Contains(strings.ToLower(p.Text), fragment) {
		return true
	}
	for _, l := range p.Links {
		if strings.Contains(strings.ToLower(l), fragment) {
			return true
		}
	}
	return false
}

// Collect drains a search sequence into a slice, stopping at the first error.
func Collect(seq iter.Seq2[types.Post, error]) ([]types.Post, error) {
	var posts []types.Post
	for p, err := range seq {
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// errSeq returns a sequence that yields a single error.
func errSeq(err error) iter.Seq2[types.Post, error] {
	return func(yield func(types.Post, error) bool) {
		yield(types.Post{}, err)
	}
}
