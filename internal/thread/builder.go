// Package thread reconstructs conversation trees from a flat post search stream.
package thread

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ibeckermayer/threadmap/internal/logging"
	"github.com/ibeckermayer/threadmap/internal/media"
	"github.com/ibeckermayer/threadmap/internal/source"
	"github.com/ibeckermayer/threadmap/internal/types"
)

// ReplySearch selects how the builder discovers the direct replies of a node.
type ReplySearch string

const (
	// ReplySearchConversation fetches each conversation once per Build call
	// and picks direct replies out of it in memory.
	ReplySearchConversation ReplySearch = "conversation"
	// ReplySearchPerNode issues one "to:<author> conversation_id:<id>" search
	// for every node.
	ReplySearchPerNode ReplySearch = "per_node"
)

// DefaultMaxDepth bounds how deep a tree may grow before nodes are truncated.
const DefaultMaxDepth = 64

// Options tunes a Builder.
type Options struct {
	MaxDepth    int // <= 0 means DefaultMaxDepth
	ReplySearch ReplySearch
}

// Builder assembles a Node tree for a post by querying a PostSource for its
// replies and the post it quotes.
type Builder struct {
	src  source.PostSource
	opts Options
	log  zerolog.Logger
}

// NewBuilder creates a builder over src.
func NewBuilder(src source.PostSource, opts Options) *Builder {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.ReplySearch == "" {
		opts.ReplySearch = ReplySearchConversation
	}
	return &Builder{src: src, opts: opts, log: logging.Component("thread")}
}

// frame is a pending node on the work list.
type frame struct {
	post    types.Post
	resolve string // quoted post id still to be fetched; post is empty until then
	slot    **types.Node
	parent  *frame
	depth   int
}

func (f *frame) hasAncestor(id string) bool {
	for a := f.parent; a != nil; a = a.parent {
		if a.post.ID == id {
			return true
		}
	}
	return false
}

// run holds the state of a single Build call.
type run struct {
	b             *Builder
	conversations map[string][]types.Post
}

// Build returns the tree rooted at post. Each subtree is finished before its
// next sibling starts, and a node's replies are built before its quoted post,
// which matches the order a recursive walk would issue queries in. Any
// provider failure aborts the build; no partial tree is returned.
func (b *Builder) Build(ctx context.Context, post types.Post) (*types.Node, error) {
	r := &run{b: b, conversations: make(map[string][]types.Post)}

	var root *types.Node
	stack := []*frame{{post: post, slot: &root}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.resolve != "" {
			p, err := b.src.FetchByID(ctx, f.resolve)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve quoted post %s: %w", f.resolve, err)
			}
			f.post = p
		}
		if err := f.post.Validate(); err != nil {
			return nil, err
		}

		node := snapshot(f.post)
		*f.slot = node

		if f.hasAncestor(f.post.ID) {
			node.Truncated = types.TruncatedCycle
			b.log.Warn().Str("post_id", node.ID).Msg("Post repeats among its own ancestors, not expanding")
			continue
		}
		if f.depth >= b.opts.MaxDepth {
			node.Truncated = types.TruncatedDepth
			b.log.Warn().Str("post_id", node.ID).Int("depth", f.depth).Msg("Max depth reached, not expanding")
			continue
		}

		replies, err := r.replies(ctx, f.post)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch replies to %s: %w", f.post.ID, err)
		}
		b.log.Debug().Str("post_id", node.ID).Int("replies", len(replies)).Int("depth", f.depth).Msg("Expanding post")

		// Pushed first so it is popped after every reply subtree.
		if f.post.QuotedID != "" {
			node.Quoted = make([]*types.Node, 1)
			child := &frame{slot: &node.Quoted[0], parent: f, depth: f.depth + 1}
			if f.post.Quoted != nil && f.post.Quoted.ID == f.post.QuotedID {
				child.post = *f.post.Quoted
			} else {
				child.resolve = f.post.QuotedID
			}
			stack = append(stack, child)
		}

		node.Replies = make([]*types.Node, len(replies))
		for i := len(replies) - 1; i >= 0; i-- {
			stack = append(stack, &frame{post: replies[i], slot: &node.Replies[i], parent: f, depth: f.depth + 1})
		}
	}

	return root, nil
}

func snapshot(p types.Post) *types.Node {
	return &types.Node{
		ID:        p.ID,
		Author:    p.Author,
		Text:      p.Text,
		MediaURLs: media.Extract(p),
	}
}

// replies returns the direct replies to p in provider order, without duplicates.
func (r *run) replies(ctx context.Context, p types.Post) ([]types.Post, error) {
	var candidates []types.Post
	switch r.b.opts.ReplySearch {
	case ReplySearchPerNode:
		posts, err := source.Collect(r.b.src.Search(ctx, source.Query{To: p.Author, ConversationID: p.Conversation()}))
		if err != nil {
			return nil, err
		}
		candidates = posts
	default:
		conv := p.Conversation()
		posts, ok := r.conversations[conv]
		if !ok {
			var err error
			posts, err = source.Collect(r.b.src.Search(ctx, source.Query{ConversationID: conv}))
			if err != nil {
				return nil, err
			}
			r.conversations[conv] = posts
		}
		candidates = posts
	}

	seen := make(map[string]bool)
	var direct []types.Post
	for _, c := range candidates {
		if c.ParentID != p.ID || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		direct = append(direct, c)
	}
	return direct, nil
}
