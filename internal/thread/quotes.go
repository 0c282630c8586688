package thread

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/threadmap/internal/logging"
	"github.com/ibeckermayer/threadmap/internal/source"
	"github.com/ibeckermayer/threadmap/internal/types"
)

// QuoteFinder finds the posts in which an author quotes one of their own posts.
//
// Matching is link based: it looks for posts by the author whose body links to
// the canonical status URL. Quotes that do not carry that URL are missed, and a
// loose provider filter may return unrelated posts sharing the substring.
type QuoteFinder struct {
	src     source.PostSource
	builder *Builder
	workers int
	log     zerolog.Logger
}

// NewQuoteFinder creates a finder that builds each match with builder, running
// up to workers builds at once.
func NewQuoteFinder(src source.PostSource, builder *Builder, workers int) *QuoteFinder {
	if workers < 1 {
		workers = 1
	}
	return &QuoteFinder{src: src, builder: builder, workers: workers, log: logging.Component("thread")}
}

// QuoteQuery returns the search used to find author quotes of rootID.
func QuoteQuery(rootID, author string) source.Query {
	return source.Query{
		From: author,
		URL:  fmt.Sprintf("twitter.com/%s/status/%s", author, rootID),
	}
}

// Find returns one tree per matching post, in provider order. No match is not an error.
func (f *QuoteFinder) Find(ctx context.Context, rootID, author string) ([]*types.Node, error) {
	posts, err := source.Collect(f.src.Search(ctx, QuoteQuery(rootID, author)))
	if err != nil {
		return nil, fmt.Errorf("failed to search quotes of %s: %w", rootID, err)
	}

	seen := map[string]bool{rootID: true}
	var matches []types.Post
	for _, p := range posts {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		matches = append(matches, p)
	}

	f.log.Info().Str("post_id", rootID).Int("quotes", len(matches)).Msg("Found author quotes")

	trees := make([]*types.Node, len(matches))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for i, p := range matches {
		g.Go(func() error {
			tree, err := f.builder.Build(ctx, p)
			if err != nil {
				return fmt.Errorf("failed to build quote %s: %w", p.ID, err)
			}
			trees[i] = tree
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return trees, nil
}
