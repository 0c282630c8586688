package thread

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/threadmap/internal/source"
	"github.com/ibeckermayer/threadmap/internal/types"
)

func TestQuoteQuery(t *testing.T) {
	q := QuoteQuery("100", "alice")
	assert.Equal(t, `from:alice url:"twitter.com/alice/status/100"`, q.String())
}

func TestFind_ScenarioC(t *testing.T) {
	root, mem := scenarioA()
	mem.Add(types.Post{ID: "200", Author: "alice", Text: "Following up https://twitter.com/alice/status/100", ConversationID: "200"})
	mem.Add(reply("201", "erin", "nice", "200", "alice", "200"))
	mem.Add(types.Post{ID: "300", Author: "bob", Text: "https://twitter.com/alice/status/100"}) // not by alice

	b := NewBuilder(mem, Options{})
	quotes, err := NewQuoteFinder(mem, b, 1).Find(context.Background(), root.ID, root.Author)
	require.NoError(t, err)

	require.Len(t, quotes, 1)
	assert.Equal(t, "200", quotes[0].ID)
	require.Len(t, quotes[0].Replies, 1)
	assert.Equal(t, "201", quotes[0].Replies[0].ID)
}

func TestFind_NoQuotesIsNotAnError(t *testing.T) {
	root, mem := scenarioA()
	quotes, err := NewQuoteFinder(mem, NewBuilder(mem, Options{}), 1).Find(context.Background(), root.ID, root.Author)
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestFind_ConcurrentBuildsKeepProviderOrder(t *testing.T) {
	mem := source.NewMemory(types.Post{ID: "100", Author: "alice"})
	want := []string{"205", "201", "209", "203", "207"}
	for _, id := range want {
		mem.Add(types.Post{ID: id, Author: "alice", Links: []string{"https://twitter.com/alice/status/100"}})
	}

	quotes, err := NewQuoteFinder(mem, NewBuilder(mem, Options{}), 4).Find(context.Background(), "100", "alice")
	require.NoError(t, err)

	var got []string
	for _, q := range quotes {
		got = append(got, q.ID)
	}
	assert.Equal(t, want, got)
}

func TestFind_SkipsRootAndBuildFailures(t *testing.T) {
	mem := source.NewMemory(
		// The root linking to itself must not become its own author quote.
		types.Post{ID: "100", Author: "alice", Text: "twitter.com/alice/status/100"},
		types.Post{ID: "200", Author: "alice", Text: "twitter.com/alice/status/100", QuotedID: "404"},
	)

	_, err := NewQuoteFinder(mem, NewBuilder(mem, Options{}), 2).Find(context.Background(), "100", "alice")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
