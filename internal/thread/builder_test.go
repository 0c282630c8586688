package thread

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/threadmap/internal/source"
	"github.com/ibeckermayer/threadmap/internal/types"
)

func reply(id, author, text, parent, parentAuthor, conv string) types.Post {
	return types.Post{
		ID:             id,
		Author:         author,
		Text:           text,
		ParentID:       parent,
		ReplyToAuthor:  parentAuthor,
		ConversationID: conv,
	}
}

// scenarioA is a root post by alice with two direct replies.
func scenarioA() (types.Post, *source.Memory) {
	root := types.Post{ID: "100", Author: "alice", Text: "Hello world", ConversationID: "100"}
	mem := source.NewMemory(
		root,
		reply("101", "bob", "Hi Alice", "100", "alice", "100"),
		reply("102", "carol", "Me too", "100", "alice", "100"),
	)
	return root, mem
}

// ids returns the preorder id sequence of a tree, quoted branch first.
func ids(n *types.Node) []string {
	var out []string
	n.Walk(func(n *types.Node) bool {
		out = append(out, n.ID)
		return true
	})
	return out
}

func TestBuild_ScenarioA(t *testing.T) {
	for _, mode := range []ReplySearch{ReplySearchConversation, ReplySearchPerNode} {
		t.Run(string(mode), func(t *testing.T) {
			root, mem := scenarioA()
			tree, err := NewBuilder(mem, Options{ReplySearch: mode}).Build(context.Background(), root)
			require.NoError(t, err)

			assert.Equal(t, "100", tree.ID)
			assert.Equal(t, "alice", tree.Author)
			assert.Empty(t, tree.Quoted)
			require.Len(t, tree.Replies, 2)
			assert.Equal(t, "101", tree.Replies[0].ID)
			assert.Equal(t, "Hi Alice", tree.Replies[0].Text)
			assert.Equal(t, "102", tree.Replies[1].ID)
			for _, r := range tree.Replies {
				assert.Empty(t, r.Replies)
				assert.Empty(t, r.Quoted)
				assert.Equal(t, types.NotTruncated, r.Truncated)
			}
		})
	}
}

func TestBuild_ScenarioB_Quote(t *testing.T) {
	quoted := types.Post{ID: "50", Author: "dave", Text: "Original idea", ConversationID: "50"}
	root := types.Post{ID: "100", Author: "alice", Text: "Look at this", ConversationID: "100", QuotedID: "50"}
	mem := source.NewMemory(quoted, root)

	tree, err := NewBuilder(mem, Options{}).Build(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, tree.Quoted, 1)
	q := tree.Quoted[0]
	assert.Equal(t, "50", q.ID)
	assert.Equal(t, "dave", q.Author)
	assert.Equal(t, "Original idea", q.Text)
	assert.Empty(t, q.Quoted)
	assert.Empty(t, q.Replies)
}

func TestBuild_UsesEmbeddedQuotedPost(t *testing.T) {
	quoted := types.Post{ID: "50", Author: "dave", Text: "Original idea"}
	root := types.Post{ID: "100", Author: "alice", QuotedID: "50", Quoted: &quoted}
	mem := source.NewMemory(root) // 50 is not resolvable by id

	tree, err := NewBuilder(mem, Options{}).Build(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, tree.Quoted, 1)
	assert.Equal(t, "Original idea", tree.Quoted[0].Text)
}

func TestBuild_DirectReplyInvariantAndOrder(t *testing.T) {
	root := types.Post{ID: "1", Author: "a", ConversationID: "1"}
	mem := source.NewMemory(
		root,
		reply("2", "b", "", "1", "a", "1"),
		reply("3", "c", "", "2", "b", "1"), // reply to 2, not to 1
		reply("4", "d", "", "1", "a", "1"),
		reply("5", "a", "", "3", "c", "1"),
		types.Post{ID: "6", Author: "x", ConversationID: "1", QuotedID: "2", ParentID: "4", ReplyToAuthor: "d"},
	)

	tree, err := NewBuilder(mem, Options{}).Build(context.Background(), root)
	require.NoError(t, err)

	// Quoted branch of 6 (post 2, rebuilt with its own replies) comes after 6 itself.
	want := []string{"1", "2", "3", "5", "4", "6", "2", "3", "5"}
	if diff := cmp.Diff(want, ids(tree)); diff != "" {
		t.Fatalf("preorder mismatch (-want +got):\n%s", diff)
	}

	parents := map[string]string{"2": "1", "3": "2", "4": "1", "5": "3", "6": "4"}
	tree.Walk(func(n *types.Node) bool {
		for _, r := range n.Replies {
			assert.Equal(t, n.ID, parents[r.ID], "reply %s under %s", r.ID, n.ID)
		}
		return true
	})
}

func TestBuild_Idempotent(t *testing.T) {
	root, mem := scenarioA()
	b := NewBuilder(mem, Options{})

	first, err := b.Build(context.Background(), root)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), root)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("trees differ (-first +second):\n%s", diff)
	}
	assert.Equal(t, 3, first.Count())
}

func TestBuild_ConversationModeSearchesOncePerConversation(t *testing.T) {
	root := types.Post{ID: "1", Author: "a", ConversationID: "1"}
	mem := source.NewMemory(
		root,
		reply("2", "b", "", "1", "a", "1"),
		reply("3", "c", "", "2", "b", "1"),
		reply("4", "a", "", "3", "c", "1"),
	)

	_, err := NewBuilder(mem, Options{ReplySearch: ReplySearchConversation}).Build(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []source.Query{{ConversationID: "1"}}, mem.Searches)

	mem.Searches = nil
	_, err = NewBuilder(mem, Options{ReplySearch: ReplySearchPerNode}).Build(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []source.Query{
		{To: "a", ConversationID: "1"},
		{To: "b", ConversationID: "1"},
		{To: "c", ConversationID: "1"},
		{To: "a", ConversationID: "1"},
	}, mem.Searches)
}

func TestBuild_DeduplicatesReplies(t *testing.T) {
	root := types.Post{ID: "1", Author: "a"}
	r := reply("2", "b", "", "1", "a", "1")
	dup := &duplicating{Memory: source.NewMemory(root, r)}

	tree, err := NewBuilder(dup, Options{}).Build(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids(tree))
}

// duplicating yields every search result twice, like an overlapping page boundary.
type duplicating struct {
	*source.Memory
}

func (d *duplicating) Search(ctx context.Context, q source.Query) iter.Seq2[types.Post, error] {
	return func(yield func(types.Post, error) bool) {
		for p, err := range d.Memory.Search(ctx, q) {
			if !yield(p, err) || !yield(p, err) {
				return
			}
		}
	}
}

func TestBuild_QuoteCycleIsTruncated(t *testing.T) {
	a := types.Post{ID: "1", Author: "a", QuotedID: "2"}
	b := types.Post{ID: "2", Author: "b", QuotedID: "1"}
	mem := source.NewMemory(a, b)

	tree, err := NewBuilder(mem, Options{}).Build(context.Background(), a)
	require.NoError(t, err)

	require.Len(t, tree.Quoted, 1)
	mid := tree.Quoted[0]
	require.Len(t, mid.Quoted, 1)
	leaf := mid.Quoted[0]
	assert.Equal(t, "1", leaf.ID)
	assert.Equal(t, types.TruncatedCycle, leaf.Truncated)
	assert.Empty(t, leaf.Quoted)
	assert.Empty(t, leaf.Replies)
	assert.Equal(t, 3, tree.Count())
}

func TestBuild_TruncationLoggedUnderThreadComponent(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	a := types.Post{ID: "1", Author: "a", QuotedID: "2"}
	b := types.Post{ID: "2", Author: "b", QuotedID: "1"}
	_, err := NewBuilder(source.NewMemory(a, b), Options{}).Build(context.Background(), a)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"component":"thread"`)
	assert.Contains(t, buf.String(), `"post_id":"1"`)
	assert.Contains(t, buf.String(), "not expanding")
}

func TestBuild_DepthGuard(t *testing.T) {
	root := types.Post{ID: "0", Author: "u0", ConversationID: "0"}
	posts := []types.Post{root}
	for i := 1; i <= 10; i++ {
		posts = append(posts, reply(strconv.Itoa(i), "u"+strconv.Itoa(i), "", strconv.Itoa(i-1), "u"+strconv.Itoa(i-1), "0"))
	}
	mem := source.NewMemory(posts...)

	tree, err := NewBuilder(mem, Options{MaxDepth: 3}).Build(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2", "3"}, ids(tree))

	deepest := tree.Replies[0].Replies[0].Replies[0]
	assert.Equal(t, types.TruncatedDepth, deepest.Truncated)
}

var errUpstream = errors.New("upstream exploded")

// failingFor fails any search that would return replies to one post.
type failingFor struct {
	*source.Memory
	parentID string
}

func (f *failingFor) Search(ctx context.Context, q source.Query) iter.Seq2[types.Post, error] {
	return func(yield func(types.Post, error) bool) {
		for p, err := range f.Memory.Search(ctx, q) {
			if err == nil && p.ParentID == f.parentID {
				yield(types.Post{}, errUpstream)
				return
			}
			if !yield(p, err) {
				return
			}
		}
	}
}

func TestBuild_ScenarioE_FailurePropagates(t *testing.T) {
	root, mem := scenarioA()
	mem.Add(reply("103", "dave", "nested", "101", "bob", "100"))

	for _, mode := range []ReplySearch{ReplySearchConversation, ReplySearchPerNode} {
		t.Run(string(mode), func(t *testing.T) {
			src := &failingFor{Memory: mem, parentID: "101"}
			tree, err := NewBuilder(src, Options{ReplySearch: mode}).Build(context.Background(), root)
			assert.Nil(t, tree)
			assert.ErrorIs(t, err, errUpstream)
		})
	}
}

func TestBuild_UnresolvableQuoteFails(t *testing.T) {
	root := types.Post{ID: "100", Author: "alice", QuotedID: "404"}
	tree, err := NewBuilder(source.NewMemory(root), Options{}).Build(context.Background(), root)
	assert.Nil(t, tree)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestBuild_MalformedPost(t *testing.T) {
	root := types.Post{ID: "1", Author: "a", ConversationID: "1"}
	mem := source.NewMemory(root, types.Post{ID: "2", ParentID: "1", ConversationID: "1"})

	_, err := NewBuilder(mem, Options{}).Build(context.Background(), root)
	assert.ErrorIs(t, err, types.ErrMalformedPost)

	_, err = NewBuilder(mem, Options{}).Build(context.Background(), types.Post{Author: "a"})
	assert.ErrorIs(t, err, types.ErrMalformedPost)
}

func TestBuild_Cancelled(t *testing.T) {
	root, mem := scenarioA()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBuilder(mem, Options{}).Build(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}
