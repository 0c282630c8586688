package app

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/threadmap/internal/config"
	"github.com/ibeckermayer/threadmap/internal/source"
	"github.com/ibeckermayer/threadmap/internal/store"
	"github.com/ibeckermayer/threadmap/internal/types"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw    string
		author string
		id     string
	}{
		{"https://twitter.com/alice/status/100", "alice", "100"},
		{"https://x.com/alice/status/100?s=20", "alice", "100"},
		{"x.com/Bob_1/status/1234567890123456789/photo/1", "Bob_1", "1234567890123456789"},
		{"https://mobile.twitter.com/carol/status/7", "carol", "7"},
	}
	for _, tt := range tests {
		author, id, err := ParseURL(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.author, author)
		assert.Equal(t, tt.id, id)
	}

	for _, bad := range []string{"", "https://x.com/alice", "https://notx.com/alice/status/1", "https://x.com/alice/status/abc"} {
		_, _, err := ParseURL(bad)
		assert.ErrorIs(t, err, ErrBadURL, bad)
	}
}

func TestRequest_RootID(t *testing.T) {
	id, err := Request{ID: "42"}.RootID()
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	id, err = Request{URL: "https://x.com/a/status/7", ID: "42"}.RootID()
	require.NoError(t, err)
	assert.Equal(t, "7", id, "URL wins over id")

	_, err = Request{}.RootID()
	assert.ErrorIs(t, err, ErrNoInput)
}

func reply(id, author, text, parent, parentAuthor string) types.Post {
	return types.Post{ID: id, Author: author, Text: text, ParentID: parent, ReplyToAuthor: parentAuthor, ConversationID: "100"}
}

// conversation holds scenarios A through C: alice's post 100 quoting dave's
// 50, two replies, and a later post of alice's linking back to 100.
func conversation() *source.Memory {
	return source.NewMemory(
		types.Post{ID: "50", Author: "dave", Text: "Original idea", ConversationID: "50"},
		types.Post{ID: "100", Author: "alice", Text: "Hello world", ConversationID: "100", QuotedID: "50"},
		reply("101", "bob", "Hi Alice", "100", "alice"),
		reply("102", "carol", "Me too", "100", "alice"),
		types.Post{ID: "200", Author: "alice", Text: "Following up", Links: []string{"https://twitter.com/alice/status/100"}, ConversationID: "200"},
	)
}

func newApp(t *testing.T, src source.PostSource, opts ...Option) (*App, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Dir = filepath.Join(t.TempDir(), "out")
	return New(cfg, src, opts...), cfg.Output.Dir
}

func TestExtract_Scenarios(t *testing.T) {
	a, dir := newApp(t, conversation())

	res, err := a.Extract(context.Background(), Request{URL: "https://twitter.com/alice/status/100"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)

	main := res.Forest.Main
	assert.Equal(t, "100", main.ID)
	require.Len(t, main.Replies, 2)
	assert.Equal(t, "101", main.Replies[0].ID)
	assert.Equal(t, "102", main.Replies[1].ID)
	require.Len(t, main.Quoted, 1)
	assert.Equal(t, "50", main.Quoted[0].ID)
	require.Len(t, res.Forest.AuthorQuotes, 1)
	assert.Equal(t, "200", res.Forest.AuthorQuotes[0].ID)

	md, err := os.ReadFile(filepath.Join(dir, "100_mindmap.md"))
	require.NoError(t, err)
	assert.Equal(t, "```mermaid\n"+
		"mindmap\n"+
		"  root\n"+
		"    alice\n"+
		"      100: Hello world\n"+
		"        Quoted:\n"+
		"          50: Original idea\n"+
		"        Reply:\n"+
		"          101: Hi Alice\n"+
		"        Reply:\n"+
		"          102: Me too\n"+
		"      Author_Quotes\n"+
		"        200: Following up\n"+
		"```\n", string(md))

	saved, err := store.Load(filepath.Join(dir, "100_thread.json"))
	require.NoError(t, err)
	assert.Equal(t, res.Forest.Count(), saved.Count())

	_, err = os.Stat(filepath.Join(dir, "100_images"))
	assert.True(t, os.IsNotExist(err), "images dir only with SaveImages")
}

func TestExtract_ScenarioD_Media(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("img"))
	}))
	defer srv.Close()

	mem := source.NewMemory(types.Post{ID: "7", Author: "erin", Text: "pics", MediaURLs: []string{
		srv.URL + "/a.jpg", srv.URL + "/b.png", srv.URL + "/c.jpg",
	}})
	a, dir := newApp(t, mem)

	res, err := a.Extract(context.Background(), Request{ID: "7", SaveImages: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Media.Downloaded)

	md, err := os.ReadFile(res.Outputs.Mindmap)
	require.NoError(t, err)
	assert.Contains(t, string(md), "7: pics (3 imgs)\n")

	for _, name := range []string{"7_0.jpg", "7_1.png", "7_2.jpg"} {
		_, err := os.Stat(filepath.Join(dir, "7_images", name))
		assert.NoError(t, err, name)
	}
}

var errUpstream = errors.New("search backend unavailable")

// failingReplies fails mid-stream as soon as a reply to parentID would be returned.
type failingReplies struct {
	*source.Memory
	parentID string
}

func (f *failingReplies) Search(ctx context.Context, q source.Query) iter.Seq2[types.Post, error] {
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

func TestExtract_ScenarioE_NoPartialOutput(t *testing.T) {
	mem := conversation()
	mem.Add(reply("103", "dave", "nested", "101", "bob"))

	db, err := store.New(filepath.Join(t.TempDir(), "posts.db"))
	require.NoError(t, err)
	defer db.Close()

	a, dir := newApp(t, &failingReplies{Memory: mem, parentID: "101"}, WithStore(db))
	_, err = a.Extract(context.Background(), Request{ID: "100"})
	assert.ErrorIs(t, err, errUpstream)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "no output files on failure")

	runs, err := db.Runs(context.Background(), "100")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].Err, errUpstream.Error())
}

func TestExtract_UnresolvableInput(t *testing.T) {
	a, dir := newApp(t, conversation())

	_, err := a.Extract(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoInput)

	_, err = a.Extract(context.Background(), Request{URL: "https://example.com/post/1"})
	assert.ErrorIs(t, err, ErrBadURL)

	_, err = a.Extract(context.Background(), Request{ID: "999"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtract_SnapshotRunsAndOpen(t *testing.T) {
	cache := t.TempDir()
	db, err := store.New(filepath.Join(cache, "posts.db"))
	require.NoError(t, err)
	defer db.Close()

	var opened string
	snaps := &store.Snapshots{Dir: filepath.Join(cache, "snapshots")}
	a, _ := newApp(t, conversation(), WithStore(db), WithSnapshots(snaps), WithOpener(func(p string) error {
		opened = p
		return nil
	}))

	res, err := a.Extract(context.Background(), Request{ID: "100", Snapshot: true, Open: true})
	require.NoError(t, err)
	assert.Equal(t, res.Outputs.Mindmap, opened)

	assert.Nil(t, res.Previous)

	snap, _, err := snaps.Latest("100")
	require.NoError(t, err)
	assert.Equal(t, res.Forest.Count(), snap.Count())

	again, err := a.Extract(context.Background(), Request{ID: "100", Snapshot: true})
	require.NoError(t, err)
	require.NotNil(t, again.Previous)
	assert.Equal(t, res.Forest.Count(), again.Previous.Count())

	runs, err := db.Runs(context.Background(), "100")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, again.RunID, runs[1].ID)
	assert.Equal(t, 5, runs[0].Nodes)
	assert.Empty(t, runs[0].Err)
}

func TestExtract_OfflineFromStore(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "posts.db"))
	require.NoError(t, err)
	defer db.Close()

	// An online run records everything it sees, so the offline run rebuilds the same forest.
	cfg := config.Default().Source
	cfg.RequestsPerSecond = 0
	online, _ := newApp(t, OnlineSource(cfg, conversation(), db))
	want, err := online.Extract(context.Background(), Request{ID: "100"})
	require.NoError(t, err)

	offline, _ := newApp(t, db)
	got, err := offline.Extract(context.Background(), Request{ID: "100"})
	require.NoError(t, err)
	assert.Equal(t, want.Forest, got.Forest)
}

func TestRenderFile(t *testing.T) {
	a, dir := newApp(t, conversation())
	res, err := a.Extract(context.Background(), Request{ID: "100"})
	require.NoError(t, err)

	text, err := RenderFile(res.Outputs.Thread, "")
	require.NoError(t, err)
	md, err := os.ReadFile(filepath.Join(dir, "100_mindmap.md"))
	require.NoError(t, err)
	assert.Equal(t, string(md), text)

	text, err = RenderFile(res.Outputs.Thread, "someone")
	require.NoError(t, err)
	assert.Contains(t, text, "\n    someone\n")

	_, err = RenderFile(filepath.Join(dir, "missing.json"), "")
	assert.Error(t, err)
}

func TestOnlineSource_Chain(t *testing.T) {
	cfg := config.Default().Source
	cfg.RequestsPerSecond = 0
	cfg.RetryBaseDelay = config.Duration{Duration: time.Millisecond}

	src := OnlineSource(cfg, conversation(), nil)
	p, err := src.FetchByID(context.Background(), "100")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Author)
}
