package export

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/threadmap/internal/types"
)

func forest() *types.Forest {
	return &types.Forest{
		RootAuthor: "alice",
		Main: &types.Node{
			ID:        "100",
			Author:    "alice",
			Text:      "Héllo <world> & co",
			MediaURLs: []string{"https://pbs.twimg.com/media/a.jpg"},
			Quoted:    []*types.Node{{ID: "50", Author: "dave", Text: "Original idea", MediaURLs: []string{}, Quoted: []*types.Node{}, Replies: []*types.Node{}}},
			Replies: []*types.Node{
				{ID: "101", Author: "bob", Text: "Hi", MediaURLs: []string{}, Quoted: []*types.Node{}, Replies: []*types.Node{
					{ID: "100", Author: "alice", Text: "loop", MediaURLs: []string{}, Quoted: []*types.Node{}, Replies: []*types.Node{}, Truncated: types.TruncatedCycle},
				}},
			},
		},
		AuthorQuotes: []*types.Node{
			{ID: "200", Author: "alice", Text: "again", MediaURLs: []string{}, Quoted: []*types.Node{}, Replies: []*types.Node{}},
		},
	}
}

func TestMarshal_Layout(t *testing.T) {
	data, err := Marshal(forest())
	require.NoError(t, err)
	out := string(data)

	assert.True(t, strings.HasPrefix(out, "{\n  \"id\": \"100\",\n  \"content\": \"Héllo <world> & co\",\n  \"author\": \"alice\",\n  \"images\": [\n"))
	assert.Contains(t, out, "\n  \"author_quotes\": [\n")
	assert.Contains(t, out, `"truncated": "cycle"`)
	assert.False(t, strings.HasSuffix(out, "\n"))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	quoted := raw["quoted"].([]any)[0].(map[string]any)
	assert.NotContains(t, quoted, "author_quotes")
	assert.NotContains(t, quoted, "truncated")
	assert.Equal(t, []any{}, quoted["images"])
}

func TestRoundTrip(t *testing.T) {
	original := forest()
	data, err := Marshal(original)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, original.Count(), decoded.Count())
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshal_NumericIDs(t *testing.T) {
	doc := `{
  "id": 1234567890123456789,
  "content": "old format",
  "author": "alice",
  "images": [],
  "quoted": [],
  "replies": [{"id": 55, "content": "r", "author": "bob", "images": [], "quoted": [], "replies": []}],
  "author_quotes": []
}`
	f, err := Unmarshal([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "1234567890123456789", f.Main.ID)
	assert.Equal(t, "55", f.Main.Replies[0].ID)
	assert.Equal(t, "alice", f.RootAuthor)
	assert.Empty(t, f.AuthorQuotes)
}

func TestUnmarshal_Rejects(t *testing.T) {
	_, err := Unmarshal([]byte(`{"content": "no id"}`))
	assert.ErrorIs(t, err, types.ErrMalformedPost)

	_, err = Unmarshal([]byte(`{"id": 1.5}`))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`not json`))
	assert.Error(t, err)

	_, err = Marshal(&types.Forest{})
	assert.Error(t, err)
}
