package source

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/ibeckermayer/threadmap/internal/types"
)

// Memory is an in-process PostSource over a fixed list of posts. Search
// results come back in insertion order.
type Memory struct {
	mu    sync.RWMutex
	posts []types.Post
	byID  map[string]int

	// Searches records every query issued, in order.
	Searches []Query
}

// NewMemory creates a Memory source holding posts.
func NewMemory(posts ...types.Post) *Memory {
	m := &Memory{byID: make(map[string]int)}
	for _, p := range posts {
		m.Add(p)
	}
	return m
}

// Add inserts or replaces a post.
func (m *Memory) Add(p types.Post) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i, ok := m.byID[p.ID]; ok {
		m.posts[i] = p
		return
	}
	m.byID[p.ID] = len(m.posts)
	m.posts = append(m.posts, p)
}

// Search implements PostSource.
func (m *Memory) Search(ctx context.Context, q Query) iter.Seq2[types.Post, error] {
	m.mu.Lock()
	m.Searches = append(m.Searches, q)
	var matches []types.Post
	for _, p := range m.posts {
		if q.Matches(p) {
			matches = append(matches, p)
		}
	}
	m.mu.Unlock()

	return func(yield func(types.Post, error) bool) {
		for _, p := range matches {
			if err := ctx.Err(); err != nil {
				yield(types.Post{}, err)
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// FetchByID implements PostSource.
func (m *Memory) FetchByID(ctx context.Context, id string) (types.Post, error) {
	if err := ctx.Err(); err != nil {
		return types.Post{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.byID[id]
	if !ok {
		return types.Post{}, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	return m.posts[i], nil
}

// SearchCount returns how many searches have been issued.
func (m *Memory) SearchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Searches)
}
