package scraper

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ibeckermayer/threadmap/internal/types"
)

// X changes the GraphQL timeline envelope often, so tweets are found by shape
// anywhere in the document rather than by a fixed path.

// ParseTimeline extracts every tweet in a GraphQL response body, in document
// order and without duplicates. Retweet wrappers are skipped. A tweet nested
// as the quoted status of another tweet is attached as its Quoted post and not
// returned on its own.
func ParseTimeline(body []byte) ([]types.Post, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid GraphQL response")
	}
	doc := gjson.ParseBytes(body)
	if !doc.Get("data").Exists() {
		if msg := doc.Get("errors.0.message"); msg.Exists() {
			return nil, fmt.Errorf("GraphQL error: %s", msg.String())
		}
	}

	n := &normalizer{seen: make(map[string]bool)}
	n.walk(doc)
	if n.err != nil {
		return nil, n.err
	}
	return n.posts, nil
}

type normalizer struct {
	posts []types.Post
	seen  map[string]bool
	err   error
}

func (n *normalizer) walk(r gjson.Result) {
	if n.err != nil {
		return
	}
	switch {
	case isTweet(r):
		if r.Get("legacy.retweeted_status_result").Exists() {
			return
		}
		p, err := toPost(r)
		if err != nil {
			n.err = err
			return
		}
		if !n.seen[p.ID] {
			n.seen[p.ID] = true
			n.posts = append(n.posts, p)
		}
	case r.IsObject(), r.IsArray():
		r.ForEach(func(_, v gjson.Result) bool {
			n.walk(v)
			return n.err == nil
		})
	}
}

// isTweet matches tweet results. User results also carry rest_id and legacy
// but never legacy.full_text.
func isTweet(r gjson.Result) bool {
	return r.IsObject() && r.Get("rest_id").Exists() && r.Get("legacy.full_text").Exists()
}

// unwrap strips the visibility envelope X puts around some tweets.
func unwrap(r gjson.Result) gjson.Result {
	if r.Get("__typename").String() == "TweetWithVisibilityResults" {
		return r.Get("tweet")
	}
	return r
}

func toPost(r gjson.Result) (types.Post, error) {
	legacy := r.Get("legacy")
	user := r.Get("core.user_results.result")

	p := types.Post{
		ID:             r.Get("rest_id").String(),
		Author:         firstString(user, "core.screen_name", "legacy.screen_name"),
		AuthorName:     firstString(user, "core.name", "legacy.name"),
		Text:           firstString(r, "note_tweet.note_tweet_results.result.text", "legacy.full_text"),
		ParentID:       legacy.Get("in_reply_to_status_id_str").String(),
		ReplyToAuthor:  legacy.Get("in_reply_to_screen_name").String(),
		QuotedID:       legacy.Get("quoted_status_id_str").String(),
		ConversationID: legacy.Get("conversation_id_str").String(),
		MediaURLs:      []string{},
	}

	for _, m := range legacy.Get("extended_entities.media").Array() {
		if u := m.Get("media_url_https").String(); u != "" {
			p.MediaURLs = append(p.MediaURLs, u)
		}
	}
	for _, u := range legacy.Get("entities.urls").Array() {
		if expanded := u.Get("expanded_url").String(); expanded != "" {
			p.Links = append(p.Links, expanded)
		}
	}
	if created := legacy.Get("created_at").String(); created != "" {
		if t, err := time.Parse(time.RubyDate, created); err == nil {
			p.CreatedAt = t.UTC()
		}
	}

	if q := unwrap(r.Get("quoted_status_result.result")); isTweet(q) {
		quoted, err := toPost(q)
		if err == nil {
			p.Quoted = &quoted
			if p.QuotedID == "" {
				p.QuotedID = quoted.ID
			}
		}
	}

	if err := p.Validate(); err != nil {
		return types.Post{}, fmt.Errorf("tweet %q: %w", p.ID, err)
	}
	return p, nil
}

func firstString(r gjson.Result, paths ...string) string {
	for _, path := range paths {
		if s := strings.TrimSpace(r.Get(path).String()); s != "" {
			return r.Get(path).String()
		}
	}
	return ""
}
