// Package notifier emails the posts that appeared in a watched conversation
// since its previous snapshot.
package notifier

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/ibeckermayer/threadmap/internal/config"
	"github.com/ibeckermayer/threadmap/internal/mindmap"
	"github.com/ibeckermayer/threadmap/internal/notifier/providers"
	"github.com/ibeckermayer/threadmap/internal/types"
)

// Notifier sends new-post notifications
type Notifier struct {
	sender Sender
	to     string
}

// Sender defines the interface for email sending
type Sender interface {
	Send(to, subject, htmlBody, plainBody string) error
}

// New creates a notifier that mails to the given address
func New(sender Sender, to string) *Notifier {
	return &Notifier{sender: sender, to: to}
}

// NewFromConfig creates a notifier based on configuration. It returns nil
// when no provider is configured.
func NewFromConfig(cfg config.NotifyConfig) (*Notifier, error) {
	var sender Sender

	switch cfg.Provider {
	case "":
		return nil, nil
	case "smtp":
		sender = providers.NewSMTPSender(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUser,
			cfg.SMTPPass,
			cfg.FromAddr,
		)
	default:
		return nil, fmt.Errorf("unknown notify provider: %s", cfg.Provider)
	}

	return New(sender, cfg.ToAddr), nil
}

// NewPosts returns the nodes of cur whose ids do not occur in prev, in walk
// order. A nil prev yields nothing: the first run has no baseline.
func NewPosts(prev, cur *types.Forest) []*types.Node {
	if prev == nil || cur == nil {
		return nil
	}
	seen := make(map[string]bool)
	prev.Walk(func(n *types.Node) bool {
		seen[n.ID] = true
		return true
	})

	var fresh []*types.Node
	cur.Walk(func(n *types.Node) bool {
		if !seen[n.ID] {
			seen[n.ID] = true
			fresh = append(fresh, n)
		}
		return true
	})
	return fresh
}

type entry struct {
	Author string
	Label  string
	URL    string
}

var htmlBody = template.Must(template.New("posts").Parse(`<p>{{len .Posts}} new posts around <a href="{{.RootURL}}">@{{.RootAuthor}}/{{.RootID}}</a>:</p>
<ul>
{{- range .Posts}}
<li><b>@{{.Author}}</b> <a href="{{.URL}}">{{.Label}}</a></li>
{{- end}}
</ul>
`))

// NotifyNewPosts mails the given nodes of forest. Nothing is sent for an
// empty list.
func (n *Notifier) NotifyNewPosts(forest *types.Forest, posts []*types.Node) error {
	if len(posts) == 0 {
		return nil
	}
	subject, htmlText, plain, err := compose(forest, posts)
	if err != nil {
		return err
	}
	if err := n.sender.Send(n.to, subject, htmlText, plain); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

func compose(forest *types.Forest, posts []*types.Node) (subject, htmlText, plain string, err error) {
	root := forest.Main
	subject = fmt.Sprintf("threadmap: %d new posts around @%s/%s", len(posts), root.Author, root.ID)

	entries := make([]entry, len(posts))
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d new posts around %s\n\n", len(posts), root.URL())
	for i, p := range posts {
		entries[i] = entry{Author: p.Author, Label: mindmap.Label(p), URL: p.URL()}
		fmt.Fprintf(&sb, "- @%s %s\n  %s\n", p.Author, entries[i].Label, entries[i].URL)
	}

	var buf bytes.Buffer
	err = htmlBody.Execute(&buf, map[string]any{
		"Posts":      entries,
		"RootURL":    root.URL(),
		"RootAuthor": root.Author,
		"RootID":     root.ID,
	})
	if err != nil {
		return "", "", "", fmt.Errorf("failed to render notification: %w", err)
	}
	return subject, buf.String(), sb.String(), nil
}
