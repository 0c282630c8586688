package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/threadmap/internal/browser"
	"github.com/ibeckermayer/threadmap/internal/config"
	"github.com/ibeckermayer/threadmap/internal/logging"
	"github.com/ibeckermayer/threadmap/internal/media"
	"github.com/ibeckermayer/threadmap/internal/mindmap"
	"github.com/ibeckermayer/threadmap/internal/source"
	"github.com/ibeckermayer/threadmap/internal/store"
	"github.com/ibeckermayer/threadmap/internal/thread"
	"github.com/ibeckermayer/threadmap/internal/types"
)

var (
	// ErrNoInput is returned when a request names neither a URL nor a post id.
	ErrNoInput = errors.New("either a post URL or a post id is required")
	// ErrBadURL is returned for URLs that do not point at a post.
	ErrBadURL = errors.New("not an X/Twitter post URL")
)

var statusURL = regexp.MustCompile(`(?:^|[/.])(?:twitter|x)\.com/([A-Za-z0-9_]+)/status/(\d+)`)

// ParseURL extracts the author handle and post id from a post URL such as
// https://x.com/alice/status/100.
func ParseURL(raw string) (author, id string, err error) {
	m := statusURL.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", "", fmt.Errorf("%w: %q", ErrBadURL, raw)
	}
	return m[1], m[2], nil
}

// Request describes one extract invocation.
type Request struct {
	URL        string
	ID         string
	SaveImages bool
	// OutDir overrides the configured output directory.
	OutDir string
	// Snapshot also keeps a timestamped copy of the forest in the cache.
	Snapshot bool
	// Open shows the rendered mindmap when done.
	Open bool
}

// RootID resolves the post id a request refers to.
func (r Request) RootID() (string, error) {
	switch {
	case r.URL != "":
		_, id, err := ParseURL(r.URL)
		return id, err
	case r.ID != "":
		return r.ID, nil
	default:
		return "", ErrNoInput
	}
}

// Result is the outcome of a successful extract.
type Result struct {
	RunID   string
	Forest  *types.Forest
	Outputs store.Outputs
	Media   media.Report
	// Previous is the latest snapshot before this run, when one was taken.
	Previous *types.Forest
}

// App holds the collaborators of an extract invocation.
type App struct {
	config    *config.Config
	source    source.PostSource
	db        *store.Store     // optional run history
	snapshots *store.Snapshots // optional
	open      func(string) error
	log       zerolog.Logger
}

// Option customizes an App.
type Option func(*App)

// WithStore records every run in db.
func WithStore(db *store.Store) Option {
	return func(a *App) { a.db = db }
}

// WithSnapshots enables Request.Snapshot.
func WithSnapshots(s *store.Snapshots) Option {
	return func(a *App) { a.snapshots = s }
}

// WithOpener replaces the function used to show the mindmap.
func WithOpener(open func(string) error) Option {
	return func(a *App) { a.open = open }
}

// New creates a new App instance.
func New(cfg *config.Config, src source.PostSource, opts ...Option) *App {
	a := &App{
		config: cfg,
		source: src,
		open:   browser.Open,
		log:    logging.Component("app"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Extract builds the conversation forest around the requested post, then
// writes {rootId}_thread.json and {rootId}_mindmap.md. Nothing is written
// unless the whole forest was built.
func (a *App) Extract(ctx context.Context, req Request) (*Result, error) {
	rootID, err := req.RootID()
	if err != nil {
		return nil, err
	}

	res := &Result{RunID: uuid.NewString()}
	log := a.log.With().Str("run_id", res.RunID).Str("root_id", rootID).Logger()
	started := time.Now()
	defer func() {
		a.recordRun(res, rootID, started, err)
	}()

	log.Info().Msg("Resolving root post")
	root, err := a.source.FetchByID(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve post %s: %w", rootID, err)
	}

	builder := thread.NewBuilder(a.source, thread.Options{
		MaxDepth:    a.config.Thread.MaxDepth,
		ReplySearch: thread.ReplySearch(a.config.Thread.ReplySearch),
	})

	log.Info().Str("author", root.Author).Msg("Building conversation tree")
	mainTree, err := builder.Build(ctx, root)
	if err != nil {
		return nil, err
	}

	log.Info().Msg("Finding author quotes")
	quotes, err := thread.NewQuoteFinder(a.source, builder, a.config.Thread.QuoteWorkers).Find(ctx, root.ID, root.Author)
	if err != nil {
		return nil, err
	}

	res.Forest = &types.Forest{Main: mainTree, AuthorQuotes: quotes, RootAuthor: root.Author}
	log.Info().Int("nodes", res.Forest.Count()).Int("author_quotes", len(quotes)).Msg("Forest built")

	outDir := req.OutDir
	if outDir == "" {
		outDir = a.config.Output.Dir
	}
	res.Outputs, err = store.WriteOutputs(outDir, root.ID, res.Forest, mindmap.Render(res.Forest, root.Author))
	if err != nil {
		return nil, err
	}
	log.Info().Str("thread", res.Outputs.Thread).Str("mindmap", res.Outputs.Mindmap).Msg("Wrote outputs")

	if req.SaveImages {
		m := media.NewMaterializer(a.config.Media.Timeout.Duration, a.config.Media.Workers)
		res.Media, err = m.Materialize(ctx, res.Forest, res.Outputs.Images)
		if err != nil {
			return nil, err
		}
		log.Info().Int("downloaded", res.Media.Downloaded).Int("failed", res.Media.Failed).Msg("Saved media")
	}

	if req.Snapshot && a.snapshots != nil {
		prev, _, err := a.snapshots.Latest(root.ID)
		switch {
		case err == nil:
			res.Previous = prev
		case !errors.Is(err, types.ErrNotFound):
			log.Warn().Err(err).Msg("Failed to read previous snapshot")
		}
		if path, err := a.snapshots.Save(root.ID, res.Forest); err != nil {
			log.Warn().Err(err).Msg("Failed to save snapshot")
		} else {
			log.Debug().Str("path", path).Msg("Saved snapshot")
		}
	}

	if req.Open {
		if err := a.open(res.Outputs.Mindmap); err != nil {
			log.Warn().Err(err).Msg("Failed to open mindmap")
		}
	}

	return res, nil
}

func (a *App) recordRun(res *Result, rootID string, started time.Time, err error) {
	if a.db == nil {
		return
	}
	run := store.Run{
		ID:         res.RunID,
		RootID:     rootID,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if res.Forest != nil {
		run.Nodes = res.Forest.Count()
	}
	if err != nil {
		run.Err = err.Error()
	}
	// The invocation context may already be cancelled; the record is still wanted.
	if recErr := a.db.RecordRun(context.Background(), run); recErr != nil {
		a.log.Warn().Err(recErr).Str("run_id", res.RunID).Msg("Failed to record run")
	}
}

// RenderFile re-renders the mindmap of a saved thread JSON file. An empty
// author falls back to the author of the main post.
func RenderFile(path, author string) (string, error) {
	forest, err := store.Load(path)
	if err != nil {
		return "", err
	}
	if author == "" {
		author = forest.RootAuthor
	}
	return mindmap.Render(forest, author), nil
}
