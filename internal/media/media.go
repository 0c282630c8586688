// Package media extracts media URLs from posts and downloads them to disk.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/threadmap/internal/logging"
	"github.com/ibeckermayer/threadmap/internal/types"
)

// maxExtLen bounds file extensions derived from URLs, dot included.
const maxExtLen = 5

// Extract returns the media URLs attached to a post in provider order.
func Extract(p types.Post) []string {
	urls := make([]string, len(p.MediaURLs))
	copy(urls, p.MediaURLs)
	return urls
}

// FileName returns the local file name for the index-th media item of a node.
func FileName(nodeID string, index int, mediaURL string) string {
	return fmt.Sprintf("%s_%d%s", nodeID, index, extension(mediaURL))
}

// extension derives a file extension from the URL path. pbs.twimg.com URLs
// often carry the format as a query parameter instead, e.g. ?format=jpg.
func extension(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if ext == "" {
		if format := u.Query().Get("format"); format != "" {
			ext = "." + format
		}
	}
	if len(ext) > maxExtLen {
		ext = ext[:maxExtLen]
	}
	return ext
}

// Report summarizes one Materialize call.
type Report struct {
	Downloaded int
	Failed     int
}

// Materializer downloads the media of every node in a forest.
type Materializer struct {
	client  *http.Client
	workers int
	log     zerolog.Logger
}

// NewMaterializer creates a materializer with the given per-request timeout
// and download concurrency.
func NewMaterializer(timeout time.Duration, workers int) *Materializer {
	if workers < 1 {
		workers = 1
	}
	return &Materializer{
		client:  &http.Client{Timeout: timeout},
		workers: workers,
		log:     logging.Component("media"),
	}
}

type job struct {
	nodeID string
	url    string
	file   string
}

// Materialize downloads every media URL in the forest into dir. A node that
// appears more than once in the forest is downloaded once. Individual
// download failures are logged and counted; only failing to create dir is
// returned as an error.
func (m *Materializer) Materialize(ctx context.Context, forest *types.Forest, dir string) (Report, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Report{}, fmt.Errorf("failed to create media dir: %w", err)
	}

	var jobs []job
	seen := make(map[string]bool)
	forest.Walk(func(n *types.Node) bool {
		for i, u := range n.MediaURLs {
			file := FileName(n.ID, i, u)
			if seen[file] {
				continue
			}
			seen[file] = true
			jobs = append(jobs, job{nodeID: n.ID, url: u, file: file})
		}
		return true
	})

	var downloaded, failed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	for _, j := range jobs {
		g.Go(func() error {
			if err := m.download(ctx, j.url, filepath.Join(dir, j.file)); err != nil {
				failed.Add(1)
				m.log.Warn().Err(err).Str("post_id", j.nodeID).Str("url", j.url).Msg("Failed to download media")
				return nil
			}
			downloaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Downloaded: int(downloaded.Load()), Failed: int(failed.Load())}
	m.log.Info().Int("downloaded", report.Downloaded).Int("failed", report.Failed).Str("dir", dir).Msg("Media materialized")
	return report, nil
}

func (m *Materializer) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}
