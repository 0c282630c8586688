package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ibeckermayer/threadmap/internal/config"
	"github.com/ibeckermayer/threadmap/internal/export"
	"github.com/ibeckermayer/threadmap/internal/types"
)

// Snapshots keeps timestamped copies of built forests, one directory per root
// post, so repeated watch runs can be compared.
type Snapshots struct {
	Dir string
}

// DefaultSnapshots returns the snapshot cache under the cache directory.
func DefaultSnapshots() (*Snapshots, error) {
	cacheDir, err := config.CacheDir()
	if err != nil {
		return nil, err
	}
	return &Snapshots{Dir: filepath.Join(cacheDir, "snapshots")}, nil
}

// rootDir returns the cache directory for a given root post.
func (s *Snapshots) rootDir(rootID string) string {
	return filepath.Join(s.Dir, rootID)
}

// generateFilename creates a timestamped filename with the given extension.
func generateFilename(now time.Time, ext string) string {
	return now.UTC().Format("2006-01-02T15-04-05.000") + ext
}

// Save writes the forest to the root's snapshot directory.
// Returns the path to the saved file.
func (s *Snapshots) Save(rootID string, forest *types.Forest) (string, error) {
	dir := s.rootDir(rootID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	data, err := export.Marshal(forest)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, generateFilename(time.Now(), ".json"))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	return path, nil
}

// Latest loads the most recent snapshot for a root post.
// Returns the forest and the path it was loaded from.
func (s *Snapshots) Latest(rootID string) (*types.Forest, string, error) {
	path, err := s.LatestFile(rootID)
	if err != nil {
		return nil, "", err
	}

	forest, err := Load(path)
	if err != nil {
		return nil, "", err
	}

	return forest, path, nil
}

// Load reads a thread JSON document from path.
func Load(path string) (*types.Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read thread file: %w", err)
	}
	return export.Unmarshal(data)
}

// LatestFile returns the path to the most recent snapshot of a root post.
func (s *Snapshots) LatestFile(rootID string) (string, error) {
	dir := s.rootDir(rootID)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no snapshot for post %s: %w", rootID, types.ErrNotFound)
		}
		return "", err
	}

	// os.ReadDir sorts by name, which is chronological for our timestamps
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			files = append(files, entry.Name())
		}
	}

	if len(files) == 0 {
		return "", fmt.Errorf("no snapshot for post %s: %w", rootID, types.ErrNotFound)
	}

	return filepath.Join(dir, files[len(files)-1]), nil
}
