package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ibeckermayer/threadmap/internal/export"
	"github.com/ibeckermayer/threadmap/internal/types"
)

// Outputs names the files produced for one root post.
type Outputs struct {
	Thread  string // {rootId}_thread.json
	Mindmap string // {rootId}_mindmap.md
	Images  string // {rootId}_images/
}

// OutputPaths returns the output locations for rootID inside dir.
func OutputPaths(dir, rootID string) Outputs {
	return Outputs{
		Thread:  filepath.Join(dir, rootID+"_thread.json"),
		Mindmap: filepath.Join(dir, rootID+"_mindmap.md"),
		Images:  filepath.Join(dir, rootID+"_images"),
	}
}

// WriteOutputs writes the thread JSON and the rendered mindmap. Both files are
// staged next to their destination and renamed into place only after both
// were written, so a failure never leaves one without the other.
func WriteOutputs(dir, rootID string, forest *types.Forest, mindmap string) (Outputs, error) {
	out := OutputPaths(dir, rootID)

	data, err := export.Marshal(forest)
	if err != nil {
		return Outputs{}, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return Outputs{}, fmt.Errorf("failed to create output dir: %w", err)
	}

	files := []struct {
		path string
		data []byte
	}{
		{out.Thread, data},
		{out.Mindmap, []byte(mindmap)},
	}

	var staged []string
	cleanup := func() {
		for _, p := range staged {
			os.Remove(p)
		}
	}
	for _, f := range files {
		tmp := f.path + ".tmp"
		if err := os.WriteFile(tmp, f.data, 0644); err != nil {
			cleanup()
			return Outputs{}, fmt.Errorf("failed to write %s: %w", filepath.Base(f.path), err)
		}
		staged = append(staged, tmp)
	}
	for i, f := range files {
		if err := os.Rename(staged[i], f.path); err != nil {
			cleanup()
			return Outputs{}, fmt.Errorf("failed to write %s: %w", filepath.Base(f.path), err)
		}
	}

	return out, nil
}
