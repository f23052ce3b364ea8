package fetch

import (
	"context"
	"fmt"
	"os"

	"github.com/ucinar/exepad-runtime/internal/descriptor"
)

// FileSource reads a tree from a local JSON config file. It backs the
// preview workflow together with Watcher.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// FetchTree reads and parses the file on every call; freshness comes
// from the watcher, not from caching.
func (s *FileSource) FetchTree(ctx context.Context, appID, mode, routeSlug string) (*descriptor.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("fetch: read %s: %w", s.Path, err)
	}
	tree, err := descriptor.ParseTree(data)
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: %w", s.Path, err)
	}
	return tree, nil
}
