package registry

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ucinar/exepad-runtime/internal/log"
	"github.com/ucinar/exepad-runtime/internal/render"
)

// Discovery errors.
var (
	ErrBadPath = errors.New("component path does not follow category/size-class/type convention")
)

// MetadataFromPath derives a type tag and metadata from a conventional
// registration path. Paths look like "content/small/heading" or
// "layout/large/page-shell.view"; the last segment (extension stripped)
// is the type, the first is the category, the middle the size class.
// Shorter paths degrade gracefully: two segments mean category/type,
// one segment is just a type.
func MetadataFromPath(path string) (string, Metadata, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", Metadata{}, fmt.Errorf("%w: empty path", ErrBadPath)
	}
	segments := strings.Split(trimmed, "/")

	typeName := segments[len(segments)-1]
	if dot := strings.LastIndex(typeName, "."); dot > 0 {
		typeName = typeName[:dot]
	}
	if typeName == "" {
		return "", Metadata{}, fmt.Errorf("%w: %q", ErrBadPath, path)
	}

	meta := Metadata{Status: StatusStable}
	switch len(segments) {
	case 1:
	case 2:
		meta.Category = segments[0]
	default:
		meta.Category = segments[0]
		meta.SizeClass = segments[1]
	}
	return typeName, meta, nil
}

// RegisterPaths bulk-registers a path → loader map, deriving metadata
// from each path. Malformed paths are skipped with a log entry so one
// bad key cannot abort discovery of the rest.
func (r *Registry) RegisterPaths(loaders map[string]render.Loader) {
	for path, load := range loaders {
		typeName, meta, err := MetadataFromPath(path)
		if err != nil {
			log.Warn(log.CatRegistry, "skipping undiscoverable path", "path", path, "error", err.Error())
			continue
		}
		r.Register(typeName, load, meta)
	}
}

// manifestFile is the YAML shape for explicit registration manifests,
// used where path conventions are unavailable.
type manifestFile struct {
	Components []componentDef `yaml:"components"`
}

type componentDef struct {
	Type      string `yaml:"type"`
	Category  string `yaml:"category"`
	SizeClass string `yaml:"size_class"`
	Status    string `yaml:"status"`
	Version   string `yaml:"version"`
}

// RegisterManifest registers components declared in a YAML manifest,
// pairing each declared type with a loader from the supplied map.
// Declared types with no loader are skipped with a log entry.
func (r *Registry) RegisterManifest(data []byte, loaders map[string]render.Loader) error {
	var file manifestFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse component manifest: %w", err)
	}

	for _, def := range file.Components {
		load, ok := loaders[def.Type]
		if !ok {
			log.Warn(log.CatRegistry, "manifest declares type with no loader", "type", def.Type)
			continue
		}
		status := Status(def.Status)
		if status == "" {
			status = StatusStable
		}
		r.Register(def.Type, load, Metadata{
			Category:  def.Category,
			SizeClass: def.SizeClass,
			Status:    status,
			Version:   def.Version,
		})
	}
	return nil
}
