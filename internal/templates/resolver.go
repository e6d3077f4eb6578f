// Package templates resolves named deployment templates from a directory of
// JSON documents.
package templates

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/logging"
)

// EnvironmentTemplateName is the composite template deployed for a full environment
const EnvironmentTemplateName = "complete-environment"

// FileResolver loads templates from <dir>/<name>.json. Files are read on
// every Resolve so edits take effect without a restart.
type FileResolver struct {
	dir    string
	logger *logging.Logger
}

// NewFileResolver validates the directory and returns a resolver
func NewFileResolver(dir string) (*FileResolver, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("template directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("template path %s is not a directory", dir)
	}
	return &FileResolver{
		dir:    dir,
		logger: logging.NewLogger("templates"),
	}, nil
}

// Resolve returns the parsed template document for a name
func (r *FileResolver) Resolve(name string) (map[string]interface{}, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrTemplateNotFound, name)
	}

	path := filepath.Join(r.dir, name+".json")
	data, err := os.ReadFile(path) //nolint:gosec // path is constrained to the template dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrTemplateNotFound, name)
		}
		return nil, fmt.Errorf("failed to read template %s: %w", name, err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("template %s is not valid JSON: %w", name, err)
	}
	if _, ok := doc["resources"]; !ok {
		return nil, fmt.Errorf("template %s has no resources section", name)
	}

	r.logger.Debugf("resolved template %s from %s", name, path)
	return doc, nil
}

// List returns the names of all available templates, sorted
func (r *FileResolver) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read template directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}
