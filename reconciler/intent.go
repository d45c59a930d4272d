package reconciler

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// intentFile is the on-disk shape of the local intent file.
type intentFile struct {
	Projects []ProjectIntent `yaml:"projects"`
}

// FileIntentStore reads project intent from a YAML file once at load
// time. The file is the operator's declaration of which projects are
// live; resources tagged with an active project are never stale.
type FileIntentStore struct {
	projects map[string]ProjectIntent
}

// LoadIntentFile parses a YAML intent file. A missing file is not an
// error: it yields an empty store, meaning nothing is actively claimed.
func LoadIntentFile(path string) (*FileIntentStore, error) {
	store := &FileIntentStore{projects: make(map[string]ProjectIntent)}
	if path == "" {
		return store, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("reading intent file %s: %w", path, err)
	}

	var file intentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing intent file %s: %w", path, err)
	}

	for _, project := range file.Projects {
		if project.Name == "" {
			continue
		}
		store.projects[project.Name] = project
	}
	return store, nil
}

// ActiveProject looks up a project by name.
func (s *FileIntentStore) ActiveProject(name string) (ProjectIntent, bool) {
	project, ok := s.projects[name]
	return project, ok
}

// StaticIntentStore is an in-memory intent store, mainly for tests and
// for callers that build intent programmatically.
type StaticIntentStore map[string]ProjectIntent

// ActiveProject looks up a project by name.
func (s StaticIntentStore) ActiveProject(name string) (ProjectIntent, bool) {
	project, ok := s[name]
	return project, ok
}
