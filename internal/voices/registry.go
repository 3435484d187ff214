// Package voices lists reference audio files from a directory tree.
package voices

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lexiqai/indextts-gateway/internal/core"
)

// EmotionDir is the sub-directory holding emotion reference audio.
const EmotionDir = "emotion"

const audioExt = ".wav"

// Entry is one reference voice.
type Entry struct {
	Name      string `json:"name"`
	Reference string `json:"reference"`
}

// Registry resolves voice names to reference files under Dir. It keeps no
// state beyond the directory path; every call rescans the filesystem.
type Registry struct {
	Dir   string
	field string
}

// New returns a registry for the speaker voices in dir.
func New(dir string) *Registry {
	return &Registry{Dir: dir, field: "speaker"}
}

// Emotions returns the registry of the emotion sub-collection.
func (r *Registry) Emotions() *Registry {
	return &Registry{Dir: filepath.Join(r.Dir, EmotionDir), field: "emotion"}
}

// List returns every reference file sorted by name.
func (r *Registry) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(r.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read voices directory %s: %w", r.Dir, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.EqualFold(filepath.Ext(de.Name()), audioExt) {
			continue
		}
		name := strings.TrimSuffix(de.Name(), filepath.Ext(de.Name()))
		entries = append(entries, Entry{Name: name, Reference: filepath.Join(r.Dir, de.Name())})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Resolve returns the reference path for name, or a NotFound error.
func (r *Registry) Resolve(name string) (string, error) {
	clean := CleanName(name)
	if clean == "" || clean == "." || clean == ".." || strings.ContainsAny(clean, `/\`) {
		return "", core.NotFound(r.field, name)
	}
	path := filepath.Join(r.Dir, clean+audioExt)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", core.NotFound(r.field, clean)
	}
	return path, nil
}

// CleanName strips surrounding whitespace and quote characters from a voice
// name, as clients commonly send quoted emotion names.
func CleanName(name string) string {
	return strings.Trim(strings.TrimSpace(name), `"'`)
}

// Exists reports whether path names a regular file.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
