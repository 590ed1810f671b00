package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/janelia-flyem/wsipatch/wsi"
)

type indexFile struct {
	Slides map[string]Extent `toml:"slides"`
}

// FileIndex is a GridIndex kept in a TOML file, for engines without an
// embedded database.  The file is rewritten on every Put.
type FileIndex struct {
	path string

	mu      sync.RWMutex
	entries map[string]Extent
}

// IndexPath returns the index file path for a store directory and name.
func IndexPath(dir, name string) string {
	return filepath.Join(dir, name+"_index.toml")
}

// OpenFileIndex loads an existing index file or starts an empty one.
func OpenFileIndex(path string) (*FileIndex, error) {
	idx := &FileIndex{path: path, entries: make(map[string]Extent)}
	var f indexFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("could not read grid index %q: %v", path, err)
	}
	for slideID, ext := range f.Slides {
		idx.entries[slideID] = ext
	}
	return idx, nil
}

func (idx *FileIndex) String() string {
	return fmt.Sprintf("grid index @ %s", idx.path)
}

// Put records the extent and saves the file.
func (idx *FileIndex) Put(slideID string, ext Extent) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[slideID] = ext
	return idx.save()
}

func (idx *FileIndex) Get(slideID string) (Extent, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ext, found := idx.entries[slideID]
	if !found {
		return Extent{}, fmt.Errorf("slide %q not in %s: %w", slideID, idx, wsi.ErrNotFound)
	}
	return ext, nil
}

func (idx *FileIndex) Slides() ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	slides := make([]string, 0, len(idx.entries))
	for slideID := range idx.entries {
		slides = append(slides, slideID)
	}
	sort.Strings(slides)
	return slides, nil
}

// save writes to a temporary file and renames it over the index.
func (idx *FileIndex) save() error {
	tmp, err := os.CreateTemp(filepath.Dir(idx.path), filepath.Base(idx.path)+".*")
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(tmp).Encode(indexFile{Slides: idx.entries}); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("could not encode %s: %v", idx, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), idx.path)
}
