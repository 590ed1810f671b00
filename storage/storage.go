/*
	Package storage provides a unified interface to the patch stores.  Each
	storage engine registers itself by name and, once selected from a store
	configuration, is used only through the Backend interface.

	Three engines ship with wsipatch:

		kv             BadgerDB store, one transaction per batch (storage/badger)
		chunked-array  one Arrow IPC tensor file per slide plus text sidecar (storage/chunked)
		flat-file      one PNG per patch (storage/flatfile)

	Every engine also provides a GridIndex recording each finished slide's tile
	grid extent.
*/
package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/blang/semver"
	"github.com/janelia-flyem/wsipatch/wsi"
)

// Extent is the tile grid size of a sampled slide.
type Extent struct {
	XTiles uint32 `toml:"x_tiles"`
	YTiles uint32 `toml:"y_tiles"`
}

func (e Extent) String() string {
	return fmt.Sprintf("%d x %d tiles", e.XTiles, e.YTiles)
}

// GridIndex maps each slide to its tile grid extent.  An entry is written once,
// after the last batch of a slide is stored, so a missing entry means the slide
// was never completely sampled.
type GridIndex interface {
	Put(slideID string, ext Extent) error

	// Get returns the extent or an error wrapping wsi.ErrNotFound.
	Get(slideID string) (Extent, error)

	// Slides returns every indexed slide, sorted.
	Slides() ([]string, error)
}

// Backend stores and retrieves patches.  Writers are strictly sequential: no
// engine supports concurrent WriteBatch calls on the same store.
type Backend interface {
	fmt.Stringer

	// WriteBatch stores patches of one slide.  A patch at an existing (slide, x, y)
	// replaces the stored one.
	WriteBatch(slideID string, patches []Patch) error

	// SlideDone is called once after the last WriteBatch of a slide.  It completes
	// any engine-specific write and then records the extent in the GridIndex.
	SlideDone(slideID string, ext Extent) error

	// DiscardSlide releases anything held for a slide whose sampling failed
	// before SlideDone.  Batches already written stay stored.
	DiscardSlide(slideID string)

	// ReadByKey returns the patch at grid coordinate (x, y) or an error wrapping
	// wsi.ErrNotFound.
	ReadByKey(slideID string, x, y uint32) (*Patch, error)

	// EnumerateAll returns every stored patch of a slide, row-major.
	EnumerateAll(slideID string) ([]*Patch, error)

	// GridIndex returns the index SlideDone writes to.
	GridIndex() GridIndex

	Close() error
}

// Engine is a storage engine that can create backends.
type Engine interface {
	GetName() string
	GetDescription() string
	GetSemVer() semver.Version

	// RequiresCapacity is true if the engine must be opened with a pre-computed
	// "capacity" setting in bytes.
	RequiresCapacity() bool

	// NewBackend opens or creates a backend.  The passed config must contain
	// "path" and "name" settings.
	NewBackend(config wsi.StoreConfig) (Backend, error)
}

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]Engine)
)

// RegisterEngine makes an engine available by name.  Engines call this from init().
func RegisterEngine(e Engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if _, dup := engines[e.GetName()]; dup {
		wsi.Criticalf("storage engine %q registered twice\n", e.GetName())
	}
	engines[e.GetName()] = e
}

// GetEngine returns a registered engine by name.
func GetEngine(name string) (Engine, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	e, found := engines[name]
	if !found {
		return nil, fmt.Errorf("storage type %q not recognized; expecting one of %v: %w",
			name, engineNames(), wsi.ErrConfiguration)
	}
	return e, nil
}

// EngineNames returns the names of registered engines, sorted.
func EngineNames() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	return engineNames()
}

func engineNames() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBackend opens a backend with the engine named in the config.
func NewBackend(config wsi.StoreConfig) (Backend, error) {
	e, err := GetEngine(config.Engine)
	if err != nil {
		return nil, err
	}
	return e.NewBackend(config)
}
