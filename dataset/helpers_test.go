package dataset

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/janelia-flyem/wsipatch/slide"
	"github.com/janelia-flyem/wsipatch/storage"
	"github.com/janelia-flyem/wsipatch/wsi"

	"github.com/blang/semver"

	_ "github.com/janelia-flyem/wsipatch/storage/badger"
	_ "github.com/janelia-flyem/wsipatch/storage/chunked"
	_ "github.com/janelia-flyem/wsipatch/storage/flatfile"
)

// fakeSlide has the same tile grid at every level.  Tiles listed in short
// yield windows one pixel too small.
type fakeSlide struct {
	name           string
	levels         int
	xTiles, yTiles int
	short          map[image.Point]bool

	g slide.Geometry
}

func (f *fakeSlide) String() string { return "fake slide " + f.name }
func (f *fakeSlide) Name() string   { return f.name }
func (f *fakeSlide) Close() error   { return nil }

func (f *fakeSlide) Tiles(g slide.Geometry) (slide.Tiler, error) {
	tiler := *f
	tiler.g = g
	return &tiler, nil
}

func (f *fakeSlide) LevelCount() int { return f.levels }

func (f *fakeSlide) LevelTiles(level int) (int, int, error) {
	if level >= f.levels {
		return 0, 0, wsi.ErrLevelOutOfRange
	}
	return f.xTiles, f.yTiles, nil
}

func (f *fakeSlide) LevelDimensions(level int) (int, int, error) {
	return f.xTiles * f.g.TileSize, f.yTiles * f.g.TileSize, nil
}

func (f *fakeSlide) Window(level, x, y int) (*slide.Window, error) {
	size := f.g.TileSize + 2*f.g.Overlap
	if f.short[image.Point{x, y}] {
		size--
	}
	return &slide.Window{Width: size, Height: size, Channels: 3, Pix: fakePixels(size, x, y)}, nil
}

func (f *fakeSlide) Region(level, x, y int) (origin, size wsi.Point2d, err error) {
	ts := float64(f.g.TileSize)
	return wsi.Point2d{X: float64(x) * ts, Y: float64(y) * ts}, wsi.Point2d{X: ts, Y: ts}, nil
}

func fakePixels(size, x, y int) []byte {
	pix := make([]byte, size*size*3)
	for i := range pix {
		pix[i] = byte(x*7 + y*13 + i)
	}
	return pix
}

// fakeDataset creates empty slide files and an opener serving the fakes by stem.
type fakeDataset struct {
	dir    string
	slides map[string]*fakeSlide

	mu     sync.Mutex
	opened int
}

func newFakeDataset(t *testing.T, slides ...*fakeSlide) *fakeDataset {
	d := &fakeDataset{dir: t.TempDir(), slides: make(map[string]*fakeSlide)}
	for _, s := range slides {
		if err := os.WriteFile(filepath.Join(d.dir, s.name+".svs"), nil, 0644); err != nil {
			t.Fatal(err)
		}
		d.slides[s.name] = s
	}
	return d
}

func (d *fakeDataset) open(path string) (slide.Slide, error) {
	d.mu.Lock()
	d.opened++
	d.mu.Unlock()
	s, found := d.slides[slide.Stem(path)]
	if !found {
		return nil, fmt.Errorf("no fake slide for %s", path)
	}
	return s, nil
}

func (d *fakeDataset) numOpened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

func testConfig(t *testing.T, d *fakeDataset, storageType string) Config {
	c := DefaultConfig()
	c.Dataset.SlideDirectory = d.dir
	c.Dataset.PatchSize = 4
	c.Dataset.Level = 0
	c.Store.StorageType = storageType
	c.Store.Location = t.TempDir()
	c.Store.Name = "patches"
	c.Store.Options = map[string]interface{}{"value_log_file_size": 1 << 24}
	return c
}

// memoryEngine records every call made to its backends.
type memoryEngine struct{}

func (memoryEngine) GetName() string           { return "memory-test" }
func (memoryEngine) GetDescription() string    { return "records calls in memory" }
func (memoryEngine) GetSemVer() semver.Version { return semver.MustParse("0.0.1") }
func (memoryEngine) RequiresCapacity() bool    { return false }

var (
	memoryMu     sync.Mutex
	memoryStores = make(map[string]*memoryStore)
)

func (memoryEngine) NewBackend(config wsi.StoreConfig) (storage.Backend, error) {
	opts, err := storage.ParseOptions(config)
	if err != nil {
		return nil, err
	}
	index, err := storage.OpenFileIndex(storage.IndexPath(opts.Path, opts.Name))
	if err != nil {
		return nil, err
	}
	s := &memoryStore{index: index}
	memoryMu.Lock()
	memoryStores[opts.Path] = s
	memoryMu.Unlock()
	return s, nil
}

func init() {
	storage.RegisterEngine(memoryEngine{})
}

func memoryStoreAt(path string) *memoryStore {
	memoryMu.Lock()
	defer memoryMu.Unlock()
	return memoryStores[path]
}

type memoryStore struct {
	index   *storage.FileIndex
	calls   []string
	batches [][]storage.Patch
}

func (s *memoryStore) String() string { return "memory store" }

func (s *memoryStore) WriteBatch(slideID string, patches []storage.Patch) error {
	s.calls = append(s.calls, "write "+slideID)
	s.batches = append(s.batches, append([]storage.Patch(nil), patches...))
	return nil
}

func (s *memoryStore) SlideDone(slideID string, ext storage.Extent) error {
	s.calls = append(s.calls, "done "+slideID)
	return s.index.Put(slideID, ext)
}

func (s *memoryStore) DiscardSlide(slideID string) {
	s.calls = append(s.calls, "discard "+slideID)
}

func (s *memoryStore) ReadByKey(slideID string, x, y uint32) (*storage.Patch, error) {
	return nil, wsi.ErrNotFound
}

func (s *memoryStore) EnumerateAll(slideID string) ([]*storage.Patch, error) {
	return nil, wsi.ErrNotFound
}

func (s *memoryStore) GridIndex() storage.GridIndex { return s.index }
func (s *memoryStore) Close() error                 { return nil }
