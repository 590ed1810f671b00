/*
	Package chunked stores each slide's patches as one Arrow IPC file, written in
	bulk once the slide has been sampled.  Patches of a slide are held in memory
	until SlideDone, so memory use grows with the largest slide.

	For a store named N at path P, slide S produces:

		P/N/S.arrow   records of (x uint32, y uint32, label int32, pixels fixed-size binary)
		P/N/S.csv     one "x y label" line per patch, in record order
		P/N_index.toml  grid extents of finished slides
*/
package chunked

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/janelia-flyem/wsipatch/storage"
	"github.com/janelia-flyem/wsipatch/wsi"

	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/blang/semver"
)

// DefaultChunkRows is the maximum number of patches per Arrow record.
const DefaultChunkRows = 1024

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		wsi.Errorf("Unable to make semver in chunked-array engine: %v\n", err)
	}
	e := Engine{"chunked-array", "Arrow IPC file per slide with coordinate sidecar", ver}
	storage.RegisterEngine(e)
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) RequiresCapacity() bool {
	return false
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewBackend returns a chunked store.  Besides "path" and "name", an optional
// "chunk_rows" sets the patches per Arrow record.
func (e Engine) NewBackend(config wsi.StoreConfig) (storage.Backend, error) {
	opts, err := storage.ParseOptions(config)
	if err != nil {
		return nil, err
	}
	ipcOpts, err := compressionOption(opts.Compression)
	if err != nil {
		return nil, err
	}
	chunkRows, found, err := config.GetInt("chunk_rows")
	if err != nil {
		return nil, err
	}
	if !found {
		chunkRows = DefaultChunkRows
	} else if chunkRows <= 0 {
		return nil, fmt.Errorf("bad chunk_rows %d: %w", chunkRows, wsi.ErrConfiguration)
	}

	dir := filepath.Join(opts.Path, opts.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("can't make directory at %s: %v", dir, err)
	}
	index, err := storage.OpenFileIndex(storage.IndexPath(opts.Path, opts.Name))
	if err != nil {
		return nil, err
	}
	s := &Store{
		directory: dir,
		opts:      opts,
		chunkRows: chunkRows,
		ipcOpts:   ipcOpts,
		pool:      memory.NewGoAllocator(),
		index:     index,
		pending:   make(map[string]*slidePatches),
	}
	wsi.Infof("Opened %s\n", s)
	return s, nil
}

func compressionOption(c wsi.Compression) ([]ipc.Option, error) {
	switch c {
	case wsi.Uncompressed:
		return nil, nil
	case wsi.LZ4:
		return []ipc.Option{ipc.WithLZ4()}, nil
	case wsi.Zstd:
		return []ipc.Option{ipc.WithZstd()}, nil
	default:
		return nil, fmt.Errorf("Arrow IPC files support lz4 or zstd compression, not %s: %w", c, wsi.ErrConfiguration)
	}
}

// slidePatches accumulates a slide's patches in write order.
type slidePatches struct {
	patches []storage.Patch
	pos     map[[2]uint32]int
}

// Store is the chunked-array patch store.
type Store struct {
	directory string
	opts      storage.Options
	chunkRows int
	ipcOpts   []ipc.Option
	pool      memory.Allocator
	index     *storage.FileIndex

	mu      sync.Mutex
	pending map[string]*slidePatches
}

func (s *Store) String() string {
	return fmt.Sprintf("chunked-array store @ %s", s.directory)
}

func (s *Store) arrowPath(slideID string) string {
	return filepath.Join(s.directory, slideID+".arrow")
}

func (s *Store) sidecarPath(slideID string) string {
	return filepath.Join(s.directory, slideID+".csv")
}

// WriteBatch holds the patches until SlideDone.  Every patch of a slide must
// share one shape.
func (s *Store) WriteBatch(slideID string, patches []storage.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, found := s.pending[slideID]
	if !found {
		sp = &slidePatches{pos: make(map[[2]uint32]int)}
		s.pending[slideID] = sp
	}
	for i := range patches {
		p := patches[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("slide %q: %w", slideID, err)
		}
		if len(sp.patches) > 0 {
			first := &sp.patches[0]
			if p.Size != first.Size || p.Channels != first.Channels {
				return fmt.Errorf("slide %q: %s differs in shape from earlier patches: %w",
					slideID, &p, wsi.ErrInvalidParameter)
			}
		}
		key := [2]uint32{p.X, p.Y}
		if j, dup := sp.pos[key]; dup {
			sp.patches[j] = p
			continue
		}
		sp.pos[key] = len(sp.patches)
		sp.patches = append(sp.patches, p)
	}
	return nil
}

// SlideDone writes the slide's Arrow file and sidecar, then indexes its extent.
func (s *Store) SlideDone(slideID string, ext storage.Extent) error {
	s.mu.Lock()
	sp := s.pending[slideID]
	delete(s.pending, slideID)
	s.mu.Unlock()

	if sp != nil && len(sp.patches) > 0 {
		timedLog := wsi.NewTimeLog()
		if err := s.writeArrow(slideID, sp.patches); err != nil {
			return err
		}
		if err := writeSidecar(s.sidecarPath(slideID), sp.patches); err != nil {
			return err
		}
		timedLog.Debugf("Wrote %d patches of slide %q to %s", len(sp.patches), slideID, s.arrowPath(slideID))
	} else if err := s.removeFiles(slideID); err != nil {
		return err
	}
	return s.index.Put(slideID, ext)
}

// removeFiles deletes the Arrow file and sidecar left by an earlier sampling
// of the slide.
func (s *Store) removeFiles(slideID string) error {
	for _, path := range []string{s.arrowPath(slideID), s.sidecarPath(slideID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("can't remove stale %s: %v", path, err)
		}
	}
	return nil
}

// DiscardSlide drops the patches held for a slide that will not be finished.
func (s *Store) DiscardSlide(slideID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sp, found := s.pending[slideID]; found {
		wsi.Debugf("Discarding %d patches of failed slide %q in %s\n", len(sp.patches), slideID, s)
		delete(s.pending, slideID)
	}
}

func (s *Store) GridIndex() storage.GridIndex {
	return s.index
}

// ReadByKey finds the patch row through the sidecar and reads that record.
func (s *Store) ReadByKey(slideID string, x, y uint32) (*storage.Patch, error) {
	entries, err := readSidecar(s.sidecarPath(slideID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("no patches of slide %q in %s: %w", slideID, s, wsi.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	row := -1
	for i, e := range entries {
		if e.x == x && e.y == y {
			row = i
			break
		}
	}
	if row < 0 {
		return nil, fmt.Errorf("no patch (%d,%d) of slide %q in %s: %w", x, y, slideID, s, wsi.ErrNotFound)
	}
	var found *storage.Patch
	err = s.readArrow(slideID, func(first int, batch []*storage.Patch) bool {
		if row < first+len(batch) {
			found = batch[row-first]
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil || found.X != x || found.Y != y {
		return nil, fmt.Errorf("sidecar of slide %q disagrees with %s", slideID, s.arrowPath(slideID))
	}
	return found, nil
}

// EnumerateAll returns every patch of an indexed slide in write order.
func (s *Store) EnumerateAll(slideID string) ([]*storage.Patch, error) {
	if _, err := s.index.Get(slideID); err != nil {
		return nil, err
	}
	var patches []*storage.Patch
	err := s.readArrow(slideID, func(first int, batch []*storage.Patch) bool {
		patches = append(patches, batch...)
		return true
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return patches, err
}

// Close drops any slide that was never finished.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slideID, sp := range s.pending {
		wsi.Warningf("Discarding %d unfinished patches of slide %q in %s\n", len(sp.patches), slideID, s)
	}
	s.pending = make(map[string]*slidePatches)
	return nil
}
