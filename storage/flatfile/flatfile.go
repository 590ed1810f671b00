/*
	Package flatfile stores every patch as its own PNG, written as soon as its
	batch arrives.  Coordinates and label are encoded in the file name:

		{slide}_{x}_{y}_{label}.png

	with an empty label field when the store is unlabeled.  Only 1-channel (gray)
	and 3-channel (RGB) patches can be stored.

	Files go to {path}/{name} unless the "bucket" option gives a gocloud bucket
	URL such as gs://my-bucket?prefix=fold1/.  The grid index stays local.
*/
package flatfile

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/janelia-flyem/wsipatch/storage"
	"github.com/janelia-flyem/wsipatch/wsi"

	"github.com/blang/semver"
)

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		wsi.Errorf("Unable to make semver in flat-file engine: %v\n", err)
	}
	e := Engine{"flat-file", "PNG file per patch", ver}
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

// NewBackend returns a flat-file store, scanning any patches already present.
func (e Engine) NewBackend(config wsi.StoreConfig) (storage.Backend, error) {
	opts, err := storage.ParseOptions(config)
	if err != nil {
		return nil, err
	}
	bucketURL, _, err := config.GetString("bucket")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.Path, 0755); err != nil {
		return nil, fmt.Errorf("can't make directory at %s: %v", opts.Path, err)
	}
	index, err := storage.OpenFileIndex(storage.IndexPath(opts.Path, opts.Name))
	if err != nil {
		return nil, err
	}
	s := &Store{
		opts:  opts,
		index: index,
		files: make(map[string]map[[2]uint32]string),
	}
	if bucketURL != "" {
		if s.fs, err = openBucket(bucketURL); err != nil {
			return nil, err
		}
	} else {
		s.directory = filepath.Join(opts.Path, opts.Name)
		if err := os.MkdirAll(s.directory, 0755); err != nil {
			return nil, fmt.Errorf("can't make directory at %s: %v", s.directory, err)
		}
		s.fs = dirFiles{s.directory}
	}
	if err := s.scan(); err != nil {
		s.fs.close()
		return nil, err
	}
	wsi.Infof("Opened %s\n", s)
	return s, nil
}

// Store is the flat-file patch store.
type Store struct {
	directory string // empty for bucket stores
	fs        fileSet
	opts      storage.Options
	index     *storage.FileIndex

	// files maps slide and coordinate to the file name holding that patch.
	mu    sync.RWMutex
	files map[string]map[[2]uint32]string
}

func (s *Store) String() string {
	return fmt.Sprintf("flat-file store @ %s", s.fs)
}

// FileName returns the PNG name of a patch.
func FileName(slideID string, x, y uint32, label int32, labeled bool) string {
	labelStr := ""
	if labeled {
		labelStr = strconv.Itoa(int(label))
	}
	return fmt.Sprintf("%s_%d_%d_%s.png", slideID, x, y, labelStr)
}

// ParseFileName reverses FileName.  An empty label field gives storage.NoLabel.
func ParseFileName(name string) (slideID string, x, y uint32, label int32, err error) {
	base := strings.TrimSuffix(name, ".png")
	if base == name {
		err = fmt.Errorf("%q is not a PNG patch", name)
		return
	}
	parts := strings.Split(base, "_")
	if len(parts) < 4 {
		err = fmt.Errorf("%q doesn't look like {slide}_{x}_{y}_{label}.png", name)
		return
	}
	n := len(parts)
	slideID = strings.Join(parts[:n-3], "_")
	xv, err := strconv.ParseUint(parts[n-3], 10, 32)
	if err != nil {
		return
	}
	yv, err := strconv.ParseUint(parts[n-2], 10, 32)
	if err != nil {
		return
	}
	x, y = uint32(xv), uint32(yv)
	label = storage.NoLabel
	if parts[n-1] != "" {
		var lv int64
		if lv, err = strconv.ParseInt(parts[n-1], 10, 32); err != nil {
			return
		}
		label = int32(lv)
	}
	return
}

func (s *Store) scan() error {
	names, err := s.fs.list()
	if err != nil {
		return err
	}
	var num int
	for _, name := range names {
		slideID, x, y, _, err := ParseFileName(name)
		if err != nil {
			continue
		}
		s.remember(slideID, x, y, name)
		num++
	}
	if num > 0 {
		wsi.Debugf("Found %d existing patch files in %s\n", num, s)
	}
	return nil
}

func (s *Store) remember(slideID string, x, y uint32, name string) (previous string) {
	m, found := s.files[slideID]
	if !found {
		m = make(map[[2]uint32]string)
		s.files[slideID] = m
	}
	previous = m[[2]uint32{x, y}]
	m[[2]uint32{x, y}] = name
	return
}

// WriteBatch writes one PNG per patch.  A patch replacing one stored under a
// different label removes the old file.
func (s *Store) WriteBatch(slideID string, patches []storage.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range patches {
		p := &patches[i]
		img, err := p.Image()
		if err != nil {
			return fmt.Errorf("slide %q, flat-file store: %w", slideID, err)
		}
		name := FileName(slideID, p.X, p.Y, p.Label, s.opts.Labeled)
		if err := s.fs.write(name, img); err != nil {
			return err
		}
		if previous := s.remember(slideID, p.X, p.Y, name); previous != "" && previous != name {
			if err := s.fs.remove(previous); err != nil {
				wsi.Warningf("Unable to remove replaced patch file %s: %v\n", previous, err)
			}
		}
	}
	return nil
}

// SlideDone only indexes the extent since patches are already on disk.
func (s *Store) SlideDone(slideID string, ext storage.Extent) error {
	return s.index.Put(slideID, ext)
}

// DiscardSlide does nothing: batches are stored as they are written.
func (s *Store) DiscardSlide(slideID string) {}

func (s *Store) GridIndex() storage.GridIndex {
	return s.index
}

func (s *Store) ReadByKey(slideID string, x, y uint32) (*storage.Patch, error) {
	s.mu.RLock()
	name, found := s.files[slideID][[2]uint32{x, y}]
	s.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("no patch (%d,%d) of slide %q in %s: %w", x, y, slideID, s, wsi.ErrNotFound)
	}
	return s.readFile(name)
}

// EnumerateAll reads every patch file of an indexed slide, row-major.
func (s *Store) EnumerateAll(slideID string) ([]*storage.Patch, error) {
	if _, err := s.index.Get(slideID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	coords := make([][2]uint32, 0, len(s.files[slideID]))
	names := make(map[[2]uint32]string, len(s.files[slideID]))
	for c, name := range s.files[slideID] {
		coords = append(coords, c)
		names[c] = name
	}
	s.mu.RUnlock()

	sort.Slice(coords, func(i, j int) bool {
		if coords[i][1] != coords[j][1] {
			return coords[i][1] < coords[j][1]
		}
		return coords[i][0] < coords[j][0]
	})
	patches := make([]*storage.Patch, 0, len(coords))
	for _, c := range coords {
		p, err := s.readFile(names[c])
		if err != nil {
			return nil, err
		}
		patches = append(patches, p)
	}
	return patches, nil
}

func (s *Store) readFile(name string) (*storage.Patch, error) {
	_, x, y, label, err := ParseFileName(name)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("bad PNG %s: %v", name, err)
	}
	channels := uint8(3)
	if _, gray := img.(*image.Gray); gray {
		channels = 1
	}
	p, err := storage.PatchFromImage(img, channels)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	p.X, p.Y, p.Label = x, y, label
	return p, nil
}

func (s *Store) Close() error {
	return s.fs.close()
}
