package badger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/janelia-flyem/wsipatch/storage"
	"github.com/janelia-flyem/wsipatch/wsi"

	"github.com/blang/semver"
	"github.com/coocood/freecache"
	"github.com/dgraph-io/badger/v3"
	"github.com/dustin/go-humanize"
)

const (
	// DefaultValueThreshold is the size of values in bytes that if exceeded get stored in
	// value log instead of the LSM tree.  Patch records are nearly always larger.
	DefaultValueThreshold = 100

	// DefaultSyncWrites is true if all writes are synced to disk, thereby making db resilient
	// at cost of speed.
	DefaultSyncWrites = false

	syncInterval = 30 * time.Second
)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		wsi.Errorf("Unable to make semver in kv engine: %v\n", err)
	}
	e := Engine{"kv", "BadgerDB transactional key-value store", ver}
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

// RequiresCapacity is true since the store size is fixed when opened.
func (e Engine) RequiresCapacity() bool {
	return true
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewBackend returns a badger-backed patch store.  The passed config must contain
// "path", "name" and, unless "read_only" is set, a positive "capacity" in bytes.
func (e Engine) NewBackend(config wsi.StoreConfig) (storage.Backend, error) {
	return e.newDB(config)
}

type settings struct {
	storage.Options
	capacity  uint64
	cacheSize int
	readOnly  bool
}

func parseConfig(config wsi.StoreConfig) (s settings, err error) {
	if s.Options, err = storage.ParseOptions(config); err != nil {
		return
	}
	if s.readOnly, _, err = config.GetBool("read_only"); err != nil {
		return
	}
	capacity, found, err := config.GetInt("capacity")
	if err != nil {
		return
	}
	if !s.readOnly && (!found || capacity <= 0) {
		err = fmt.Errorf("kv store needs a positive %q setting: %w", "capacity", wsi.ErrConfiguration)
		return
	}
	if capacity > 0 {
		s.capacity = uint64(capacity)
	}

	cacheMB, _, err := config.GetInt("read_cache_mb")
	if err != nil {
		return
	}
	if cacheMB < 0 {
		err = fmt.Errorf("bad read_cache_mb %d: %w", cacheMB, wsi.ErrConfiguration)
		return
	}
	s.cacheSize = cacheMB << 20
	return
}

func getOptions(path string, config wsi.Config) (*badger.Options, error) {
	opts := badger.DefaultOptions(path)
	opts.NumVersionsToKeep = 1
	opts.SyncWrites = DefaultSyncWrites
	opts.ValueThreshold = DefaultValueThreshold
	opts.Logger = logger{}

	readOnly, found, err := config.GetBool("read_only")
	if err != nil {
		return nil, err
	}
	if found {
		opts.ReadOnly = readOnly
	}

	valueSizeThresh, found, err := config.GetInt("value_threshold")
	if err != nil {
		return nil, err
	}
	if found {
		opts = opts.WithValueThreshold(int64(valueSizeThresh))
	}

	vlogSize, found, err := config.GetInt("value_log_file_size")
	if err != nil {
		return nil, err
	}
	if found {
		opts = opts.WithValueLogFileSize(int64(vlogSize))
	}

	// also bounds the size of one transaction, and so of one batch
	memTableSize, found, err := config.GetInt("mem_table_size")
	if err != nil {
		return nil, err
	}
	if found {
		opts = opts.WithMemTableSize(int64(memTableSize))
	}
	return &opts, nil
}

func openDB(path string, config wsi.Config) (*badger.DB, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		wsi.Infof("Database not already at path (%s). Creating directory...\n", path)
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("can't make directory at %s: %v", path, err)
		}
	}
	opts, err := getOptions(path, config)
	if err != nil {
		return nil, err
	}
	wsi.Debugf("Opening badger @ path %s\n", path)
	return badger.Open(*opts)
}

// newDB opens the patch store and its grid index, creating them if needed.
func (e Engine) newDB(config wsi.StoreConfig) (*Store, error) {
	s, err := parseConfig(config)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.Path, s.Name)
	db, err := openDB(dir, config.Config)
	if err != nil {
		return nil, err
	}
	meta, err := openMetaIndex(filepath.Join(s.Path, s.Name+"_meta"), config.Config)
	if err != nil {
		db.Close()
		return nil, err
	}
	store := &Store{
		directory:  dir,
		settings:   s,
		db:         db,
		meta:       meta,
		stopSyncCh: make(chan struct{}),
		syncDone:   make(chan struct{}),
	}
	if s.cacheSize > 0 {
		store.cache = freecache.NewCache(s.cacheSize)
		wsi.Infof("Created freecache of ~ %d MB for %s reads.\n", s.cacheSize>>20, store)
	}
	if s.readOnly {
		close(store.syncDone)
	} else {
		go store.syncPeriodically()
	}

	wsi.Infof("Opened %s with capacity %s\n", store, humanize.Bytes(s.capacity))
	return store, nil
}

// Store is a patch store of one badger database keyed by "{slide}-{x}-{y}".
type Store struct {
	directory string
	settings  settings

	db    *badger.DB
	meta  *metaIndex
	cache *freecache.Cache

	mu   sync.Mutex
	used uint64

	// full is the error that latched the store on capacity; all writes fail after it is set.
	full error

	stopSyncCh chan struct{}
	syncDone   chan struct{}
}

func (s *Store) String() string {
	return fmt.Sprintf("kv store @ %s", s.directory)
}

// Periodically sync to prevent too many writes from being buffered
// if the process crashes.
func (s *Store) syncPeriodically() {
	defer close(s.syncDone)
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSyncCh:
			return
		case <-ticker.C:
			if err := s.db.Sync(); err != nil {
				wsi.Errorf("unable to sync %s: %v\n", s, err)
			}
		}
	}
}

// Used returns the bytes written through this store handle.
func (s *Store) Used() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// WriteBatch stores all patches in a single transaction.  If the batch would
// take the store past its capacity, nothing is written and the store refuses
// every later write.  A batch larger than badger allows in one transaction
// latches the store the same way, with an error wrapping both
// wsi.ErrCapacityExceeded and badger.ErrTxnTooBig; rerun with a smaller
// rows_per_txn.
func (s *Store) WriteBatch(slideID string, patches []storage.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full != nil {
		return s.full
	}
	if len(patches) == 0 {
		return nil
	}

	keys := make([][]byte, len(patches))
	values := make([][]byte, len(patches))
	var batchBytes uint64
	for i := range patches {
		value, err := storage.EncodePatch(&patches[i], s.settings.Compression)
		if err != nil {
			return fmt.Errorf("slide %q: %w", slideID, err)
		}
		keys[i] = []byte(storage.Key(slideID, patches[i].X, patches[i].Y))
		values[i] = value
		batchBytes += uint64(len(keys[i]) + len(value))
	}
	if s.used+batchBytes > s.settings.capacity {
		s.full = fmt.Errorf("%s: batch of %s would exceed capacity (%s used of %s): %w", s,
			humanize.Bytes(batchBytes), humanize.Bytes(s.used), humanize.Bytes(s.settings.capacity),
			wsi.ErrCapacityExceeded)
		return s.full
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for i := range keys {
			if err := txn.Set(keys[i], values[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		s.full = fmt.Errorf("%s: batch of %d patches (%s) too big for one transaction: %w: %w", s,
			len(patches), humanize.Bytes(batchBytes), wsi.ErrCapacityExceeded, err)
		return s.full
	}
	if err != nil {
		return fmt.Errorf("unable to write batch of slide %q: %v", slideID, err)
	}
	s.used += batchBytes
	if s.cache != nil {
		for _, key := range keys {
			s.cache.Del(key)
		}
	}
	return nil
}

// SlideDone records the slide extent in the "{name}_meta" index.
func (s *Store) SlideDone(slideID string, ext storage.Extent) error {
	return s.meta.Put(slideID, ext)
}

// DiscardSlide does nothing: batches are stored as they are written.
func (s *Store) DiscardSlide(slideID string) {}

func (s *Store) GridIndex() storage.GridIndex {
	return s.meta
}

func (s *Store) getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	if s.cache != nil {
		value, err := s.cache.Get(key)
		if err == nil {
			return value, nil
		}
		if err != freecache.ErrNotFound {
			return nil, err
		}
	}
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		// values larger than 1/1024 of the cache are refused, which is fine.
		s.cache.Set(key, value, 0)
	}
	return value, nil
}

// ReadByKey returns the patch at (x, y) of the slide.
func (s *Store) ReadByKey(slideID string, x, y uint32) (*storage.Patch, error) {
	key := []byte(storage.Key(slideID, x, y))
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		value, err = s.getValue(txn, key)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("no patch %q in %s: %w", key, s, wsi.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return storage.DecodePatch(value)
}

// EnumerateAll reads every patch inside the slide's indexed extent, limited by
// the configured enumerate bound.  Grid cells with no stored patch, such as
// dropped edge windows, are skipped.
func (s *Store) EnumerateAll(slideID string) ([]*storage.Patch, error) {
	ext, err := s.meta.Get(slideID)
	if err != nil {
		return nil, err
	}
	xEnd, yEnd := s.settings.Bound.Limits(ext)
	var patches []*storage.Patch
	err = s.db.View(func(txn *badger.Txn) error {
		for y := uint32(0); y < yEnd; y++ {
			for x := uint32(0); x < xEnd; x++ {
				value, err := s.getValue(txn, []byte(storage.Key(slideID, x, y)))
				if err == badger.ErrKeyNotFound {
					continue
				}
				if err != nil {
					return err
				}
				p, err := storage.DecodePatch(value)
				if err != nil {
					return fmt.Errorf("patch (%d,%d) of slide %q: %w", x, y, slideID, err)
				}
				patches = append(patches, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	wsi.Debugf("Enumerated %d patches of slide %q within %d x %d (%s bound)\n",
		len(patches), slideID, xEnd, yEnd, s.settings.Bound)
	return patches, nil
}

// Close closes both databases.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	close(s.stopSyncCh)
	<-s.syncDone
	err := s.db.Close()
	if merr := s.meta.Close(); err == nil {
		err = merr
	}
	s.db = nil
	if used := s.Used(); used > 0 {
		wsi.Infof("Closed %s after writing %s of %s capacity\n", s, humanize.Bytes(used), humanize.Bytes(s.settings.capacity))
	} else {
		wsi.Infof("Closed %s\n", s)
	}
	return err
}
