package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/janelia-flyem/wsipatch/storage"
	"github.com/janelia-flyem/wsipatch/wsi"

	"github.com/dgraph-io/badger/v3"
)

// metaIndex is the grid index of a kv store, kept in its own badger database.
// Values are x_tiles and y_tiles as little-endian uint32.
type metaIndex struct {
	directory string
	db        *badger.DB
}

func openMetaIndex(path string, config wsi.Config) (*metaIndex, error) {
	db, err := openDB(path, config)
	if err != nil {
		return nil, err
	}
	return &metaIndex{directory: path, db: db}, nil
}

func (m *metaIndex) String() string {
	return fmt.Sprintf("grid index @ %s", m.directory)
}

func encodeExtent(ext storage.Extent) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], ext.XTiles)
	binary.LittleEndian.PutUint32(b[4:8], ext.YTiles)
	return b
}

func decodeExtent(b []byte) (storage.Extent, error) {
	if len(b) != 8 {
		return storage.Extent{}, fmt.Errorf("grid index value has %d bytes, expected 8", len(b))
	}
	return storage.Extent{
		XTiles: binary.LittleEndian.Uint32(b[0:4]),
		YTiles: binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

func (m *metaIndex) Put(slideID string, ext storage.Extent) error {
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(slideID), encodeExtent(ext))
	})
}

func (m *metaIndex) Get(slideID string) (ext storage.Extent, err error) {
	err = m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(slideID))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("slide %q not in %s: %w", slideID, m, wsi.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ext, err = decodeExtent(val)
			return err
		})
	})
	return
}

func (m *metaIndex) Slides() ([]string, error) {
	var slides []string
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // key only
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			slides = append(slides, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return slides, err
}

func (m *metaIndex) Close() error {
	return m.db.Close()
}
