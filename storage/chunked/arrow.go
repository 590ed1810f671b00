package chunked

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/janelia-flyem/wsipatch/storage"
	"github.com/janelia-flyem/wsipatch/wsi"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
)

const (
	colX = iota
	colY
	colLabel
	colPixels
)

// patchSchema describes records of patches with the given shape.  The tensor
// shape (n, size, size, channels) is kept in the schema metadata.
func patchSchema(n int, size uint32, channels uint8) *arrow.Schema {
	md := arrow.NewMetadata(
		[]string{"patch_size", "channels", "shape"},
		[]string{
			strconv.FormatUint(uint64(size), 10),
			strconv.Itoa(int(channels)),
			fmt.Sprintf("%d,%d,%d,%d", n, size, size, channels),
		},
	)
	width := int(size) * int(size) * int(channels)
	return arrow.NewSchema([]arrow.Field{
		{Name: "x", Type: arrow.PrimitiveTypes.Uint32},
		{Name: "y", Type: arrow.PrimitiveTypes.Uint32},
		{Name: "label", Type: arrow.PrimitiveTypes.Int32},
		{Name: "pixels", Type: &arrow.FixedSizeBinaryType{ByteWidth: width}},
	}, &md)
}

// writeArrow writes all patches to a temporary file in records of at most
// chunkRows patches, then renames it into place.
func (s *Store) writeArrow(slideID string, patches []storage.Patch) error {
	schema := patchSchema(len(patches), patches[0].Size, patches[0].Channels)
	pixelType := schema.Field(colPixels).Type.(*arrow.FixedSizeBinaryType)

	filename := s.arrowPath(slideID)
	f, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".*")
	if err != nil {
		return fmt.Errorf("failed to create Arrow file for slide %q: %v", slideID, err)
	}
	defer os.Remove(f.Name())

	opts := append([]ipc.Option{ipc.WithSchema(schema), ipc.WithAllocator(s.pool)}, s.ipcOpts...)
	w, err := ipc.NewFileWriter(f, opts...)
	if err != nil {
		f.Close()
		return err
	}
	for first := 0; first < len(patches); first += s.chunkRows {
		last := first + s.chunkRows
		if last > len(patches) {
			last = len(patches)
		}
		if err := s.writeRecord(w, schema, pixelType, patches[first:last]); err != nil {
			w.Close()
			f.Close()
			return fmt.Errorf("error writing patches %d-%d of slide %q: %v", first, last-1, slideID, err)
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), filename)
}

func (s *Store) writeRecord(w *ipc.FileWriter, schema *arrow.Schema, pixelType *arrow.FixedSizeBinaryType, patches []storage.Patch) error {
	xBuilder := array.NewUint32Builder(s.pool)
	yBuilder := array.NewUint32Builder(s.pool)
	labelBuilder := array.NewInt32Builder(s.pool)
	pixelBuilder := array.NewFixedSizeBinaryBuilder(s.pool, pixelType)
	defer func() {
		xBuilder.Release()
		yBuilder.Release()
		labelBuilder.Release()
		pixelBuilder.Release()
	}()

	for i := range patches {
		xBuilder.Append(patches[i].X)
		yBuilder.Append(patches[i].Y)
		labelBuilder.Append(patches[i].Label)
		pixelBuilder.Append(patches[i].Data)
	}

	cols := []arrow.Array{
		xBuilder.NewArray(),
		yBuilder.NewArray(),
		labelBuilder.NewArray(),
		pixelBuilder.NewArray(),
	}
	defer func() {
		for _, col := range cols {
			col.Release()
		}
	}()

	record := array.NewRecord(schema, cols, int64(len(patches)))
	defer record.Release()
	return w.Write(record)
}

// readArrow passes each record of a slide's file, as patches, to fn along with
// the row number of its first patch.  Reading stops when fn returns false.
// A missing file returns the unwrapped os error.
func (s *Store) readArrow(slideID string, fn func(first int, batch []*storage.Patch) bool) error {
	f, err := os.Open(s.arrowPath(slideID))
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(s.pool))
	if err != nil {
		return fmt.Errorf("bad Arrow file for slide %q: %v", slideID, err)
	}
	defer r.Close()

	size, channels, err := patchShape(r.Schema())
	if err != nil {
		return fmt.Errorf("slide %q: %v", slideID, err)
	}
	first := 0
	for i := 0; i < r.NumRecords(); i++ {
		record, err := r.Record(i)
		if err != nil {
			return fmt.Errorf("can't read record %d of slide %q: %v", i, slideID, err)
		}
		batch, err := recordPatches(record, size, channels)
		if err != nil {
			return fmt.Errorf("record %d of slide %q: %v", i, slideID, err)
		}
		if !fn(first, batch) {
			return nil
		}
		first += len(batch)
	}
	return nil
}

func patchShape(schema *arrow.Schema) (size uint32, channels uint8, err error) {
	md := schema.Metadata()
	i := md.FindKey("patch_size")
	j := md.FindKey("channels")
	if i < 0 || j < 0 {
		err = fmt.Errorf("schema has no patch shape metadata")
		return
	}
	v, err := strconv.ParseUint(md.Values()[i], 10, 32)
	if err != nil {
		return
	}
	size = uint32(v)
	if v, err = strconv.ParseUint(md.Values()[j], 10, 8); err != nil {
		return
	}
	channels = uint8(v)
	return
}

// recordPatches copies a record's rows out of Arrow memory.
func recordPatches(record arrow.Record, size uint32, channels uint8) ([]*storage.Patch, error) {
	if record.NumCols() != 4 {
		return nil, fmt.Errorf("expected 4 columns, got %d", record.NumCols())
	}
	xs, ok1 := record.Column(colX).(*array.Uint32)
	ys, ok2 := record.Column(colY).(*array.Uint32)
	labels, ok3 := record.Column(colLabel).(*array.Int32)
	pixels, ok4 := record.Column(colPixels).(*array.FixedSizeBinary)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("unexpected column types in %s", record.Schema())
	}
	n := int(record.NumRows())
	batch := make([]*storage.Patch, n)
	for i := 0; i < n; i++ {
		p := &storage.Patch{
			Channels: channels,
			Size:     size,
			Data:     append([]byte(nil), pixels.Value(i)...),
			Label:    labels.Value(i),
			X:        xs.Value(i),
			Y:        ys.Value(i),
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		batch[i] = p
	}
	wsi.Debugf("Read %d patches of %dx%dx%d from record\n", n, size, size, channels)
	return batch, nil
}
