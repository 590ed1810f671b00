package dataset

import (
	"github.com/janelia-flyem/wsipatch/annotation"
	"github.com/janelia-flyem/wsipatch/storage"
	"github.com/janelia-flyem/wsipatch/tiling"
	"github.com/janelia-flyem/wsipatch/wsi"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"
)

// slideWriter receives accepted windows of one slide and writes them in
// batches of rowsPerTxn rows.
type slideWriter struct {
	m          *Manager
	report     *SlideReport
	log        wsi.TimeLog
	grid       *tiling.Grid
	labeler    *annotation.Labeler
	backend    storage.Backend
	rowsPerTxn int

	batch []storage.Patch
}

func (w *slideWriter) Accept(c tiling.Cell) error {
	label := storage.NoLabel
	if w.labeler != nil {
		center, err := w.grid.Center(c.X, c.Y)
		if err != nil {
			return err
		}
		label = w.labeler.LabelFor(center)
	}
	w.report.Labels[label]++
	w.batch = append(w.batch, storage.Patch{
		Channels: uint8(c.Window.Channels),
		Size:     uint32(w.grid.PatchSize),
		Data:     c.Window.Pix,
		Label:    label,
		X:        uint32(c.X),
		Y:        uint32(c.Y),
	})
	return nil
}

func (w *slideWriter) RowDone(y int, last bool) error {
	if (y+1)%w.rowsPerTxn != 0 && !last {
		return nil
	}
	return w.flush(y)
}

// flush writes the batch, if any, and starts a new one.
func (w *slideWriter) flush(y int) error {
	if len(w.batch) == 0 {
		return nil
	}
	if wsi.Debugging() {
		w.log.Debugf("writing %d patches through row %d (%s in memory)",
			len(w.batch), y, humanize.Bytes(uint64(size.Of(w.batch))))
	}
	if err := w.backend.WriteBatch(w.report.Slide, w.batch); err != nil {
		return storeError{err}
	}
	w.report.Flushes++
	w.m.setState(w.report, BatchFlushed)
	w.batch = nil
	return nil
}
