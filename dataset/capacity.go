package dataset

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/janelia-flyem/wsipatch/slide"
	"github.com/janelia-flyem/wsipatch/tiling"
	"github.com/janelia-flyem/wsipatch/wsi"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// recordOverhead is the per-patch allowance for keys and record framing.
const recordOverhead = 64

// EstimateCapacity opens every slide to count its tiles at the configured
// level and returns the store size needed to hold a patch for each tile,
// scaled by the capacity factor.  Slides are read concurrently; a slide that
// can't be opened or planned is counted as empty.
func (m *Manager) EstimateCapacity(ctx context.Context) (uint64, error) {
	timedLog := wsi.NewTimeLog()
	d := m.cfg.Dataset
	var tiles, bytes uint64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, path := range m.slides {
		path := path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := m.opener(path)
			if err != nil {
				wsi.Warningf("Can't open %q to size store: %v\n", path, err)
				return nil
			}
			defer s.Close()
			grid, err := tiling.Plan(s, d.Level, d.PatchSize, d.PixelOverlap, d.LimitBounds)
			if errors.Is(err, wsi.ErrLevelOutOfRange) {
				wsi.Warningf("Slide %q: %v\n", slide.Stem(path), err)
				return nil
			}
			if err != nil {
				return err
			}
			n := uint64(grid.NumTiles())
			atomic.AddUint64(&tiles, n)
			atomic.AddUint64(&bytes, n*uint64(grid.PatchBytes()+recordOverhead))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	capacity := uint64(float64(bytes) * m.cfg.Store.CapacityFactor)
	if capacity == 0 {
		// an empty dataset still opens its store
		capacity = 1
	}
	timedLog.Infof("Pre-calculated store capacity %s for %s tiles (%s of patches x %.2f)",
		humanize.Bytes(capacity), humanize.Comma(int64(tiles)), humanize.Bytes(bytes), m.cfg.Store.CapacityFactor)
	return capacity, nil
}
