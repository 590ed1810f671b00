/*
	Package tiling plans the grid of patches sampled from one pyramid level and
	walks it row by row.

	A patch of PatchSize pixels is a tile of TileSize = PatchSize - 2*Overlap
	pixels grown by Overlap on each side.  Only windows whose extracted shape is
	exactly PatchSize x PatchSize x Channels are accepted; smaller edge windows
	are dropped silently and never counted.
*/
package tiling

import (
	"context"
	"fmt"

	"github.com/janelia-flyem/wsipatch/slide"
	"github.com/janelia-flyem/wsipatch/wsi"
)

// DefaultChannels is the number of channels in an RGB patch.
const DefaultChannels = 3

// TileSize returns the tile stride for a patch size and overlap.
func TileSize(patchSize, overlap int) (int, error) {
	if overlap < 0 {
		return 0, fmt.Errorf("negative overlap %d: %w", overlap, wsi.ErrInvalidParameter)
	}
	ts := patchSize - 2*overlap
	if ts <= 0 {
		return 0, fmt.Errorf("patch size %d with overlap %d leaves tile size %d: %w",
			patchSize, overlap, ts, wsi.ErrInvalidParameter)
	}
	return ts, nil
}

// Grid is the tile grid of one slide at one level.
type Grid struct {
	Level     int
	PatchSize int
	Overlap   int
	TileSize  int
	XTiles    int
	YTiles    int
	Channels  int

	tiler slide.Tiler
}

func (g *Grid) String() string {
	return fmt.Sprintf("level %d grid of %d x %d tiles (patch %d, tile %d, overlap %d)",
		g.Level, g.XTiles, g.YTiles, g.PatchSize, g.TileSize, g.Overlap)
}

// NumTiles is the number of grid cells, accepted or not.
func (g *Grid) NumTiles() int {
	return g.XTiles * g.YTiles
}

// PatchBytes is the size of one accepted patch's pixel data.
func (g *Grid) PatchBytes() int {
	return g.PatchSize * g.PatchSize * g.Channels
}

// Plan computes the tile grid of a slide at a level.
func Plan(s slide.Slide, level, patchSize, overlap int, limitBounds bool) (*Grid, error) {
	ts, err := TileSize(patchSize, overlap)
	if err != nil {
		return nil, err
	}
	tiler, err := s.Tiles(slide.Geometry{TileSize: ts, Overlap: overlap, LimitBounds: limitBounds})
	if err != nil {
		return nil, err
	}
	if level < 0 || level >= tiler.LevelCount() {
		return nil, fmt.Errorf("level %d requested for slide %q with %d levels: %w",
			level, s.Name(), tiler.LevelCount(), wsi.ErrLevelOutOfRange)
	}
	xTiles, yTiles, err := tiler.LevelTiles(level)
	if err != nil {
		return nil, err
	}
	return &Grid{
		Level:     level,
		PatchSize: patchSize,
		Overlap:   overlap,
		TileSize:  ts,
		XTiles:    xTiles,
		YTiles:    yTiles,
		Channels:  DefaultChannels,
		tiler:     tiler,
	}, nil
}

// Cell is an accepted window of the grid.
type Cell struct {
	X, Y   int
	Window *slide.Window
}

// Center returns the level-0 pixel center of tile (x, y).
func (g *Grid) Center(x, y int) (wsi.Point2d, error) {
	origin, size, err := g.tiler.Region(g.Level, x, y)
	if err != nil {
		return wsi.Point2d{}, err
	}
	return origin.Add(size.Scale(0.5)), nil
}

// Walker receives accepted cells and row boundaries from Walk.
type Walker interface {
	// Accept is called for each window with the full patch shape.
	Accept(c Cell) error

	// RowDone is called after row y, whether or not any cell was accepted.
	// last is true for the final row.
	RowDone(y int, last bool) error
}

// Walk visits the grid row-major, y outer and x inner, and returns the number
// of accepted windows.  Cancellation is checked before each row.
func (g *Grid) Walk(ctx context.Context, w Walker) (accepted int, err error) {
	for y := 0; y < g.YTiles; y++ {
		if err = ctx.Err(); err != nil {
			return
		}
		for x := 0; x < g.XTiles; x++ {
			var win *slide.Window
			if win, err = g.tiler.Window(g.Level, x, y); err != nil {
				return
			}
			if !win.HasShape(g.PatchSize, g.Channels) {
				continue
			}
			if err = w.Accept(Cell{X: x, Y: y, Window: win}); err != nil {
				return
			}
			accepted++
		}
		if err = w.RowDone(y, y == g.YTiles-1); err != nil {
			return
		}
	}
	return
}
