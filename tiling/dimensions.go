package tiling

import (
	"fmt"

	"github.com/janelia-flyem/wsipatch/slide"
)

// LevelInfo describes one level of a slide's pyramid for a given tile geometry.
type LevelInfo struct {
	Level  int
	XTiles int
	YTiles int
	Width  int
	Height int
}

// Dimensions lists every pyramid level of a slide so a level can be chosen
// before sampling a whole dataset.
func Dimensions(s slide.Slide, patchSize, overlap int, limitBounds bool) ([]LevelInfo, error) {
	ts, err := TileSize(patchSize, overlap)
	if err != nil {
		return nil, err
	}
	tiler, err := s.Tiles(slide.Geometry{TileSize: ts, Overlap: overlap, LimitBounds: limitBounds})
	if err != nil {
		return nil, err
	}
	levels := make([]LevelInfo, tiler.LevelCount())
	for level := range levels {
		info := LevelInfo{Level: level}
		if info.XTiles, info.YTiles, err = tiler.LevelTiles(level); err != nil {
			return nil, err
		}
		if info.Width, info.Height, err = tiler.LevelDimensions(level); err != nil {
			return nil, err
		}
		levels[level] = info
	}
	return levels, nil
}

// SamplePatch returns the window at the center of the grid, where tissue is most
// likely, so a level and patch size can be checked by eye.
func SamplePatch(s slide.Slide, level, patchSize, overlap int) (*slide.Window, error) {
	g, err := Plan(s, level, patchSize, overlap, false)
	if err != nil {
		return nil, err
	}
	if g.NumTiles() == 0 {
		return nil, fmt.Errorf("no tiles at level %d of slide %q", level, s.Name())
	}
	return g.tiler.Window(level, g.XTiles/2, g.YTiles/2)
}
