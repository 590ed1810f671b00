/*
	Package slide defines the pyramidal-image reader used by the tile planner and
	provides a DeepZoom-style reference implementation over any decodable raster.

	A Slide is opened once per sampling pass.  Asking it for a Tiler fixes the
	tile size, overlap, and bounds policy, after which the Tiler reports the
	pyramid's level count, the tile grid at each level, and extracts raw pixel
	windows.  Level 0 is the lowest resolution; the last level is full resolution.
*/
package slide

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/janelia-flyem/wsipatch/wsi"
)

// Geometry fixes how a slide is cut into tiles.
type Geometry struct {
	// TileSize is the stride between adjacent tiles, i.e. patch size minus twice the overlap.
	TileSize int

	// Overlap is the number of pixels added on each interior side of a tile.
	Overlap int

	// LimitBounds restricts tiling to the slide's tissue bounds.
	LimitBounds bool
}

func (g Geometry) String() string {
	return fmt.Sprintf("tile %d, overlap %d, limit bounds %t", g.TileSize, g.Overlap, g.LimitBounds)
}

// Window is a raw block of interleaved 8-bit pixels, row-major.
type Window struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// HasShape returns true if the window is exactly size x size x channels.
func (w *Window) HasShape(size, channels int) bool {
	return w != nil && w.Width == size && w.Height == size && w.Channels == channels &&
		len(w.Pix) == size*size*channels
}

// Slide is an opened pyramidal image.
type Slide interface {
	fmt.Stringer

	// Name is the slide identifier, the file name stem.
	Name() string

	// Tiles returns a tiler for the given geometry.
	Tiles(g Geometry) (Tiler, error)

	Close() error
}

// Tiler cuts the levels of a slide's pyramid into a grid of overlapping windows.
type Tiler interface {
	LevelCount() int

	// LevelTiles returns the tile grid size at a level or wsi.ErrLevelOutOfRange.
	LevelTiles(level int) (xTiles, yTiles int, err error)

	// LevelDimensions returns the pixel size of a level.
	LevelDimensions(level int) (width, height int, err error)

	// Window extracts the raw pixels of tile (x, y) at a level.  Edge tiles may be
	// smaller than TileSize + 2*Overlap.
	Window(level, x, y int) (*Window, error)

	// Region returns the level-0 pixel origin and extent covered by tile (x, y).
	Region(level, x, y int) (origin, size wsi.Point2d, err error)
}

// Opener opens the slide stored at a path.
type Opener func(path string) (Slide, error)

// Stem returns a file name without directory or extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
