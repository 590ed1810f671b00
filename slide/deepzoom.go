package slide

import (
	"fmt"
	"image"
	"math"

	"github.com/janelia-flyem/wsipatch/wsi"
)

// deepZoom tiles an ImageSlide the way a DeepZoom generator does: each level
// halves the one above it (rounding up) down to a single pixel, and every tile
// carries Overlap extra pixels on each side that has a neighbor.
type deepZoom struct {
	slide  *ImageSlide
	region image.Rectangle
	g      Geometry
	dims   []image.Point // index is level, 0 is smallest
}

func newDeepZoom(s *ImageSlide, region image.Rectangle, g Geometry) *deepZoom {
	w, h := region.Dx(), region.Dy()
	dims := []image.Point{{w, h}}
	for w > 1 || h > 1 {
		w = maxInt(1, (w+1)/2)
		h = maxInt(1, (h+1)/2)
		dims = append(dims, image.Point{w, h})
	}
	for i, j := 0, len(dims)-1; i < j; i, j = i+1, j-1 {
		dims[i], dims[j] = dims[j], dims[i]
	}
	return &deepZoom{slide: s, region: region, g: g, dims: dims}
}

func (dz *deepZoom) LevelCount() int {
	return len(dz.dims)
}

func (dz *deepZoom) checkLevel(level int) error {
	if level < 0 || level >= len(dz.dims) {
		return fmt.Errorf("level %d requested but slide %q has %d levels: %w",
			level, dz.slide.name, len(dz.dims), wsi.ErrLevelOutOfRange)
	}
	return nil
}

func (dz *deepZoom) LevelDimensions(level int) (width, height int, err error) {
	if err = dz.checkLevel(level); err != nil {
		return
	}
	return dz.dims[level].X, dz.dims[level].Y, nil
}

func (dz *deepZoom) LevelTiles(level int) (xTiles, yTiles int, err error) {
	if err = dz.checkLevel(level); err != nil {
		return
	}
	d := dz.dims[level]
	ts := dz.g.TileSize
	return (d.X + ts - 1) / ts, (d.Y + ts - 1) / ts, nil
}

// tileRect returns the level-space rectangle of tile (x, y).
func (dz *deepZoom) tileRect(level, x, y int) (image.Rectangle, error) {
	xTiles, yTiles, err := dz.LevelTiles(level)
	if err != nil {
		return image.Rectangle{}, err
	}
	if x < 0 || y < 0 || x >= xTiles || y >= yTiles {
		return image.Rectangle{}, fmt.Errorf("tile (%d, %d) outside %d x %d grid at level %d",
			x, y, xTiles, yTiles, level)
	}
	d := dz.dims[level]
	ts, ov := dz.g.TileSize, dz.g.Overlap
	var tl, br image.Point
	if x > 0 {
		tl.X = ov
	}
	if y > 0 {
		tl.Y = ov
	}
	if x != xTiles-1 {
		br.X = ov
	}
	if y != yTiles-1 {
		br.Y = ov
	}
	loc := image.Point{ts*x - tl.X, ts*y - tl.Y}
	size := image.Point{
		minInt(ts, d.X-ts*x) + tl.X + br.X,
		minInt(ts, d.Y-ts*y) + tl.Y + br.Y,
	}
	return image.Rectangle{loc, loc.Add(size)}, nil
}

func (dz *deepZoom) Window(level, x, y int) (*Window, error) {
	r, err := dz.tileRect(level, x, y)
	if err != nil {
		return nil, err
	}
	d := dz.dims[level]
	img := dz.slide.level(dz.region, d.X, d.Y)
	return rgbWindow(img, r), nil
}

func (dz *deepZoom) downsample(level int) float64 {
	return math.Pow(2, float64(len(dz.dims)-1-level))
}

func (dz *deepZoom) Region(level, x, y int) (origin, size wsi.Point2d, err error) {
	var r image.Rectangle
	if r, err = dz.tileRect(level, x, y); err != nil {
		return
	}
	ds := dz.downsample(level)
	origin = wsi.Point2d{
		X: float64(dz.region.Min.X) + float64(r.Min.X)*ds,
		Y: float64(dz.region.Min.Y) + float64(r.Min.Y)*ds,
	}
	size = wsi.Point2d{X: float64(r.Dx()) * ds, Y: float64(r.Dy()) * ds}
	return
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
