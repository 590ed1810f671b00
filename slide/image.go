package slide

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/janelia-flyem/wsipatch/wsi"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// DefaultLevelCacheSize is the number of scaled pyramid levels kept per slide.
const DefaultLevelCacheSize = 4

// backgroundThreshold is the per-channel 8-bit intensity at or above which a
// pixel counts as glass background when computing tissue bounds.
const backgroundThreshold = 240

// ImageSlide is a slide backed by a single full-resolution raster.  Lower
// resolution levels are computed on demand and cached.
type ImageSlide struct {
	name string
	src  *image.RGBA

	boundsOnce sync.Once
	tissue     image.Rectangle

	mu     sync.Mutex
	levels *lru.Cache
}

// OpenImage decodes a PNG, JPEG, TIFF or BMP file as a slide.  It satisfies Opener.
func OpenImage(path string) (Slide, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open slide %q: %v", path, err)
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("unable to decode slide %q: %v", path, err)
	}
	wsi.Debugf("Decoded %s slide %q: %s\n", format, path, img.Bounds())
	return NewImageSlide(Stem(path), img), nil
}

// NewImageSlide returns a slide over an in-memory image.
func NewImageSlide(name string, img image.Image) *ImageSlide {
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		b := img.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	}
	return &ImageSlide{
		name:   name,
		src:    rgba,
		levels: lru.New(DefaultLevelCacheSize),
	}
}

func (s *ImageSlide) String() string {
	return fmt.Sprintf("image slide %q (%d x %d)", s.name, s.src.Rect.Dx(), s.src.Rect.Dy())
}

func (s *ImageSlide) Name() string {
	return s.name
}

func (s *ImageSlide) Close() error {
	s.mu.Lock()
	s.levels.Clear()
	s.mu.Unlock()
	return nil
}

// TissueBounds returns the bounding box of non-background pixels, or the whole
// image if every pixel is background.
func (s *ImageSlide) TissueBounds() image.Rectangle {
	s.boundsOnce.Do(func() {
		s.tissue = contentBounds(s.src)
	})
	return s.tissue
}

func contentBounds(img *image.RGBA) image.Rectangle {
	r := img.Rect
	minX, minY, maxX, maxY := r.Max.X, r.Max.Y, r.Min.X-1, r.Min.Y-1
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.Pix[(y-r.Min.Y)*img.Stride:]
		for x := r.Min.X; x < r.Max.X; x++ {
			p := row[(x-r.Min.X)*4:]
			if p[3] == 0 {
				continue
			}
			if p[0] >= backgroundThreshold && p[1] >= backgroundThreshold && p[2] >= backgroundThreshold {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < minX {
		return r
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// Tiles returns a DeepZoom tiler for the given geometry.
func (s *ImageSlide) Tiles(g Geometry) (Tiler, error) {
	if g.TileSize <= 0 {
		return nil, fmt.Errorf("tile size %d: %w", g.TileSize, wsi.ErrInvalidParameter)
	}
	if g.Overlap < 0 {
		return nil, fmt.Errorf("overlap %d: %w", g.Overlap, wsi.ErrInvalidParameter)
	}
	region := s.src.Rect
	if g.LimitBounds {
		region = s.TissueBounds()
	}
	return newDeepZoom(s, region, g), nil
}

// level returns the region scaled to the given dimensions.
func (s *ImageSlide) level(region image.Rectangle, w, h int) *image.RGBA {
	key := fmt.Sprintf("%s-%dx%d", region, w, h)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.levels.Get(key); ok {
		return v.(*image.RGBA)
	}
	var img *image.RGBA
	if w == region.Dx() && h == region.Dy() {
		img = s.src.SubImage(region).(*image.RGBA)
	} else {
		img = image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(img, img.Rect, s.src, region, draw.Src, nil)
	}
	s.levels.Add(key, img)
	return img
}

// rgbWindow copies a rectangle of an RGBA image into a 3-channel window.  The
// rectangle is relative to the image's top-left corner.
func rgbWindow(img *image.RGBA, r image.Rectangle) *Window {
	r = r.Add(img.Rect.Min).Intersect(img.Rect)
	w := &Window{Width: r.Dx(), Height: r.Dy(), Channels: 3}
	w.Pix = make([]byte, w.Width*w.Height*3)
	i := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			off := img.PixOffset(x, y)
			c := color.NRGBAModel.Convert(color.RGBA{img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3]}).(color.NRGBA)
			w.Pix[i], w.Pix[i+1], w.Pix[i+2] = c.R, c.G, c.B
			i += 3
		}
	}
	return w
}
