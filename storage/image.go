package storage

import (
	"fmt"
	"image"
	"image/color"

	"github.com/janelia-flyem/wsipatch/wsi"
)

// Image wraps a patch's pixels as an image: gray for one channel, sharing the
// patch data, or opaque NRGBA for three.
func (p *Patch) Image() (image.Image, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	size := int(p.Size)
	r := image.Rect(0, 0, size, size)
	switch p.Channels {
	case 1:
		return &image.Gray{Pix: p.Data, Stride: size, Rect: r}, nil
	case 3:
		img := image.NewNRGBA(r)
		for i, j := 0, 0; i < len(p.Data); i, j = i+3, j+4 {
			img.Pix[j] = p.Data[i]
			img.Pix[j+1] = p.Data[i+1]
			img.Pix[j+2] = p.Data[i+2]
			img.Pix[j+3] = 0xff
		}
		return img, nil
	default:
		return nil, fmt.Errorf("%s: only 1 or 3 channel patches convert to images: %w", p, wsi.ErrInvalidParameter)
	}
}

// PatchFromImage returns the interleaved pixels of a square image with 1 or 3
// channels.  Alpha is dropped.  Coordinates and label are left zero.
func PatchFromImage(img image.Image, channels uint8) (*Patch, error) {
	b := img.Bounds()
	if b.Dx() != b.Dy() || b.Dx() == 0 {
		return nil, fmt.Errorf("patch image is %dx%d, not square: %w", b.Dx(), b.Dy(), wsi.ErrInvalidParameter)
	}
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("can't make a %d channel patch from an image: %w", channels, wsi.ErrInvalidParameter)
	}
	size := b.Dx()
	ch := int(channels)
	data := make([]byte, size*size*ch)
	switch src := img.(type) {
	case *image.Gray:
		if ch == 1 {
			for y := 0; y < size; y++ {
				i := src.PixOffset(b.Min.X, b.Min.Y+y)
				copy(data[y*size:(y+1)*size], src.Pix[i:i+size])
			}
			return &Patch{Channels: 1, Size: uint32(size), Data: data}, nil
		}
	case *image.NRGBA:
		for y := 0; y < size; y++ {
			i := src.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < size; x, i = x+1, i+4 {
				copy(data[(y*size+x)*ch:(y*size+x+1)*ch], src.Pix[i:i+ch])
			}
		}
		return &Patch{Channels: channels, Size: uint32(size), Data: data}, nil
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			i := (y*size + x) * ch
			if ch == 1 {
				data[i] = color.GrayModel.Convert(c).(color.Gray).Y
				continue
			}
			r, g, bl, _ := c.RGBA()
			data[i], data[i+1], data[i+2] = byte(r>>8), byte(g>>8), byte(bl>>8)
		}
	}
	return &Patch{Channels: channels, Size: uint32(size), Data: data}, nil
}
