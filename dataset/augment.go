package dataset

import (
	"fmt"
	"image"

	"github.com/janelia-flyem/wsipatch/storage"
	"github.com/janelia-flyem/wsipatch/wsi"

	"github.com/disintegration/imaging"
)

// Augmentation is one of the eight symmetries of a square patch.
type Augmentation uint8

const (
	Identity Augmentation = iota
	FlipLR
	FlipUD
	Rotate90
	Rotate180
	Rotate270
	FlipLRRotate90
	FlipLRRotate180
	FlipLRRotate270
)

// NumAugmentations counts the non-identity augmentations.
const NumAugmentations = 8

func (a Augmentation) String() string {
	switch a {
	case Identity:
		return "identity"
	case FlipLR:
		return "horizontal mirror"
	case FlipUD:
		return "vertical mirror"
	case Rotate90:
		return "rotate 90"
	case Rotate180:
		return "rotate 180"
	case Rotate270:
		return "rotate 270"
	case FlipLRRotate90:
		return "mirror, rotate 90"
	case FlipLRRotate180:
		return "mirror, rotate 180"
	case FlipLRRotate270:
		return "mirror, rotate 270"
	default:
		return fmt.Sprintf("unknown augmentation %d", a)
	}
}

// Augment returns a transformed copy of a 1 or 3 channel patch.  Rotations
// are counter-clockwise and applied after any mirroring.  Coordinates and
// label are kept.
func Augment(p *storage.Patch, a Augmentation) (*storage.Patch, error) {
	if a > FlipLRRotate270 {
		return nil, fmt.Errorf("%s: %w", a, wsi.ErrInvalidParameter)
	}
	img, err := p.Image()
	if err != nil {
		return nil, err
	}
	var dst *image.NRGBA
	switch a {
	case Identity:
		dst = imaging.Clone(img)
	case FlipLR:
		dst = imaging.FlipH(img)
	case FlipUD, FlipLRRotate180:
		dst = imaging.FlipV(img)
	case Rotate90:
		dst = imaging.Rotate90(img)
	case Rotate180:
		dst = imaging.Rotate180(img)
	case Rotate270:
		dst = imaging.Rotate270(img)
	case FlipLRRotate90:
		dst = imaging.Transpose(img)
	case FlipLRRotate270:
		dst = imaging.Transverse(img)
	}
	out, err := storage.PatchFromImage(dst, p.Channels)
	if err != nil {
		return nil, err
	}
	out.X, out.Y, out.Label = p.X, p.Y, p.Label
	return out, nil
}

// AugmentAll returns nine times as many examples, ordered by augmentation:
// first every original example, then every example under FlipLR, and so on
// through FlipLRRotate270.  Within each group the input order is kept.
func AugmentAll(ex *Examples) (*Examples, error) {
	aug := &Examples{
		Patches: make([]*storage.Patch, 0, ex.Len()*(NumAugmentations+1)),
		Slides:  make([]string, 0, ex.Len()*(NumAugmentations+1)),
	}
	for a := Identity; a <= FlipLRRotate270; a++ {
		for i, p := range ex.Patches {
			q := p
			if a != Identity {
				var err error
				if q, err = Augment(p, a); err != nil {
					return nil, err
				}
			}
			aug.Patches = append(aug.Patches, q)
			aug.Slides = append(aug.Slides, ex.Slides[i])
			if ex.OneHot != nil {
				aug.OneHot = append(aug.OneHot, ex.OneHot[i])
			}
		}
	}
	return aug, nil
}
