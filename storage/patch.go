package storage

//go:generate msgp -io=false -tests=false
//msgp:tuple Patch

import (
	"fmt"

	"github.com/janelia-flyem/wsipatch/wsi"
)

// NoLabel marks a patch sampled without annotations or outside every known label.
const NoLabel int32 = -1

// Patch is a square pixel window of a slide with its grid coordinate and label.
// Data is row-major interleaved, Size*Size*Channels bytes.
type Patch struct {
	Channels uint8  `msg:"channels"`
	Size     uint32 `msg:"size"`
	Data     []byte `msg:"data"`
	Label    int32  `msg:"label"`
	X        uint32 `msg:"x"`
	Y        uint32 `msg:"y"`
}

func (p *Patch) String() string {
	return fmt.Sprintf("patch (%d,%d) %dx%dx%d label %d", p.X, p.Y, p.Size, p.Size, p.Channels, p.Label)
}

// NumBytes is the expected length of Data.
func (p *Patch) NumBytes() int {
	return int(p.Size) * int(p.Size) * int(p.Channels)
}

// Validate checks that the pixel data matches the declared shape.
func (p *Patch) Validate() error {
	if p.Size == 0 || p.Channels == 0 {
		return fmt.Errorf("%s has empty shape: %w", p, wsi.ErrInvalidParameter)
	}
	if len(p.Data) != p.NumBytes() {
		return fmt.Errorf("%s has %d bytes of data, expected %d: %w", p, len(p.Data), p.NumBytes(), wsi.ErrInvalidParameter)
	}
	return nil
}

// Key returns the canonical "{slide}-{x}-{y}" key of a grid coordinate.
func Key(slideID string, x, y uint32) string {
	return fmt.Sprintf("%s-%d-%d", slideID, x, y)
}

// EncodePatch serializes a validated patch into a self-describing value
// with optional compression and a CRC32 checksum.
func EncodePatch(p *Patch, compress wsi.Compression) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b, err := p.MarshalMsg(nil)
	if err != nil {
		return nil, err
	}
	return wsi.SerializeData(b, compress, wsi.CRC32)
}

// DecodePatch reverses EncodePatch and validates the result.
func DecodePatch(value []byte) (*Patch, error) {
	b, _, err := wsi.DeserializeData(value, true)
	if err != nil {
		return nil, err
	}
	p := new(Patch)
	if _, err := p.UnmarshalMsg(b); err != nil {
		return nil, fmt.Errorf("bad patch record: %v", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
