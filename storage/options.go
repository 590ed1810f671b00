package storage

import (
	"fmt"
	"strings"

	"github.com/janelia-flyem/wsipatch/wsi"
)

// Bound selects how far an enumeration walks the tile grid.
type Bound uint8

const (
	// FullBound visits y in [0, YTiles) and x in [0, XTiles).
	FullBound Bound = iota

	// TrimLastBound visits y in [0, YTiles-1) and x in [0, XTiles-1), which omits
	// the last row and column as earlier releases did.
	TrimLastBound
)

func (b Bound) String() string {
	switch b {
	case FullBound:
		return "full"
	case TrimLastBound:
		return "trim-last"
	default:
		return fmt.Sprintf("unknown bound %d", b)
	}
}

// ParseBound converts a configuration string into a Bound.  The empty string
// is FullBound.
func ParseBound(s string) (Bound, error) {
	switch strings.ToLower(s) {
	case "", "full":
		return FullBound, nil
	case "trim-last":
		return TrimLastBound, nil
	default:
		return FullBound, fmt.Errorf("unknown enumerate bound %q: %w", s, wsi.ErrConfiguration)
	}
}

// Limits returns the exclusive x and y end of an enumeration over the extent.
func (b Bound) Limits(ext Extent) (xEnd, yEnd uint32) {
	xEnd, yEnd = ext.XTiles, ext.YTiles
	if b == TrimLastBound {
		if xEnd > 0 {
			xEnd--
		}
		if yEnd > 0 {
			yEnd--
		}
	}
	return
}

// Options are the store settings shared by every engine.
type Options struct {
	Path        string
	Name        string
	Compression wsi.Compression
	Bound       Bound

	// Labeled is false when the run has no annotations.
	Labeled bool
}

// ParseOptions reads the common settings from a store configuration.
// "path" and "name" are required.
func ParseOptions(config wsi.StoreConfig) (opts Options, err error) {
	var found bool
	if opts.Path, found, err = config.GetString("path"); err != nil {
		return
	} else if !found || opts.Path == "" {
		err = fmt.Errorf("store %q needs a \"path\" setting: %w", config.Engine, wsi.ErrConfiguration)
		return
	}
	if opts.Name, found, err = config.GetString("name"); err != nil {
		return
	} else if !found || opts.Name == "" {
		err = fmt.Errorf("store %q needs a \"name\" setting: %w", config.Engine, wsi.ErrConfiguration)
		return
	}
	var s string
	if s, _, err = config.GetString("compression"); err != nil {
		return
	}
	if opts.Compression, err = wsi.ParseCompression(s); err != nil {
		return
	}
	if s, _, err = config.GetString("enumerate_bound"); err != nil {
		return
	}
	if opts.Bound, err = ParseBound(s); err != nil {
		return
	}
	var labeled bool
	if labeled, found, err = config.GetBool("labeled"); err != nil {
		return
	}
	opts.Labeled = !found || labeled
	return
}
