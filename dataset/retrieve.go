package dataset

import (
	"errors"
	"fmt"

	"github.com/janelia-flyem/wsipatch/slide"
	"github.com/janelia-flyem/wsipatch/storage"
	"github.com/janelia-flyem/wsipatch/tiling"
	"github.com/janelia-flyem/wsipatch/wsi"
)

// Examples is a flat collection of stored patches ready for training.
type Examples struct {
	Patches []*storage.Patch

	// Slides holds the slide of each patch.
	Slides []string

	// OneHot holds each patch's label as a one-hot vector, or nil for a patch
	// without a label.  The whole field is nil for unlabeled datasets.
	OneHot [][]float32
}

// Len is the number of examples.
func (ex *Examples) Len() int {
	return len(ex.Patches)
}

func (ex *Examples) append(slideID string, patches []*storage.Patch, classes int) {
	for _, p := range patches {
		ex.Patches = append(ex.Patches, p)
		ex.Slides = append(ex.Slides, slideID)
		if classes > 0 {
			ex.OneHot = append(ex.OneHot, OneHot(p.Label, classes))
		}
	}
}

// NumClasses is the length of one-hot label vectors: one more than the largest
// label value, or 0 when the dataset is unlabeled.
func (m *Manager) NumClasses() int {
	if !m.cfg.Labeled() {
		return 0
	}
	n := 0
	for _, v := range m.cfg.Dataset.LabelMap {
		if int(v)+1 > n {
			n = int(v) + 1
		}
	}
	return n
}

// OneHot returns a vector of n zeros with a one at the label, or nil when the
// label is outside [0, n).
func OneHot(label int32, n int) []float32 {
	if label < 0 || int(label) >= n {
		return nil
	}
	v := make([]float32, n)
	v[label] = 1
	return v
}

// PatchesFromSlide returns every stored patch of one slide.
func (m *Manager) PatchesFromSlide(b storage.Backend, slideID string) (*Examples, error) {
	patches, err := b.EnumerateAll(slideID)
	if err != nil {
		return nil, err
	}
	ex := new(Examples)
	ex.append(slideID, patches, m.NumClasses())
	return ex, nil
}

// SetPatches returns the patches of one cross-validation set.  Without a
// selection, set i holds slides i, i+totalSets, i+2*totalSets, ... in sampling
// order.  A selection, if given, must have one entry per slide and overrides
// the set arithmetic.  Selected slides that were never indexed are skipped.
func (m *Manager) SetPatches(b storage.Backend, setID, totalSets int, selection []bool) (*Examples, error) {
	if selection == nil {
		if totalSets <= 0 || setID < 0 || setID >= totalSets {
			return nil, fmt.Errorf("set %d of %d: %w", setID, totalSets, wsi.ErrInvalidParameter)
		}
		selection = make([]bool, len(m.slides))
		for i := setID; i < len(m.slides); i += totalSets {
			selection[i] = true
		}
	} else if len(selection) != len(m.slides) {
		return nil, fmt.Errorf("selection of %d does not match %d slides: %w",
			len(selection), len(m.slides), wsi.ErrInvalidParameter)
	}

	ex := new(Examples)
	classes := m.NumClasses()
	for i, path := range m.slides {
		if !selection[i] {
			continue
		}
		slideID := slide.Stem(path)
		patches, err := b.EnumerateAll(slideID)
		if err != nil {
			if errors.Is(err, wsi.ErrNotFound) {
				wsi.Warningf("Slide %q selected for set %d was never stored, skipping.\n", slideID, setID)
				continue
			}
			return nil, err
		}
		ex.append(slideID, patches, classes)
	}
	return ex, nil
}

// SlideDimensions lists the pyramid levels of a dataset slide for the
// configured patch size and overlap.
func (m *Manager) SlideDimensions(slideID string) ([]tiling.LevelInfo, error) {
	s, err := m.openByID(slideID)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	d := m.cfg.Dataset
	return tiling.Dimensions(s, d.PatchSize, d.PixelOverlap, d.LimitBounds)
}

// SamplePatch returns the center window of a dataset slide at a level.
func (m *Manager) SamplePatch(slideID string, level int) (*slide.Window, error) {
	s, err := m.openByID(slideID)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	d := m.cfg.Dataset
	return tiling.SamplePatch(s, level, d.PatchSize, d.PixelOverlap)
}

func (m *Manager) openByID(slideID string) (slide.Slide, error) {
	path, err := m.slidePath(slideID)
	if err != nil {
		return nil, err
	}
	return m.opener(path)
}
