package annotation

import (
	"sort"

	"github.com/janelia-flyem/wsipatch/wsi"
)

// NormalLabel is the label map key used for points outside every region.
const NormalLabel = "Normal"

// Unlabeled is returned when no integer class applies to a point.
const Unlabeled int32 = -1

// LabelMap maps raw annotation labels to integer classes.
type LabelMap map[string]int32

// Copy returns an independent copy of the map.
func (m LabelMap) Copy() LabelMap {
	c := make(LabelMap, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Labeler classifies points against an ordered list of regions.  It is used by a
// single sampling pass and isn't safe for concurrent use.
type Labeler struct {
	regions []Region
	labels  LabelMap

	unrecognized map[string]int
}

// NewLabeler returns a labeler over regions in file order.  The label map is copied.
func NewLabeler(regions []Region, labels LabelMap) *Labeler {
	return &Labeler{
		regions:      regions,
		labels:       labels.Copy(),
		unrecognized: make(map[string]int),
	}
}

// NumRegions returns the number of regions tested per point.
func (l *Labeler) NumRegions() int {
	return len(l.regions)
}

// LabelFor returns the class of the first region, in file order, whose polygon
// contains pt.  A containing region whose label isn't in the label map yields
// Unlabeled.  A point in no region gets the "Normal" class if mapped, else Unlabeled.
func (l *Labeler) LabelFor(pt wsi.Point2d) int32 {
	for _, region := range l.regions {
		if !region.Vertices.Contains(pt) {
			continue
		}
		class, found := l.labels[region.Label]
		if !found {
			if l.unrecognized[region.Label] == 0 {
				wsi.Warningf("%v: region label %q at %s not in label map\n",
					wsi.ErrUnrecognizedLabel, region.Label, pt)
			}
			l.unrecognized[region.Label]++
			return Unlabeled
		}
		return class
	}
	if class, found := l.labels[NormalLabel]; found {
		return class
	}
	return Unlabeled
}

// Unrecognized returns the labels that weren't in the label map, sorted, with
// the number of points each one claimed.
func (l *Labeler) Unrecognized() (labels []string, counts []int) {
	for label := range l.unrecognized {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		counts = append(counts, l.unrecognized[label])
	}
	return
}
