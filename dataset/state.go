package dataset

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/janelia-flyem/wsipatch/storage"
)

// SlideState is the progress of one slide through a sampling run:
//
//	Idle -> GridPlanned -> Sampling -> BatchFlushed* -> GridIndexed -> Done
//
// A slide that can't be sampled ends in Failed.
type SlideState uint8

const (
	Idle SlideState = iota
	GridPlanned
	Sampling
	BatchFlushed
	GridIndexed
	Done
	Failed
)

func (s SlideState) String() string {
	switch s {
	case Idle:
		return "idle"
	case GridPlanned:
		return "grid planned"
	case Sampling:
		return "sampling"
	case BatchFlushed:
		return "batch flushed"
	case GridIndexed:
		return "grid indexed"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown state %d", s)
	}
}

// SlideReport summarizes the sampling of one slide.
type SlideReport struct {
	Slide    string
	State    SlideState
	Extent   storage.Extent
	Accepted int
	Flushes  int

	// Labels counts accepted patches per label.
	Labels map[int32]int

	// Unrecognized counts patches whose region label was not in the label map.
	Unrecognized map[string]int

	Elapsed time.Duration
	Err     error
}

func (r *SlideReport) String() string {
	s := fmt.Sprintf("%s: %s, %d patches in %d writes from %s (%s)",
		r.Slide, r.State, r.Accepted, r.Flushes, r.Extent, r.Elapsed)
	if r.Err != nil {
		s += ": " + r.Err.Error()
	}
	return s
}

// RunReport summarizes a sampling run over every slide of a dataset.
type RunReport struct {
	RunID    string
	Capacity uint64
	Slides   []*SlideReport
	Elapsed  time.Duration
}

// Accepted is the total number of stored patches.
func (r *RunReport) Accepted() int {
	var n int
	for _, s := range r.Slides {
		n += s.Accepted
	}
	return n
}

// Failed returns the slides that ended in the Failed state.
func (r *RunReport) Failed() []string {
	var failed []string
	for _, s := range r.Slides {
		if s.State == Failed {
			failed = append(failed, s.Slide)
		}
	}
	return failed
}

// Labels totals the per-label patch counts over all slides.
func (r *RunReport) Labels() map[int32]int {
	totals := make(map[int32]int)
	for _, s := range r.Slides {
		for label, n := range s.Labels {
			totals[label] += n
		}
	}
	return totals
}

func (r *RunReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d patches from %d slides in %s\n", r.RunID, r.Accepted(), len(r.Slides), r.Elapsed)
	labels := r.Labels()
	keys := make([]int, 0, len(labels))
	for label := range labels {
		keys = append(keys, int(label))
	}
	sort.Ints(keys)
	for _, label := range keys {
		fmt.Fprintf(&b, "  label %d: %d patches\n", label, labels[int32(label)])
	}
	for _, s := range r.Slides {
		fmt.Fprintf(&b, "  %s\n", s)
	}
	return b.String()
}
