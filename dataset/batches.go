package dataset

import (
	"fmt"
	"math/rand"

	"github.com/janelia-flyem/wsipatch/storage"
	"github.com/janelia-flyem/wsipatch/wsi"
)

// Batches hands out consecutive training batches of examples, wrapping to the
// start of the examples for each new epoch.
type Batches struct {
	ex     *Examples
	order  []int
	index  int
	epochs int
}

// NewBatches iterates over examples in their stored order until shuffled.
func NewBatches(ex *Examples) *Batches {
	order := make([]int, ex.Len())
	for i := range order {
		order[i] = i
	}
	return &Batches{ex: ex, order: order}
}

// Shuffle permutes the example order.
func (b *Batches) Shuffle(rng *rand.Rand) {
	if len(b.order) <= 1 {
		wsi.Warningf("Cannot shuffle when %d examples in set.\n", len(b.order))
		return
	}
	rng.Shuffle(len(b.order), func(i, j int) {
		b.order[i], b.order[j] = b.order[j], b.order[i]
	})
}

// Epochs is the number of complete passes over the examples.
func (b *Batches) Epochs() int {
	return b.epochs
}

// Next returns the next n patches and their one-hot labels.  A batch that
// would run past the end starts a new epoch from the first example instead.
func (b *Batches) Next(n int) ([]*storage.Patch, [][]float32, error) {
	if n <= 0 || n > len(b.order) {
		return nil, nil, fmt.Errorf("batch of %d from %d examples: %w", n, len(b.order), wsi.ErrInvalidParameter)
	}
	start := b.index
	b.index += n
	if b.index > len(b.order) {
		b.epochs++
		start = 0
		b.index = n
	}
	patches := make([]*storage.Patch, 0, n)
	var labels [][]float32
	if b.ex.OneHot != nil {
		labels = make([][]float32, 0, n)
	}
	for _, i := range b.order[start:b.index] {
		patches = append(patches, b.ex.Patches[i])
		if labels != nil {
			labels = append(labels, b.ex.OneHot[i])
		}
	}
	return patches, labels, nil
}
