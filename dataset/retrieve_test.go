package dataset

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"github.com/janelia-flyem/wsipatch/storage"
	"github.com/janelia-flyem/wsipatch/wsi"
)

func TestSetPatches(t *testing.T) {
	var slides []*fakeSlide
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		slides = append(slides, &fakeSlide{name: name, levels: 1, xTiles: 1, yTiles: 1})
	}
	d := newFakeDataset(t, slides...)
	m, err := NewManager(testConfig(t, d, "chunked-array"), d.open)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	b, err := m.OpenStore()
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	ex, err := m.SetPatches(b, 1, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ex.Slides, []string{"b", "d"}) {
		t.Errorf("set 1 of 2 should hold slides b and d, got %v", ex.Slides)
	}
	ex, err = m.SetPatches(b, 0, 0, []bool{true, false, false, false, true})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ex.Slides, []string{"a", "e"}) {
		t.Errorf("selection should hold slides a and e, got %v", ex.Slides)
	}
	if _, err := m.SetPatches(b, 0, 0, []bool{true}); !errors.Is(err, wsi.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter for short selection, got %v", err)
	}
	if _, err := m.SetPatches(b, 3, 3, nil); !errors.Is(err, wsi.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter for set id out of range, got %v", err)
	}
}

func TestOneHot(t *testing.T) {
	if v := OneHot(2, 4); !reflect.DeepEqual(v, []float32{0, 0, 1, 0}) {
		t.Errorf("bad one-hot %v", v)
	}
	if v := OneHot(storage.NoLabel, 4); v != nil {
		t.Errorf("unlabeled patch should have no one-hot, got %v", v)
	}
	if v := OneHot(4, 4); v != nil {
		t.Errorf("label past the class count should have no one-hot, got %v", v)
	}
}

func TestAugment(t *testing.T) {
	p := &storage.Patch{Channels: 1, Size: 2, Data: []byte{1, 2, 3, 4}, X: 5, Y: 6, Label: 1}
	tests := map[Augmentation][]byte{
		Identity:        {1, 2, 3, 4},
		FlipLR:          {2, 1, 4, 3},
		FlipUD:          {3, 4, 1, 2},
		Rotate90:        {2, 4, 1, 3},
		Rotate180:       {4, 3, 2, 1},
		Rotate270:       {3, 1, 4, 2},
		FlipLRRotate90:  {1, 3, 2, 4},
		FlipLRRotate180: {3, 4, 1, 2},
		FlipLRRotate270: {4, 2, 3, 1},
	}
	for a, want := range tests {
		got, err := Augment(p, a)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got.Data, want) {
			t.Errorf("%s: expected %v, got %v", a, want, got.Data)
		}
		if got.X != 5 || got.Y != 6 || got.Label != 1 {
			t.Errorf("%s: metadata changed: %s", a, got)
		}
	}
	if !reflect.DeepEqual(p.Data, []byte{1, 2, 3, 4}) {
		t.Errorf("original patch modified: %v", p.Data)
	}
	if _, err := Augment(p, FlipLRRotate270+1); !errors.Is(err, wsi.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}

	rgb := &storage.Patch{Channels: 3, Size: 2, Data: []byte{1, 1, 1, 2, 2, 2, 3, 3, 3, 4, 4, 4}}
	got, err := Augment(rgb, Rotate180)
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte{4, 4, 4, 3, 3, 3, 2, 2, 2, 1, 1, 1}; !reflect.DeepEqual(got.Data, want) {
		t.Errorf("rgb rotate 180: expected %v, got %v", want, got.Data)
	}

	// channels must stay interleaved in order through the transform
	colored := &storage.Patch{Channels: 3, Size: 2, Data: []byte{10, 11, 12, 20, 21, 22, 30, 31, 32, 40, 41, 42}}
	got, err = Augment(colored, FlipLRRotate90)
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte{10, 11, 12, 30, 31, 32, 20, 21, 22, 40, 41, 42}; !reflect.DeepEqual(got.Data, want) {
		t.Errorf("rgb transpose: expected %v, got %v", want, got.Data)
	}

	twoChannel := &storage.Patch{Channels: 2, Size: 1, Data: []byte{1, 2}}
	if _, err := Augment(twoChannel, FlipLR); !errors.Is(err, wsi.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter for 2 channels, got %v", err)
	}
}

func TestAugmentAll(t *testing.T) {
	ex := &Examples{
		Patches: []*storage.Patch{{Channels: 1, Size: 1, Data: []byte{7}, Label: 0}},
		Slides:  []string{"a"},
		OneHot:  [][]float32{{1, 0}},
	}
	aug, err := AugmentAll(ex)
	if err != nil {
		t.Fatal(err)
	}
	if aug.Len() != 9 || len(aug.Slides) != 9 || len(aug.OneHot) != 9 {
		t.Errorf("expected 9 examples, got %d patches, %d slides, %d labels", aug.Len(), len(aug.Slides), len(aug.OneHot))
	}
}

func TestAugmentAllOrder(t *testing.T) {
	ex := &Examples{
		Patches: []*storage.Patch{
			{Channels: 1, Size: 2, Data: []byte{1, 2, 3, 4}},
			{Channels: 1, Size: 2, Data: []byte{5, 6, 7, 8}},
		},
		Slides: []string{"a", "b"},
	}
	aug, err := AugmentAll(ex)
	if err != nil {
		t.Fatal(err)
	}
	if aug.Len() != 18 || aug.OneHot != nil {
		t.Fatalf("expected 18 unlabeled examples, got %d", aug.Len())
	}
	for a := Identity; a <= FlipLRRotate270; a++ {
		for i, p := range ex.Patches {
			want, err := Augment(p, a)
			if err != nil {
				t.Fatal(err)
			}
			j := int(a)*len(ex.Patches) + i
			if !reflect.DeepEqual(aug.Patches[j].Data, want.Data) || aug.Slides[j] != ex.Slides[i] {
				t.Errorf("example %d should be %s of %s", j, a, ex.Slides[i])
			}
		}
	}
}

func TestBatches(t *testing.T) {
	ex := new(Examples)
	for i := 0; i < 5; i++ {
		ex.Patches = append(ex.Patches, &storage.Patch{Channels: 1, Size: 1, Data: []byte{byte(i)}, X: uint32(i)})
		ex.Slides = append(ex.Slides, "s")
	}
	b := NewBatches(ex)
	xs := func(patches []*storage.Patch) []uint32 {
		var v []uint32
		for _, p := range patches {
			v = append(v, p.X)
		}
		return v
	}
	for i, want := range [][]uint32{{0, 1}, {2, 3}, {0, 1}} {
		patches, labels, err := b.Next(2)
		if err != nil {
			t.Fatal(err)
		}
		if labels != nil {
			t.Errorf("unlabeled examples should give nil labels")
		}
		if got := xs(patches); !reflect.DeepEqual(got, want) {
			t.Errorf("batch %d: expected %v, got %v", i, want, got)
		}
	}
	if b.Epochs() != 1 {
		t.Errorf("expected 1 epoch, got %d", b.Epochs())
	}
	if _, _, err := b.Next(6); !errors.Is(err, wsi.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter for oversized batch, got %v", err)
	}

	shuffled := NewBatches(ex)
	shuffled.Shuffle(rand.New(rand.NewSource(1)))
	all, _, err := shuffled.Next(5)
	if err != nil {
		t.Fatal(err)
	}
	got := xs(all)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if !reflect.DeepEqual(got, []uint32{0, 1, 2, 3, 4}) {
		t.Errorf("shuffle lost examples: %v", got)
	}
}

func TestSlideHelpers(t *testing.T) {
	d := newFakeDataset(t, &fakeSlide{name: "a", levels: 2, xTiles: 3, yTiles: 5})
	m, err := NewManager(testConfig(t, d, "memory-test"), d.open)
	if err != nil {
		t.Fatal(err)
	}
	levels, err := m.SlideDimensions("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(levels) != 2 || levels[1].XTiles != 3 || levels[1].YTiles != 5 || levels[1].Width != 12 {
		t.Errorf("unexpected levels %+v", levels)
	}
	win, err := m.SamplePatch("a", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(win.Pix, fakePixels(4, 1, 2)) {
		t.Errorf("sample patch should be the center tile (1,2)")
	}
	if _, err := m.SamplePatch("zzz", 0); !errors.Is(err, wsi.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown slide, got %v", err)
	}
	if !reflect.DeepEqual(m.Slides(), []string{"a"}) {
		t.Errorf("bad slides %v", m.Slides())
	}
}
