package dataset

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/janelia-flyem/wsipatch/annotation"
	"github.com/janelia-flyem/wsipatch/storage"
	"github.com/janelia-flyem/wsipatch/wsi"
)

func TestFlushEveryRowsPerTxn(t *testing.T) {
	d := newFakeDataset(t, &fakeSlide{name: "tall", levels: 1, xTiles: 1, yTiles: 1000})
	c := testConfig(t, d, "memory-test")
	c.Dataset.RowsPerTxn = 20
	m, err := NewManager(c, d.open)
	if err != nil {
		t.Fatal(err)
	}
	report, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	store := memoryStoreAt(c.Store.Location)
	if len(store.batches) != 50 {
		t.Fatalf("expected 50 batch writes, got %d", len(store.batches))
	}
	for i, batch := range store.batches {
		if len(batch) != 20 {
			t.Errorf("batch %d has %d patches, expected 20", i, len(batch))
		}
	}
	if last := store.calls[len(store.calls)-1]; last != "done tall" {
		t.Errorf("grid index should be written after the last batch, calls ended with %q", last)
	}
	if n := len(store.calls); n != 51 {
		t.Errorf("expected 51 store calls, got %d", n)
	}
	sr := report.Slides[0]
	if sr.Flushes != 50 || sr.Accepted != 1000 || sr.State != Done {
		t.Errorf("unexpected slide report: %s", sr)
	}
	if report.Capacity != 0 {
		t.Errorf("capacity should only be computed for sized engines, got %d", report.Capacity)
	}
}

func TestPartialLastBatch(t *testing.T) {
	d := newFakeDataset(t, &fakeSlide{name: "s", levels: 1, xTiles: 3, yTiles: 7,
		short: map[image.Point]bool{{2, 0}: true, {2, 6}: true}})
	c := testConfig(t, d, "memory-test")
	c.Dataset.RowsPerTxn = 3
	m, err := NewManager(c, d.open)
	if err != nil {
		t.Fatal(err)
	}
	report, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	store := memoryStoreAt(c.Store.Location)
	var sizes []int
	for _, batch := range store.batches {
		sizes = append(sizes, len(batch))
	}
	if !reflect.DeepEqual(sizes, []int{8, 9, 2}) {
		t.Errorf("expected batches of 8, 9 and 2 patches, got %v", sizes)
	}
	if report.Slides[0].Accepted != 19 {
		t.Errorf("expected 19 accepted patches, got %d", report.Slides[0].Accepted)
	}
	ext, err := store.index.Get("s")
	if err != nil {
		t.Fatal(err)
	}
	if ext != (storage.Extent{XTiles: 3, YTiles: 7}) {
		t.Errorf("bad indexed extent %s", ext)
	}
}

func TestStateTransitions(t *testing.T) {
	d := newFakeDataset(t, &fakeSlide{name: "s", levels: 1, xTiles: 2, yTiles: 4})
	c := testConfig(t, d, "memory-test")
	c.Dataset.RowsPerTxn = 2
	m, err := NewManager(c, d.open)
	if err != nil {
		t.Fatal(err)
	}
	var states []SlideState
	m.OnState = func(slideID string, state SlideState) {
		states = append(states, state)
	}
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []SlideState{Idle, GridPlanned, Sampling, BatchFlushed, BatchFlushed, GridIndexed, Done}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("expected states %v, got %v", want, states)
	}
}

func TestConfigurationErrors(t *testing.T) {
	d := newFakeDataset(t, &fakeSlide{name: "a", levels: 1, xTiles: 2, yTiles: 2},
		&fakeSlide{name: "b", levels: 1, xTiles: 2, yTiles: 2})
	xmlDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(xmlDir, "a.xml"), []byte(squareXML), 0644); err != nil {
		t.Fatal(err)
	}

	tests := map[string]func(c *Config){
		"negative overlap":    func(c *Config) { c.Dataset.PixelOverlap = -1 },
		"overlap too large":   func(c *Config) { c.Dataset.PixelOverlap = 2 },
		"unknown storage":     func(c *Config) { c.Store.StorageType = "hdf5" },
		"missing slide dir":   func(c *Config) { c.Dataset.SlideDirectory = filepath.Join(d.dir, "nope") },
		"annotation mismatch": func(c *Config) { c.Dataset.AnnotationDirectory = xmlDir },
		"zero rows per txn":   func(c *Config) { c.Dataset.RowsPerTxn = 0 },
		"bad bound":           func(c *Config) { c.Store.EnumerateBound = "most" },
		"bad compression":     func(c *Config) { c.Store.Compression = "rar" },
		"no store location":   func(c *Config) { c.Store.Location = "" },
	}
	for name, modify := range tests {
		c := testConfig(t, d, "kv")
		modify(&c)
		if _, err := NewManager(c, d.open); !errors.Is(err, wsi.ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", name, err)
		}
		if entries, _ := os.ReadDir(c.Store.Location); len(entries) != 0 {
			t.Errorf("%s: store written despite configuration error", name)
		}
	}
	if d.numOpened() != 0 {
		t.Errorf("no slide should be opened on configuration errors, %d were", d.numOpened())
	}
}

func TestFailedSlidesContinue(t *testing.T) {
	d := newFakeDataset(t,
		&fakeSlide{name: "a", levels: 1, xTiles: 2, yTiles: 2},
		&fakeSlide{name: "b", levels: 3, xTiles: 2, yTiles: 2},
		&fakeSlide{name: "c", levels: 3, xTiles: 1, yTiles: 1, short: map[image.Point]bool{{0, 0}: true}},
	)
	c := testConfig(t, d, "memory-test")
	c.Dataset.Level = 2
	m, err := NewManager(c, d.open)
	if err != nil {
		t.Fatal(err)
	}
	report, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Slides) != 3 {
		t.Fatalf("expected 3 slide reports, got %d", len(report.Slides))
	}
	a, b, cr := report.Slides[0], report.Slides[1], report.Slides[2]
	if a.State != Failed || !errors.Is(a.Err, wsi.ErrLevelOutOfRange) {
		t.Errorf("slide a should fail with level out of range: %s", a)
	}
	if b.State != Done || b.Accepted != 4 {
		t.Errorf("slide b should be sampled: %s", b)
	}
	if cr.State != Done || cr.Accepted != 0 {
		t.Errorf("slide c should finish with no patches: %s", cr)
	}
	if !reflect.DeepEqual(report.Failed(), []string{"a"}) {
		t.Errorf("expected only a to fail, got %v", report.Failed())
	}
	store := memoryStoreAt(c.Store.Location)
	if _, err := store.index.Get("a"); !errors.Is(err, wsi.ErrNotFound) {
		t.Errorf("failed slide should not be indexed, got %v", err)
	}
	var discarded []string
	for _, call := range store.calls {
		if strings.HasPrefix(call, "discard ") {
			discarded = append(discarded, strings.TrimPrefix(call, "discard "))
		}
	}
	if !reflect.DeepEqual(discarded, []string{"a"}) {
		t.Errorf("only the failed slide should be discarded from the store, got %v", discarded)
	}
}

func TestCanceledRun(t *testing.T) {
	d := newFakeDataset(t, &fakeSlide{name: "a", levels: 1, xTiles: 2, yTiles: 2})
	m, err := NewManager(testConfig(t, d, "memory-test"), d.open)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCapacityExceeded(t *testing.T) {
	d := newFakeDataset(t,
		&fakeSlide{name: "a", levels: 1, xTiles: 1, yTiles: 1},
		&fakeSlide{name: "b", levels: 1, xTiles: 10, yTiles: 10},
		&fakeSlide{name: "c", levels: 1, xTiles: 1, yTiles: 1},
	)
	c := testConfig(t, d, "kv")
	c.Store.CapacityFactor = 0.05
	m, err := NewManager(c, d.open)
	if err != nil {
		t.Fatal(err)
	}
	capacity, err := m.EstimateCapacity(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if want := uint64(float64(102*(48+recordOverhead)) * c.Store.CapacityFactor); capacity != want {
		t.Errorf("expected capacity %d, got %d", want, capacity)
	}

	report, err := m.Run(context.Background())
	if !errors.Is(err, wsi.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if len(report.Slides) != 2 || report.Slides[0].State != Done || report.Slides[1].State != Failed {
		t.Errorf("run should stop at slide b:\n%s", report)
	}

	b, err := m.OpenStore()
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if _, err := b.ReadByKey("a", 0, 0); err != nil {
		t.Errorf("slide a should stay stored: %v", err)
	}
	if _, err := b.GridIndex().Get("b"); !errors.Is(err, wsi.ErrNotFound) {
		t.Errorf("slide b should not be indexed, got %v", err)
	}
	if _, err := b.GridIndex().Get("c"); !errors.Is(err, wsi.ErrNotFound) {
		t.Errorf("slide c should never be sampled, got %v", err)
	}
}

const squareXML = `<Annotations>
  <Annotation>
    <Regions>
      <Region Text="Tumor">
        <Vertices>
          <Vertex X="0" Y="0"/><Vertex X="8" Y="0"/><Vertex X="8" Y="8"/><Vertex X="0" Y="8"/>
        </Vertices>
      </Region>
      <Region Text="Mystery">
        <Vertices>
          <Vertex X="8" Y="8"/><Vertex X="12" Y="8"/><Vertex X="12" Y="12"/><Vertex X="8" Y="12"/>
        </Vertices>
      </Region>
    </Regions>
  </Annotation>
</Annotations>`

func labeledDataset(t *testing.T, storageType string) (*fakeDataset, Config) {
	d := newFakeDataset(t, &fakeSlide{name: "a", levels: 1, xTiles: 3, yTiles: 3})
	xmlDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(xmlDir, "a.xml"), []byte(squareXML), 0644); err != nil {
		t.Fatal(err)
	}
	c := testConfig(t, d, storageType)
	c.Dataset.AnnotationDirectory = xmlDir
	c.Dataset.LabelMap = annotation.LabelMap{"Normal": 0, "Tumor": 1}
	return d, c
}

func TestLabeling(t *testing.T) {
	d, c := labeledDataset(t, "memory-test")
	m, err := NewManager(c, d.open)
	if err != nil {
		t.Fatal(err)
	}
	report, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// tile centers are (4x+2, 4y+2): four fall in the Tumor square, (2,2) in
	// the unknown region and the rest in no region.
	sr := report.Slides[0]
	want := map[int32]int{1: 4, storage.NoLabel: 1, 0: 4}
	if !reflect.DeepEqual(sr.Labels, want) {
		t.Errorf("expected label counts %v, got %v", want, sr.Labels)
	}
	if sr.Unrecognized["Mystery"] != 1 {
		t.Errorf("expected one unrecognized Mystery patch, got %v", sr.Unrecognized)
	}
	store := memoryStoreAt(c.Store.Location)
	for _, p := range store.batches[0] {
		if p.X == 2 && p.Y == 2 && p.Label != storage.NoLabel {
			t.Errorf("patch (2,2) should be unlabeled, got %d", p.Label)
		}
		if p.X == 1 && p.Y == 0 && p.Label != 1 {
			t.Errorf("patch (1,0) should be Tumor, got %d", p.Label)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, storageType := range []string{"kv", "chunked-array", "flat-file"} {
		d, c := labeledDataset(t, storageType)
		d.slides["a"].short = map[image.Point]bool{{2, 1}: true}
		m, err := NewManager(c, d.open)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := m.Run(context.Background()); err != nil {
			t.Fatalf("%s: %v", storageType, err)
		}

		b, err := m.OpenStore()
		if err != nil {
			t.Fatalf("%s: %v", storageType, err)
		}
		ex, err := m.PatchesFromSlide(b, "a")
		if err != nil {
			t.Fatalf("%s: %v", storageType, err)
		}
		if ex.Len() != 8 {
			t.Errorf("%s: expected 8 patches, got %d", storageType, ex.Len())
		}
		for i, p := range ex.Patches {
			if !bytes.Equal(p.Data, fakePixels(4, int(p.X), int(p.Y))) {
				t.Errorf("%s: pixels of %s differ", storageType, p)
			}
			if p.Label >= 0 && ex.OneHot[i][p.Label] != 1 {
				t.Errorf("%s: bad one-hot %v for %s", storageType, ex.OneHot[i], p)
			}
		}
		p, err := b.ReadByKey("a", 0, 1)
		if err != nil {
			t.Fatalf("%s: %v", storageType, err)
		}
		if p.Label != 1 {
			t.Errorf("%s: expected patch (0,1) labeled Tumor, got %d", storageType, p.Label)
		}
		if _, err := b.ReadByKey("a", 2, 1); !errors.Is(err, wsi.ErrNotFound) {
			t.Errorf("%s: dropped edge window should not be stored, got %v", storageType, err)
		}
		b.Close()
	}
}

func TestEnumerateBoundModes(t *testing.T) {
	tests := []struct {
		bound string
		want  int
	}{
		{"full", 12},
		{"trim-last", 6},
	}
	for _, tc := range tests {
		d := newFakeDataset(t, &fakeSlide{name: "s", levels: 1, xTiles: 4, yTiles: 3})
		c := testConfig(t, d, "kv")
		c.Store.EnumerateBound = tc.bound
		m, err := NewManager(c, d.open)
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
		ex, err := m.PatchesFromSlide(b, "s")
		b.Close()
		if err != nil {
			t.Fatal(err)
		}
		if ex.Len() != tc.want {
			t.Errorf("%s: expected %d patches, got %d", tc.bound, tc.want, ex.Len())
		}
		if ex.OneHot != nil {
			t.Errorf("%s: unlabeled dataset should have no one-hot labels", tc.bound)
		}
	}
}
