/*
	Package dataset samples every slide of a directory into a patch store and
	retrieves stored patches for training.

	A Manager is created from a validated Config.  Misconfiguration is reported
	by NewManager, before any slide is opened or any store written.  Run then
	samples slides one at a time, sequentially, flushing a batch of patches to
	the store every RowsPerTxn rows of tiles.
*/
package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/janelia-flyem/wsipatch/annotation"
	"github.com/janelia-flyem/wsipatch/slide"
	"github.com/janelia-flyem/wsipatch/storage"
	"github.com/janelia-flyem/wsipatch/tiling"
	"github.com/janelia-flyem/wsipatch/wsi"

	"github.com/dustin/go-humanize"
	"github.com/twinj/uuid"
)

// Manager runs sampling over a dataset and reads it back.
type Manager struct {
	cfg    Config
	opener slide.Opener
	engine storage.Engine

	// slide file paths, sorted
	slides []string

	// annotation file path per slide path
	annotations map[string]string

	// OnState, if set, is called on every slide state transition.
	OnState func(slideID string, state SlideState)
}

// NewManager validates the configuration and lists the dataset's slides.  All
// errors wrap wsi.ErrConfiguration.
func NewManager(cfg Config, opener slide.Opener) (*Manager, error) {
	if opener == nil {
		return nil, fmt.Errorf("no slide opener given: %w", wsi.ErrConfiguration)
	}
	engine, err := storage.GetEngine(cfg.Store.StorageType)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Location == "" {
		return nil, fmt.Errorf("no store_location given: %w", wsi.ErrConfiguration)
	}
	if cfg.Store.Name == "" {
		return nil, fmt.Errorf("no store_name given: %w", wsi.ErrConfiguration)
	}
	if _, err := storage.ParseBound(cfg.Store.EnumerateBound); err != nil {
		return nil, err
	}
	if _, err := wsi.ParseCompression(cfg.Store.Compression); err != nil {
		return nil, err
	}
	if cfg.Store.CapacityFactor <= 0 {
		return nil, fmt.Errorf("capacity_factor must be positive, not %g: %w", cfg.Store.CapacityFactor, wsi.ErrConfiguration)
	}
	d := cfg.Dataset
	if d.PixelOverlap < 0 {
		return nil, fmt.Errorf("negative pixel_overlap %d not allowed: %w", d.PixelOverlap, wsi.ErrConfiguration)
	}
	if _, err := tiling.TileSize(d.PatchSize, d.PixelOverlap); err != nil {
		return nil, fmt.Errorf("%v: %w", err, wsi.ErrConfiguration)
	}
	if d.Level < 0 {
		return nil, fmt.Errorf("negative level %d: %w", d.Level, wsi.ErrConfiguration)
	}
	if d.RowsPerTxn <= 0 {
		return nil, fmt.Errorf("rows_per_txn must be positive, not %d: %w", d.RowsPerTxn, wsi.ErrConfiguration)
	}

	m := &Manager{cfg: cfg, opener: opener, engine: engine}
	m.cfg.Dataset.LabelMap = d.LabelMap.Copy()
	m.cfg.Dataset.SlideExtensions = append([]string(nil), d.SlideExtensions...)
	if m.slides, err = m.listSlides(); err != nil {
		return nil, err
	}
	if cfg.Labeled() {
		if m.annotations, err = m.matchAnnotations(); err != nil {
			return nil, err
		}
	}
	wsi.Infof("Dataset of %d slides in %s, storing with %s engine at %s\n",
		len(m.slides), d.SlideDirectory, engine.GetName(), filepath.Join(cfg.Store.Location, cfg.Store.Name))
	return m, nil
}

func (m *Manager) listSlides() ([]string, error) {
	dir := m.cfg.Dataset.SlideDirectory
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("bad slide_directory %q: %v: %w", dir, err, wsi.ErrConfiguration)
	}
	var slides []string
	for _, entry := range entries {
		if entry.IsDir() || !m.cfg.hasExtension(entry.Name()) {
			continue
		}
		slides = append(slides, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(slides)
	return slides, nil
}

// matchAnnotations requires exactly one XML file per slide, named after the slide.
func (m *Manager) matchAnnotations() (map[string]string, error) {
	dir := m.cfg.Dataset.AnnotationDirectory
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("bad annotation_directory %q: %v: %w", dir, err, wsi.ErrConfiguration)
	}
	xmlFiles := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".xml" {
			continue
		}
		xmlFiles[slide.Stem(entry.Name())] = filepath.Join(dir, entry.Name())
	}
	if len(xmlFiles) != len(m.slides) {
		return nil, fmt.Errorf("%d XML annotation files in %s do not match %d slides: %w",
			len(xmlFiles), dir, len(m.slides), wsi.ErrConfiguration)
	}
	annotations := make(map[string]string, len(m.slides))
	for _, path := range m.slides {
		xmlPath, found := xmlFiles[slide.Stem(path)]
		if !found {
			return nil, fmt.Errorf("no annotation file for slide %q in %s: %w", slide.Stem(path), dir, wsi.ErrConfiguration)
		}
		annotations[path] = xmlPath
	}
	return annotations, nil
}

// Config returns a copy of the manager's configuration.
func (m *Manager) Config() Config {
	c := m.cfg
	c.Dataset.LabelMap = m.cfg.Dataset.LabelMap.Copy()
	return c
}

// Slides returns the slide identifiers, the file stems, in sampling order.
func (m *Manager) Slides() []string {
	ids := make([]string, len(m.slides))
	for i, path := range m.slides {
		ids[i] = slide.Stem(path)
	}
	return ids
}

func (m *Manager) slidePath(slideID string) (string, error) {
	for _, path := range m.slides {
		if slide.Stem(path) == slideID {
			return path, nil
		}
	}
	return "", fmt.Errorf("slide %q not in %s: %w", slideID, m.cfg.Dataset.SlideDirectory, wsi.ErrNotFound)
}

// OpenStore opens the configured store for reading.
func (m *Manager) OpenStore() (storage.Backend, error) {
	sc := m.cfg.storeSettings()
	if m.engine.RequiresCapacity() {
		sc.Set("read_only", true)
	}
	return storage.NewBackend(sc)
}

// Run samples every slide into the store.  Slides that fail to open, have no
// such level, or yield no patches are logged and skipped.  A store error,
// including wsi.ErrCapacityExceeded, aborts the run; slides finished before it
// remain stored.  The returned report covers every slide attempted.
func (m *Manager) Run(ctx context.Context) (*RunReport, error) {
	timedLog := wsi.NewTimeLog()
	report := &RunReport{RunID: uuid.NewV4().String()}
	wsi.Infof("Starting sampling run %s over %d slides\n", report.RunID, len(m.slides))

	sc := m.cfg.storeSettings()
	if m.engine.RequiresCapacity() {
		capacity, err := m.EstimateCapacity(ctx)
		if err != nil {
			return report, err
		}
		report.Capacity = capacity
		sc.Set("capacity", capacity)
	}
	backend, err := storage.NewBackend(sc)
	if err != nil {
		return report, err
	}
	defer backend.Close()

	for _, path := range m.slides {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		sr, err := m.sampleSlide(ctx, backend, path)
		report.Slides = append(report.Slides, sr)
		var se storeError
		if errors.As(err, &se) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			wsi.Errorf("Aborting run %s at slide %q: %v\n", report.RunID, sr.Slide, err)
			report.Elapsed = timedLog.Elapsed()
			return report, err
		}
		if err != nil {
			wsi.Errorf("No patches sampled from %q, continuing: %v\n", sr.Slide, err)
		}
	}
	report.Elapsed = timedLog.Elapsed()
	timedLog.Infof("Run %s stored %d patches from %d slides (%d failed) in %s",
		report.RunID, report.Accepted(), len(m.slides), len(report.Failed()), backend)
	if capacity := report.Capacity; capacity > 0 {
		wsi.Infof("Store capacity was %s\n", humanize.Bytes(capacity))
	}
	return report, nil
}

// storeError marks a failure of the backend, which ends a run.
type storeError struct {
	err error
}

func (e storeError) Error() string { return e.err.Error() }
func (e storeError) Unwrap() error { return e.err }

func (m *Manager) setState(sr *SlideReport, state SlideState) {
	sr.State = state
	if m.OnState != nil {
		m.OnState(sr.Slide, state)
	}
}

// sampleSlide walks one slide, writing batches of patches and finally its
// grid extent.
func (m *Manager) sampleSlide(ctx context.Context, backend storage.Backend, path string) (sr *SlideReport, err error) {
	sr = &SlideReport{Slide: slide.Stem(path), Labels: make(map[int32]int)}
	slideLog := wsi.NewSlideLog(sr.Slide)
	m.setState(sr, Idle)
	defer func() {
		sr.Elapsed = slideLog.Elapsed()
		if err != nil {
			backend.DiscardSlide(sr.Slide)
			sr.Err = err
			m.setState(sr, Failed)
		}
	}()

	var labeler *annotation.Labeler
	if xmlPath, found := m.annotations[path]; found {
		regions, err := annotation.ParseFile(xmlPath)
		if err != nil {
			return sr, err
		}
		labeler = annotation.NewLabeler(regions, m.cfg.Dataset.LabelMap)
	}

	s, err := m.opener(path)
	if err != nil {
		return sr, fmt.Errorf("can't open slide %q: %v", path, err)
	}
	defer s.Close()

	d := m.cfg.Dataset
	grid, err := tiling.Plan(s, d.Level, d.PatchSize, d.PixelOverlap, d.LimitBounds)
	if err != nil {
		return sr, err
	}
	sr.Extent = storage.Extent{XTiles: uint32(grid.XTiles), YTiles: uint32(grid.YTiles)}
	m.setState(sr, GridPlanned)
	slideLog.Debugf("%s", grid)

	w := &slideWriter{
		m:          m,
		report:     sr,
		log:        slideLog,
		grid:       grid,
		labeler:    labeler,
		backend:    backend,
		rowsPerTxn: d.RowsPerTxn,
	}
	m.setState(sr, Sampling)
	if sr.Accepted, err = grid.Walk(ctx, w); err != nil {
		return sr, err
	}
	if labeler != nil {
		labels, counts := labeler.Unrecognized()
		if len(labels) > 0 {
			sr.Unrecognized = make(map[string]int, len(labels))
			for i, label := range labels {
				sr.Unrecognized[label] = counts[i]
			}
			slideLog.Warningf("patches in regions with unrecognized labels: %v", sr.Unrecognized)
		}
	}

	if err = backend.SlideDone(sr.Slide, sr.Extent); err != nil {
		return sr, storeError{err}
	}
	m.setState(sr, GridIndexed)
	m.setState(sr, Done)
	if sr.Accepted == 0 {
		slideLog.Warningf("no patches sampled at level %d (%s). Continuing.", d.Level, grid)
	} else {
		slideLog.Infof("%d patches in %d writes", sr.Accepted, sr.Flushes)
	}
	return sr, nil
}
