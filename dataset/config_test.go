package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/janelia-flyem/wsipatch/wsi"
)

const testTOML = `
[dataset]
slide_directory = "slides"
annotation_directory = "/data/xml"
patch_size = 128
level = 14
pixel_overlap = 8
limit_bounds = false

[dataset.label_map]
Normal = 0
Tumor = 1

[store]
storage_type = "chunked-array"
store_location = "out"
store_name = "fold1"
compression = "zstd"

[store.options]
chunk_rows = 256

[logging]
logfile = "logs/wsipatch.log"
max_log_size = 10
level = "warning"
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(filename, []byte(testTOML), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(filename)
	if err != nil {
		t.Fatal(err)
	}
	if c.Dataset.SlideDirectory != filepath.Join(dir, "slides") {
		t.Errorf("slide directory not made absolute: %s", c.Dataset.SlideDirectory)
	}
	if c.Dataset.AnnotationDirectory != "/data/xml" {
		t.Errorf("absolute path changed: %s", c.Dataset.AnnotationDirectory)
	}
	if c.Store.Location != filepath.Join(dir, "out") || c.Logging.Logfile != filepath.Join(dir, "logs", "wsipatch.log") {
		t.Errorf("relative paths not converted: %s, %s", c.Store.Location, c.Logging.Logfile)
	}
	if c.Dataset.PatchSize != 128 || c.Dataset.Level != 14 || c.Dataset.PixelOverlap != 8 || c.Dataset.LimitBounds {
		t.Errorf("bad dataset settings %+v", c.Dataset)
	}
	if c.Dataset.RowsPerTxn != DefaultRowsPerTxn || c.Store.CapacityFactor != DefaultCapacityFactor {
		t.Errorf("defaults not kept: rows %d, factor %g", c.Dataset.RowsPerTxn, c.Store.CapacityFactor)
	}
	if c.Dataset.LabelMap["Tumor"] != 1 || len(c.Dataset.LabelMap) != 2 {
		t.Errorf("bad label map %v", c.Dataset.LabelMap)
	}
	if c.Logging.Level != "warning" {
		t.Errorf("log level not read: %q", c.Logging.Level)
	}
	if !c.Labeled() {
		t.Errorf("config with annotations should be labeled")
	}
	sc := c.storeSettings()
	rows, found, err := sc.GetInt("chunk_rows")
	if err != nil || !found || rows != 256 {
		t.Errorf("engine option not passed through: %d %t %v", rows, found, err)
	}
	if name, _, _ := sc.GetString("name"); name != "fold1" || sc.Engine != "chunked-array" {
		t.Errorf("bad store settings %v", sc)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(""); !errors.Is(err, wsi.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for no file, got %v", err)
	}
	filename := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(filename, []byte("[dataset\npatch_size = "), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(filename); !errors.Is(err, wsi.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for bad TOML, got %v", err)
	}
	if err := os.WriteFile(filename, []byte("[logging]\nlevel = \"loud\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(filename); !errors.Is(err, wsi.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for bad log level, got %v", err)
	}
}

func TestManagerCopiesLabelMap(t *testing.T) {
	d, c := labeledDataset(t, "memory-test")
	m, err := NewManager(c, d.open)
	if err != nil {
		t.Fatal(err)
	}
	c.Dataset.LabelMap["Tumor"] = 9
	if got := m.Config().Dataset.LabelMap["Tumor"]; got != 1 {
		t.Errorf("manager label map changed with caller's map: %d", got)
	}
	if m.NumClasses() != 2 {
		t.Errorf("expected 2 classes, got %d", m.NumClasses())
	}
}
