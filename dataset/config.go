package dataset

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/janelia-flyem/wsipatch/annotation"
	"github.com/janelia-flyem/wsipatch/wsi"
)

const (
	// DefaultRowsPerTxn is the number of tile rows sampled between store writes.
	DefaultRowsPerTxn = 20

	// DefaultCapacityFactor is the safety factor applied to the estimated size of
	// a pre-sized store.
	DefaultCapacityFactor = 1.5

	DefaultPatchSize = 256
)

// DefaultSlideExtensions are the slide file types sampled when none are configured.
var DefaultSlideExtensions = []string{".svs", ".tif", ".tiff", ".png", ".jpg", ".jpeg", ".bmp"}

// Config is a wsipatch TOML configuration.
type Config struct {
	Dataset DatasetConfig
	Store   StoreConfig
	Logging wsi.LogConfig
}

// DatasetConfig is the [dataset] section: where slides are and how to sample them.
type DatasetConfig struct {
	SlideDirectory  string   `toml:"slide_directory"`
	SlideExtensions []string `toml:"slide_extensions"`

	// AnnotationDirectory holds one ImageScope XML file per slide, named after the
	// slide's file stem.  Empty means patches are unlabeled.
	AnnotationDirectory string              `toml:"annotation_directory"`
	LabelMap            annotation.LabelMap `toml:"label_map"`

	PatchSize    int  `toml:"patch_size"`
	Level        int  `toml:"level"`
	PixelOverlap int  `toml:"pixel_overlap"`
	LimitBounds  bool `toml:"limit_bounds"`
	RowsPerTxn   int  `toml:"rows_per_txn"`
}

// StoreConfig is the [store] section.
type StoreConfig struct {
	StorageType    string  `toml:"storage_type"`
	Location       string  `toml:"store_location"`
	Name           string  `toml:"store_name"`
	CapacityFactor float64 `toml:"capacity_factor"`
	EnumerateBound string  `toml:"enumerate_bound"`
	Compression    string  `toml:"compression"`
	ReadCacheMB    int     `toml:"read_cache_mb"`

	// Options are passed unchanged to the storage engine, e.g. value_threshold.
	Options map[string]interface{} `toml:"options"`
}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() Config {
	return Config{
		Dataset: DatasetConfig{
			SlideExtensions: DefaultSlideExtensions,
			PatchSize:       DefaultPatchSize,
			LimitBounds:     true,
			RowsPerTxn:      DefaultRowsPerTxn,
		},
		Store: StoreConfig{
			StorageType:    "kv",
			Name:           "patches",
			CapacityFactor: DefaultCapacityFactor,
			EnumerateBound: "full",
		},
	}
}

// LoadConfig decodes a TOML file over the defaults.  Relative paths are taken
// relative to the file's own directory.
func LoadConfig(filename string) (Config, error) {
	c := DefaultConfig()
	if filename == "" {
		return c, fmt.Errorf("no TOML configuration file provided: %w", wsi.ErrConfiguration)
	}
	if _, err := toml.DecodeFile(filename, &c); err != nil {
		return c, fmt.Errorf("could not decode TOML config %q: %v: %w", filename, err, wsi.ErrConfiguration)
	}
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return c, fmt.Errorf("could not convert relative paths in %q: %v: %w", filename, err, wsi.ErrConfiguration)
	}
	if _, err := wsi.ParseLogMode(c.Logging.Level); err != nil {
		return c, fmt.Errorf("bad [logging] in %q: %w", filename, err)
	}
	return c, nil
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)
	for _, p := range []*string{
		&c.Dataset.SlideDirectory,
		&c.Dataset.AnnotationDirectory,
		&c.Store.Location,
		&c.Logging.Logfile,
	} {
		if *p == "" {
			continue
		}
		abs, err := wsi.ConvertToAbsolute(*p, configDir)
		if err != nil {
			return fmt.Errorf("error converting %q to absolute path: %v", *p, err)
		}
		*p = abs
	}
	return nil
}

// Labeled is true when annotations are requested.
func (c *Config) Labeled() bool {
	return c.Dataset.AnnotationDirectory != ""
}

// hasExtension is a case-insensitive check of a slide file name.
func (c *Config) hasExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range c.Dataset.SlideExtensions {
		if strings.ToLower(want) == ext || "."+strings.ToLower(want) == ext {
			return true
		}
	}
	return false
}

// storeSettings builds the engine configuration of the [store] section.
func (c *Config) storeSettings() wsi.StoreConfig {
	sc := wsi.StoreConfig{Config: wsi.NewConfig(), Engine: c.Store.StorageType}
	sc.SetAll(c.Store.Options)
	sc.SetAll(map[string]interface{}{
		"path":            c.Store.Location,
		"name":            c.Store.Name,
		"compression":     c.Store.Compression,
		"enumerate_bound": c.Store.EnumerateBound,
		"read_cache_mb":   c.Store.ReadCacheMB,
		"labeled":         c.Labeled(),
	})
	return sc
}
