package wsi

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Config is a map of keyword to arbitrary data to specify configurations via keyword.
// Keywords are case-insensitive.
type Config map[string]interface{}

// NewConfig returns an empty configuration.
func NewConfig() Config {
	return make(Config)
}

// Set sets a keyword to a value.
func (c Config) Set(key string, value interface{}) {
	c[strings.ToLower(key)] = value
}

// SetAll copies all settings from the given map.
func (c Config) SetAll(kv map[string]interface{}) {
	for k, v := range kv {
		c[strings.ToLower(k)] = v
	}
}

// Get returns the value of a keyword and whether it was found.
func (c Config) Get(key string) (interface{}, bool) {
	if c == nil {
		return nil, false
	}
	v, found := c[strings.ToLower(key)]
	return v, found
}

// GetString returns a string setting.  An error is returned if the setting
// exists but isn't a string.
func (c Config) GetString(key string) (s string, found bool, err error) {
	var v interface{}
	if v, found = c.Get(key); !found {
		return
	}
	var ok bool
	if s, ok = v.(string); !ok {
		err = fmt.Errorf("%q setting must be a string (%v)", key, v)
	}
	return
}

// GetBool returns a bool setting.
func (c Config) GetBool(key string) (b bool, found bool, err error) {
	var v interface{}
	if v, found = c.Get(key); !found {
		return
	}
	var ok bool
	if b, ok = v.(bool); !ok {
		err = fmt.Errorf("%q setting must be a bool (%v)", key, v)
	}
	return
}

// GetInt returns an int setting.  TOML decodes integers as int64, so all the
// usual integer types are accepted.
func (c Config) GetInt(key string) (i int, found bool, err error) {
	var v interface{}
	if v, found = c.Get(key); !found {
		return
	}
	switch n := v.(type) {
	case int:
		i = n
	case int32:
		i = int(n)
	case int64:
		i = int(n)
	case uint32:
		i = int(n)
	case uint64:
		i = int(n)
	default:
		err = fmt.Errorf("%q setting must be an integer (%v)", key, v)
	}
	return
}

// StoreConfig is a store-specific configuration where each storage engine
// defines the types of parameters it accepts.
type StoreConfig struct {
	Config

	// Engine is a simple name describing the engine, e.g., "kv"
	Engine string
}

// ConvertToAbsolute returns an absolute path, treating a relative path as
// relative to baseDir.
func ConvertToAbsolute(path, baseDir string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	return filepath.Abs(filepath.Join(baseDir, path))
}
