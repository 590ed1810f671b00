package chunked

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/janelia-flyem/wsipatch/storage"
)

type sidecarEntry struct {
	x, y  uint32
	label int32
}

// writeSidecar writes one space-separated "x y label" line per patch.
func writeSidecar(path string, patches []storage.Patch) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	w := bufio.NewWriter(f)
	for i := range patches {
		fmt.Fprintf(w, "%d %d %d\n", patches[i].X, patches[i].Y, patches[i].Label)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// readSidecar parses a sidecar file.  A missing file returns the unwrapped os error.
func readSidecar(path string) ([]sidecarEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []sidecarEntry
	scanner := bufio.NewScanner(f)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%s:%d: expected \"x y label\", got %q", path, lineNum, line)
		}
		x, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad x: %v", path, lineNum, err)
		}
		y, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad y: %v", path, lineNum, err)
		}
		label, err := strconv.ParseInt(fields[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad label: %v", path, lineNum, err)
		}
		entries = append(entries, sidecarEntry{uint32(x), uint32(y), int32(label)})
	}
	return entries, scanner.Err()
}
