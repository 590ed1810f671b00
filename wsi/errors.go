package wsi

import "errors"

// Sentinel errors.  Callers wrap these with context using fmt.Errorf("...: %w", err)
// and test for them with errors.Is.
var (
	// ErrConfiguration is returned before any slide is opened or any write performed
	// when a run is misconfigured.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidParameter flags a bad numeric parameter, e.g., a negative overlap.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrLevelOutOfRange is returned when a pyramid level doesn't exist for a slide.
	ErrLevelOutOfRange = errors.New("pyramid level out of range")

	// ErrUnrecognizedLabel marks an annotation label absent from the label map.
	ErrUnrecognizedLabel = errors.New("unrecognized annotation label")

	// ErrCapacityExceeded is fatal for a run: the pre-sized store is full.
	ErrCapacityExceeded = errors.New("store capacity exceeded")

	// ErrNotFound is returned for a missing patch key or grid index entry.
	ErrNotFound = errors.New("not found")
)
