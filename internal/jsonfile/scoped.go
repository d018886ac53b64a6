package jsonfile

import (
	"errors"
	"fmt"
	"os"
)

// WithContent writes data to path for the duration of fn and restores the
// previous bytes afterwards, whether fn succeeds, fails or panics.
func WithContent(path string, data []byte, fn func() error) (err error) {
	original, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := writePreservingMode(path, data); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	defer func() {
		if restoreErr := writePreservingMode(path, original); restoreErr != nil {
			err = errors.Join(err, fmt.Errorf("restoring %s: %w", path, restoreErr))
		}
	}()

	return fn()
}

// WithDocument renders doc into path for the duration of fn. See WithContent.
func WithDocument(path string, doc *Document, fn func() error) error {
	data, err := doc.Bytes()
	if err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}

	return WithContent(path, data, fn)
}
