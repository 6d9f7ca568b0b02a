// Package diskspace checks free space on the filesystem that will receive a download.
package diskspace

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mediaflow/blobxfer/internal/cloud/storage"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredMB := float64(e.RequiredBytes) / (1024 * 1024)
	availableMB := float64(e.AvailableBytes) / (1024 * 1024)
	return fmt.Sprintf("insufficient disk space for %s: need %.2f MB, have %.2f MB available",
		e.Path, requiredMB, availableMB)
}

// Unwrap lets errors.Is match storage.ErrInsufficientSpace.
func (e *InsufficientSpaceError) Unwrap() error { return storage.ErrInsufficientSpace }

// CheckAvailableSpace checks the filesystem holding targetPath (which need not
// exist yet) for requiredBytes multiplied by safetyMargin.
// When free space cannot be determined the check passes and the write fails
// naturally if the disk fills.
func CheckAvailableSpace(targetPath string, requiredBytes int64, safetyMargin float64) error {
	available, err := availableBytes(filepath.Dir(targetPath))
	if err != nil {
		return nil
	}

	requiredWithMargin := int64(float64(requiredBytes) * safetyMargin)
	if available < requiredWithMargin {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  requiredWithMargin,
			AvailableBytes: available,
		}
	}
	return nil
}

// GetAvailableSpace returns the available space in bytes for the filesystem
// containing the given path. Returns 0 if unable to determine.
func GetAvailableSpace(path string) int64 {
	available, err := availableBytes(filepath.Dir(path))
	if err != nil {
		return 0
	}
	return available
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	var target *InsufficientSpaceError
	return errors.As(err, &target)
}
