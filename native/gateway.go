package native

import (
	"github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

// Check converts a nonzero status into a NativeCallError carrying the
// library's last error message. Failures are never retried.
func Check(lib Library, op string, status int) error {
	if status == 0 {
		return nil
	}
	return errors.NewNativeCallError(op, status, lib.GetLastError())
}

// OneOff returns lib's extended single-row ABI, or ErrExtendedLibraryRequired
// when the backend was opened without it.
func OneOff(lib Library) (OneOffLibrary, error) {
	ext, ok := lib.(OneOffLibrary)
	if !ok || !lib.Capabilities().OneOff {
		return nil, errors.Wrapf(errors.ErrExtendedLibraryRequired, "backend %q", lib.Name())
	}
	return ext, nil
}

// Collective returns lib's checkpoint ABI, or ErrCollectiveUnavailable.
func Collective(lib Library) (CollectiveLibrary, error) {
	col, ok := lib.(CollectiveLibrary)
	if !ok || !lib.Capabilities().Collective {
		return nil, errors.Wrapf(errors.ErrCollectiveUnavailable, "backend %q", lib.Name())
	}
	return col, nil
}
