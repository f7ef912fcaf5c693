package relay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// PartialSuffix marks in-progress temp files inside the destination directory.
const PartialSuffix = ".part"

type fileState int

const (
	stateOpening fileState = iota
	stateWriting
	stateFinalized
	stateRemoved
)

func (s fileState) String() string {
	switch s {
	case stateOpening:
		return "opening"
	case stateWriting:
		return "writing"
	case stateFinalized:
		return "finalized"
	case stateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// storedFile owns one destination file for the duration of a request. Bytes
// are written to a hidden temp file next to the destination and only renamed
// into place by Finalize, so a failed download never replaces or leaves
// behind a file at the destination path.
type storedFile struct {
	path    string
	tmpPath string
	f       *os.File
	state   fileState
	written int64
}

func createStoredFile(dir, name string) (*storedFile, error) {
	sf := &storedFile{path: filepath.Join(dir, name), state: stateOpening}

	f, err := os.CreateTemp(dir, "."+name+".*"+PartialSuffix)
	if err != nil {
		return nil, &StorageError{Operation: "create", Path: sf.path, Err: err}
	}

	sf.f = f
	sf.tmpPath = f.Name()
	sf.state = stateWriting

	return sf, nil
}

func (sf *storedFile) Write(p []byte) (int, error) {
	if sf.state != stateWriting {
		return 0, fmt.Errorf("write to %s file", sf.state)
	}

	n, err := sf.f.Write(p)
	sf.written += int64(n)

	return n, err
}

// Finalize flushes the temp file and renames it to the destination path.
func (sf *storedFile) Finalize() error {
	if sf.state != stateWriting {
		return fmt.Errorf("finalize %s file", sf.state)
	}

	if err := sf.f.Sync(); err != nil {
		return &StorageError{Operation: "finalize", Path: sf.path, Err: err}
	}

	if err := sf.f.Close(); err != nil {
		return &StorageError{Operation: "finalize", Path: sf.path, Err: err}
	}

	if err := os.Rename(sf.tmpPath, sf.path); err != nil {
		return &StorageError{Operation: "finalize", Path: sf.path, Err: err}
	}

	sf.state = stateFinalized

	return nil
}

// Discard closes and removes the temp file unless the file was finalized.
// It is safe to call on every exit path.
func (sf *storedFile) Discard() error {
	if sf.state == stateFinalized || sf.state == stateRemoved {
		return nil
	}

	closeErr := sf.f.Close()
	if errors.Is(closeErr, os.ErrClosed) {
		closeErr = nil
	}

	removeErr := os.Remove(sf.tmpPath)
	if errors.Is(removeErr, os.ErrNotExist) {
		removeErr = nil
	}

	if removeErr == nil {
		sf.state = stateRemoved
	}

	return errors.Join(closeErr, removeErr)
}
