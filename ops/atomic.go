package ops

import (
	"os"
	"path/filepath"

	"pdfops/object"
	"pdfops/writer"
)

// writeAtomic serializes the store into a temporary file alongside the
// target and renames it into place, so a crash or error never leaves a
// half-written document at path.
func writeAtomic(path string, store *object.Store) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".pdfops-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := writer.Write(store, tmp, writer.Config{}); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
