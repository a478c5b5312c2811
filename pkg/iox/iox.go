package iox

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteStreamToFile writes src to a temporary file next to dstFilename, syncs it,
// and then renames it over dstFilename. Readers see either the old file or the
// complete new one, never a partial write.
func WriteStreamToFile(dstFilename string, src io.Reader) error {
	dir := filepath.Dir(dstFilename)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dstFilename)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	// CreateTemp makes the file 0600
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dstFilename); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("Failed to rename %v to %v: %w", tmpName, dstFilename, err)
	}
	return nil
}

// WriteFileAtomic is WriteStreamToFile for an in-memory buffer
func WriteFileAtomic(dstFilename string, data []byte) error {
	return WriteStreamToFile(dstFilename, bytes.NewReader(data))
}
