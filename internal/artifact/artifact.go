// Package artifact writes the extracted dataset to disk as indented JSON.
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Indent is the per-level indentation of the artifact.
const Indent = "    "

// FileMode is the permission of written artifacts. Output mounts are
// usually read by a collector running under another uid.
const FileMode os.FileMode = 0o644

// Write serializes v to path. Parent directories are created as needed and
// the file is replaced atomically, so a failed write leaves any previous
// artifact untouched. There is no trailing newline; an empty dataset is
// written as exactly {}.
func Write(v any, path string) error {
	b, err := Encode(v)
	if err != nil {
		return fmt.Errorf("artifact: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("artifact: mkdir: %w", err)
	}
	if _, err := WriteAtomic(path, bytes.NewReader(b), FileMode); err != nil {
		return fmt.Errorf("artifact: write %s: %w", path, err)
	}
	return nil
}

// Encode renders v the way Write stores it.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", Indent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// WriteAtomic streams r into a hidden sibling of path, syncs it, applies
// perm and renames it over path. Readers of path never observe a partial
// file, and the sibling is removed unless the rename succeeded.
func WriteAtomic(path string, r io.Reader, perm os.FileMode) (n int64, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	// CreateTemp always uses 0600.
	if err := tmp.Chmod(perm); err != nil {
		return 0, fmt.Errorf("chmod: %w", err)
	}
	if n, err = io.Copy(tmp, r); err != nil {
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		return n, fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, err
	}
	committed = true
	return n, nil
}
