// Package engineconfig persists which storage engine a data directory was
// opened with, so kvs-server refuses to silently switch backends.
package engineconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rivulet/kvs/internal/kverrors"
)

const fileName = "engine"

// Native and Sled are the two engine names the marker file may contain.
const (
	Native = "kvs"
	Sled   = "sled"
)

// Resolve reads the engine marker in dir, if any, and reconciles it against
// requested. An empty request resolves to the existing marker, or to Native
// when there is none. A mismatch between a pre-existing marker and an
// explicitly requested engine is a ServerStart error; the resolved engine is
// written to disk when no marker exists yet.
func Resolve(dir, requested string) (string, error) {
	path := filepath.Join(dir, fileName)

	existing, err := readMarker(path)
	if err != nil {
		return "", kverrors.Op(kverrors.KindIO, "engineconfig.readMarker", err)
	}

	want := requested
	if want == "" {
		want = existing
	}
	if want == "" {
		want = Native
	}

	if existing != "" && existing != want {
		return "", fmt.Errorf("%w: data directory was created with %q, got %q", kverrors.ErrServerStart, existing, want)
	}
	if want != Native && want != Sled {
		return "", fmt.Errorf("%w: unknown engine %q", kverrors.ErrServerStart, want)
	}

	if existing != want {
		if err := writeMarker(dir, path, want); err != nil {
			return "", kverrors.Op(kverrors.KindIO, "engineconfig.writeMarker", err)
		}
	}

	return want, nil
}

func readMarker(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	marker := strings.TrimSpace(string(data))
	if marker != Native && marker != Sled {
		return "", fmt.Errorf("%w: malformed engine marker %q", kverrors.ErrServerStart, marker)
	}
	return marker, nil
}

// writeMarker atomically replaces the marker file with name, writing to a
// temp file in the same directory, fsyncing it, renaming it over the old
// path, then fsyncing the directory so the rename itself is durable.
func writeMarker(dir, path, name string) error {
	tmpPath := path + ".tmp"

	var err error
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	tmpf, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err = tmpf.WriteString(name); err != nil {
		_ = tmpf.Close()
		return err
	}
	if err = tmpf.Sync(); err != nil {
		_ = tmpf.Close()
		return err
	}
	if err = tmpf.Close(); err != nil {
		return err
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close() // nolint:errcheck

	return d.Sync()
}
