package pipeline

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mikepea/lure/pkg/lure/apperr"
	"github.com/mikepea/lure/pkg/lure/pathguard"
)

// extractArchive unpacks the zip at src into dest. Entries that would land
// outside dest, symlinks, and archives that expand past maxBytes are rejected.
func extractArchive(src, dest string, maxBytes int64) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return apperr.Validation("failed to open archive: %v", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return apperr.Persistence(err, "failed to create content directory")
	}

	var written int64
	for _, f := range r.File {
		name := filepath.FromSlash(strings.ReplaceAll(f.Name, `\`, "/"))
		target := filepath.Join(dest, name)
		if filepath.IsAbs(name) || !pathguard.Within(dest, target) {
			return apperr.Validation("archive entry %q escapes the content directory", f.Name)
		}

		mode := f.Mode()
		switch {
		case mode&fs.ModeSymlink != 0:
			return apperr.Validation("archive entry %q is a symlink", f.Name)
		case f.FileInfo().IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return apperr.Persistence(err, "failed to create %s", f.Name)
			}
			continue
		}

		n, err := extractFile(f, target, maxBytes-written)
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

var errArchiveTooLarge = errors.New("archive expands past the size limit")

func extractFile(f *zip.File, target string, remaining int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, apperr.Persistence(err, "failed to create directory for %s", f.Name)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, apperr.Validation("failed to read archive entry %q: %v", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, apperr.Persistence(err, "failed to create %s", f.Name)
	}

	n, err := io.Copy(out, io.LimitReader(rc, remaining+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, apperr.Persistence(err, "failed to write %s", f.Name)
	}
	if n > remaining {
		return n, apperr.Validation("%v", errArchiveTooLarge)
	}
	return n, nil
}

// findEntryDocument returns the path of the file named entry, relative to
// root and slash-separated. The root directory is checked first, then the
// tree is walked in lexical order. Names compare case-insensitively.
func findEntryDocument(root, entry string) (string, error) {
	if fi, err := os.Stat(filepath.Join(root, entry)); err == nil && fi.Mode().IsRegular() {
		return entry, nil
	}

	var found string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.EqualFold(d.Name(), entry) {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to search for %s: %w", entry, err)
	}
	if found == "" {
		return "", apperr.Structural("%s not found in archive", entry)
	}

	rel, err := filepath.Rel(root, found)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", found, err)
	}
	return filepath.ToSlash(rel), nil
}
