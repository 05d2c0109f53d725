// enc/archive.go
package enc

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// DatasetExt is the extension of an S-57 base cell.
const DatasetExt = ".000"

var (
	ErrNoDataset = errors.New("no .000 chart dataset found in archive")
	ErrBadPath   = errors.New("archive entry escapes the extraction directory")
)

// ExtractArchive unpacks a chart zip into dir.
func ExtractArchive(zipPath, dir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", zipPath, err)
	}
	defer r.Close()

	root := filepath.Clean(dir) + string(os.PathSeparator)
	for _, f := range r.File {
		target := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("%s: %w", f.Name, ErrBadPath)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", target, err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to read %s from archive: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return nil
}

// FindDataset returns the first base cell (*.000, any case) under dir in
// lexical order.
func FindDataset(dir string) (string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), DatasetExt) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	if len(found) == 0 {
		return "", ErrNoDataset
	}
	sort.Strings(found)
	return found[0], nil
}

// ListArchives returns the *.zip files in dir, sorted by name.
func ListArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".zip") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
