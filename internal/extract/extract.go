// Package extract pulls per-participant patch files out of a generated game
// bundle.
package extract

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/grovetools/multiworld/errors"
)

// DefaultMarker identifies patch files by their extension.
const DefaultMarker = ".ap"

// Result lists the files written to the target directory.
type Result struct {
	Bundle string
	Files  []string
}

// Extract copies every non-directory entry of bundle whose lowercased
// extension contains marker into targetDir, flattened to its base name.
// Later entries with the same base name overwrite earlier ones.
func Extract(bundle, targetDir, marker string) (Result, error) {
	if marker == "" {
		marker = DefaultMarker
	}
	marker = strings.ToLower(marker)
	result := Result{Bundle: bundle}

	reader, err := zip.OpenReader(bundle)
	if err != nil {
		return result, errors.ExtractionFailed(bundle, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return result, errors.ExtractionFailed(bundle, err)
	}

	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() || strings.HasSuffix(entry.Name, "/") {
			continue
		}
		name := filepath.Base(filepath.FromSlash(entry.Name))
		if !Matches(name, marker) {
			continue
		}

		dest := filepath.Join(targetDir, name)
		if err := writeEntry(entry, dest); err != nil {
			return result, errors.ExtractionFailed(bundle, fmt.Errorf("%s: %w", entry.Name, err))
		}
		result.Files = append(result.Files, dest)
	}

	return result, nil
}

// Matches reports whether name's lowercased extension contains marker.
func Matches(name, marker string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext != "" && strings.Contains(ext, strings.ToLower(marker))
}

func writeEntry(entry *zip.File, dest string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
