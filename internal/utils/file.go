package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// imageExts are the formats the processor can decode
var imageExts = map[string]bool{"jpg": true, "jpeg": true, "png": true, "webp": true}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// GetFileExtension returns the lowercase file extension without the dot
func GetFileExtension(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// IsImageFile checks if a file has a decodable image extension
func IsImageFile(filename string) bool {
	return imageExts[GetFileExtension(filename)]
}

// OutputFilename builds dir/<prefix><name><suffix>.<format> for an input path or URL
func OutputFilename(input, dir, prefix, suffix, format string) string {
	base := filepath.Base(strings.TrimSpace(input))
	name := SanitizeFilename(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" {
		name = "untitled"
	}
	if format == "" {
		format = GetFileExtension(base)
		if format == "" {
			format = "jpg"
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s%s%s.%s", prefix, name, suffix, format))
}

// ListImageFiles recursively lists image files under dir in lexical order
func ListImageFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsImageFile(path) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// WriteFileAtomic writes data next to path and renames it into place
func WriteFileAtomic(path string, data []byte) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// SanitizeFilename removes or replaces invalid characters in filenames
func SanitizeFilename(filename string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	return strings.Trim(r.Replace(filename), " .")
}
