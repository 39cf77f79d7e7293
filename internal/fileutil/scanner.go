package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/afero"
)

// ScanOptions configures the directory listing behavior
type ScanOptions struct {
	// FollowSymlinks reports a symlink whose target is a regular file as a regular file
	FollowSymlinks bool
	// Exclude is a set of exact file names to leave out of the result
	Exclude map[string]bool
}

// ScanResult contains the results of a directory scan
type ScanResult struct {
	// Files contains the bare names of the regular files found, sorted
	Files []string
	// Skipped contains the names of entries that are not regular files
	Skipped []string
}

// DefaultScanOptions mirrors how a shell treats "is a file": symlinks to
// regular files count.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{FollowSymlinks: true}
}

// ListRegularFiles returns the names of the regular files directly inside dir.
// Subdirectories are never entered.
func ListRegularFiles(fsys afero.Fs, dir string) ([]string, error) {
	result, err := ScanDirectory(fsys, dir, DefaultScanOptions())
	if err != nil {
		return nil, err
	}
	return result.Files, nil
}

// ScanDirectory lists the immediate entries of dir and keeps the regular files
func ScanDirectory(fsys afero.Fs, dir string, opts ScanOptions) (*ScanResult, error) {
	// Validate directory exists
	info, err := fsys.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("failed to access directory: %w", &os.PathError{Op: "scan", Path: dir, Err: syscall.ENOTDIR})
	}

	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	result := &ScanResult{
		Files:   make([]string, 0, len(entries)),
		Skipped: make([]string, 0),
	}

	for _, entry := range entries {
		name := entry.Name()
		if opts.Exclude[name] {
			continue
		}

		if isRegular(fsys, filepath.Join(dir, name), entry, opts.FollowSymlinks) {
			result.Files = append(result.Files, name)
		} else {
			result.Skipped = append(result.Skipped, name)
		}
	}

	// Sort for deterministic output
	sort.Strings(result.Files)
	sort.Strings(result.Skipped)

	return result, nil
}

// IsRegularFile reports whether path exists and is a regular file, following
// symlinks. Any stat error counts as "not a regular file".
func IsRegularFile(fsys afero.Fs, path string) bool {
	info, err := fsys.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

func isRegular(fsys afero.Fs, path string, entry os.FileInfo, follow bool) bool {
	mode := entry.Mode()
	if mode.IsRegular() {
		return true
	}
	if follow && mode&os.ModeSymlink != 0 {
		return IsRegularFile(fsys, path)
	}
	return false
}
