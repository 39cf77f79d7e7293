// Package workspace prepares the disposable working directory a test runs in.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/plugintest/internal/fileutil"
	"github.com/spf13/afero"
)

// ErrUnsafeWorkDir indicates the working directory overlaps the fixture
// directory, so staging would modify or destroy the fixture.
var ErrUnsafeWorkDir = errors.New("working directory overlaps fixture directory")

// Stager resets a working directory and fills it with fixture files.
type Stager struct {
	fs afero.Fs
}

// NewStager creates a Stager operating on fsys.
func NewStager(fsys afero.Fs) *Stager {
	return &Stager{fs: fsys}
}

// Reset deletes workDir with all its contents, if present, and creates it
// again empty. The removal is irreversible and happens without confirmation.
func (s *Stager) Reset(workDir string) error {
	// Phase 1: remove
	if err := s.fs.RemoveAll(workDir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", workDir, err)
	}

	// Phase 2: create
	if err := s.fs.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", workDir, err)
	}

	return nil
}

// Stage resets workDir and copies into it every regular file directly inside
// fixtureDir whose name is not in exclude. Names in exclude are matched
// exactly. Subdirectories of fixtureDir are ignored. It returns the sorted
// names of the copied files.
func (s *Stager) Stage(fixtureDir, workDir string, exclude []string) ([]string, error) {
	if err := CheckOverlap(fixtureDir, workDir); err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	// List before resetting so an inaccessible fixture leaves workDir alone
	scan, err := fileutil.ScanDirectory(s.fs, fixtureDir, fileutil.ScanOptions{
		FollowSymlinks: true,
		Exclude:        excluded,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list fixture directory %s: %w", fixtureDir, err)
	}

	if err := s.Reset(workDir); err != nil {
		return nil, err
	}

	for _, name := range scan.Files {
		if err := s.copyFile(filepath.Join(fixtureDir, name), filepath.Join(workDir, name)); err != nil {
			return nil, err
		}
	}

	return scan.Files, nil
}

// copyFile copies src to dst byte for byte, keeping the permission bits.
func (s *Stager) copyFile(src, dst string) error {
	in, err := s.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	perm := info.Mode().Perm()

	out, err := s.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}

	// OpenFile applies the umask
	if err := s.fs.Chmod(dst, perm); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", dst, err)
	}

	return nil
}

// CheckOverlap rejects a workDir that is fixtureDir, one of its ancestors, or
// one of its descendants. Resetting an ancestor would delete the fixture and
// staging into a descendant would write into it.
func CheckOverlap(fixtureDir, workDir string) error {
	fixtureAbs, err := filepath.Abs(fixtureDir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", fixtureDir, err)
	}
	workAbs, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", workDir, err)
	}

	if within(workAbs, fixtureAbs) || within(fixtureAbs, workAbs) {
		return fmt.Errorf("%w: %s and %s", ErrUnsafeWorkDir, workDir, fixtureDir)
	}

	return nil
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		// Different volumes
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
