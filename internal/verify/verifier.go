// Package verify checks the files a host run produced against the reference
// copies kept in the fixture directory.
package verify

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/harrison/plugintest/internal/fileutil"
	"github.com/harrison/plugintest/internal/models"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/afero"
)

// Default diff settings for text mismatches.
const (
	DefaultDiffContext  = 3
	DefaultMaxDiffLines = 200
)

// FileResult is the outcome of verifying a single file.
type FileResult struct {
	Name string
	Mode models.CompareMode
	Err  error // nil when the file matched
}

// Passed reports whether the file matched its original.
func (r FileResult) Passed() bool {
	return r.Err == nil
}

// Verifier compares generated files with fixture originals. It never writes
// to either directory.
type Verifier struct {
	fs afero.Fs

	// KeepGoing checks every file instead of stopping at the first mismatch.
	KeepGoing bool
	// DiffContext is the number of context lines in text diffs.
	DiffContext int
	// MaxDiffLines truncates text diffs. Zero disables diffs.
	MaxDiffLines int
}

// New creates a fail-fast Verifier operating on fsys.
func New(fsys afero.Fs) *Verifier {
	return &Verifier{
		fs:           fsys,
		DiffContext:  DefaultDiffContext,
		MaxDiffLines: DefaultMaxDiffLines,
	}
}

// Verify checks the text files, then the binary files, each in the given
// order. For every name the fixture original and the generated copy in
// workDir must both be regular files with equivalent content.
//
// The returned results cover every file checked so far. The error is the
// first failure, or all failures joined when KeepGoing is set. Filesystem
// errors stop verification immediately in either mode.
func (v *Verifier) Verify(fixtureDir, workDir string, text, binary []string) ([]FileResult, error) {
	batches := []struct {
		mode  models.CompareMode
		names []string
	}{
		{models.ModeText, text},
		{models.ModeBinary, binary},
	}

	results := make([]FileResult, 0, len(text)+len(binary))
	var failures []error

	for _, batch := range batches {
		for _, name := range batch.names {
			err := v.VerifyFile(fixtureDir, workDir, name, batch.mode)
			results = append(results, FileResult{Name: name, Mode: batch.mode, Err: err})

			if err == nil {
				continue
			}
			if models.KindOf(err) != models.KindExecution || !v.KeepGoing {
				return results, err
			}
			failures = append(failures, err)
		}
	}

	return results, errors.Join(failures...)
}

// VerifyFile checks a single file in the given mode.
func (v *Verifier) VerifyFile(fixtureDir, workDir, name string, mode models.CompareMode) error {
	origPath := filepath.Join(fixtureDir, name)
	newPath := filepath.Join(workDir, name)

	if !fileutil.IsRegularFile(v.fs, origPath) {
		return &models.MissingFileError{File: name, Path: origPath, Side: models.SideOriginal}
	}
	if !fileutil.IsRegularFile(v.fs, newPath) {
		return &models.MissingFileError{File: name, Path: newPath, Side: models.SideGenerated}
	}

	switch mode {
	case models.ModeText:
		return v.verifyText(name, origPath, newPath)
	case models.ModeBinary:
		return v.verifyBinary(name, origPath, newPath)
	default:
		return fmt.Errorf("unknown compare mode %q", mode)
	}
}

func (v *Verifier) verifyText(name, origPath, newPath string) error {
	orig, err := v.fs.Open(origPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", origPath, err)
	}
	defer orig.Close()

	gen, err := v.fs.Open(newPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", newPath, err)
	}
	defer gen.Close()

	cmp, err := CompareText(orig, gen)
	if err != nil {
		return fmt.Errorf("failed to compare %s: %w", name, err)
	}
	if cmp.Equal {
		return nil
	}

	mismatch := &models.MismatchError{File: name, Path: newPath, Mode: models.ModeText, Line: cmp.Line}
	if v.MaxDiffLines > 0 {
		diff, err := v.textDiff(origPath, newPath)
		if err != nil {
			return err
		}
		mismatch.Diff = diff
	}
	return mismatch
}

func (v *Verifier) verifyBinary(name, origPath, newPath string) error {
	origInfo, err := v.fs.Stat(origPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", origPath, err)
	}
	newInfo, err := v.fs.Stat(newPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", newPath, err)
	}

	orig, err := v.fs.Open(origPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", origPath, err)
	}
	defer orig.Close()

	gen, err := v.fs.Open(newPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", newPath, err)
	}
	defer gen.Close()

	cmp, err := CompareBinary(orig, gen)
	if err != nil {
		return fmt.Errorf("failed to compare %s: %w", name, err)
	}
	// Sizes are checked too in case a file changed under us
	if cmp.Equal && origInfo.Size() == newInfo.Size() {
		return nil
	}

	return &models.MismatchError{File: name, Path: newPath, Mode: models.ModeBinary, Offset: cmp.Offset}
}

// textDiff renders a unified diff of the normalized lines of both files.
func (v *Verifier) textDiff(origPath, newPath string) (string, error) {
	origLines, err := v.readLines(origPath)
	if err != nil {
		return "", err
	}
	newLines, err := v.readLines(newPath)
	if err != nil {
		return "", err
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        origLines,
		B:        newLines,
		FromFile: origPath,
		ToFile:   newPath,
		Context:  v.DiffContext,
	})
	if err != nil {
		return "", fmt.Errorf("failed to diff %s: %w", newPath, err)
	}

	return truncateLines(diff, v.MaxDiffLines), nil
}

func (v *Verifier) readLines(path string) ([]string, error) {
	f, err := v.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	lines, err := ReadLines(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// difflib expects every line to end in "\n"
	if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
		lines[n-1] += "\n\\ No newline at end of file\n"
	}
	return lines, nil
}

func truncateLines(s string, max int) string {
	lines := strings.SplitAfter(s, "\n")
	if len(lines) <= max {
		return s
	}
	kept := strings.Join(lines[:max], "")
	return kept + fmt.Sprintf("... (%d more lines)\n", len(lines)-max)
}
