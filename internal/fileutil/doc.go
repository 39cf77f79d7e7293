// Package fileutil lists the regular files of a single directory level.
//
// Every harness stage that looks at a directory (classification, staging,
// the classify command) goes through this package so they agree on what a
// "file" is:
//
//   - Only the immediate entries of the directory are considered. Subdirectories
//     are reported as skipped and never entered.
//   - A symlink counts as a regular file when its target is one.
//   - Names are returned bare (no directory prefix) and sorted, so callers get
//     the same answer regardless of the order the filesystem lists entries in.
//
// All functions take an afero.Fs. Production code passes afero.NewOsFs();
// tests use afero.NewMemMapFs().
//
// # Usage
//
//	names, err := fileutil.ListRegularFiles(afero.NewOsFs(), fixtureDir)
//	if err != nil {
//	    return err
//	}
//
// Leaving out the files that will be verified:
//
//	result, err := fileutil.ScanDirectory(fsys, fixtureDir, fileutil.ScanOptions{
//	    FollowSymlinks: true,
//	    Exclude:        map[string]bool{"expected.txt": true},
//	})
package fileutil
