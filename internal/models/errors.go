package models

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ErrorKind is the closed set of failure categories a run can end with.
type ErrorKind int

const (
	// KindNone means the run did not fail.
	KindNone ErrorKind = iota
	// KindExecution covers host failures, missing files and content mismatches.
	KindExecution
	// KindOS covers filesystem and process-launch failures.
	KindOS
	// KindOther covers everything not classified above.
	KindOther
)

// String returns the string representation of ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindExecution:
		return "execution"
	case KindOS:
		return "os"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// kinded is implemented by errors that know their own category.
type kinded interface {
	Kind() ErrorKind
}

// Side identifies which copy of a verified file is missing.
type Side int

const (
	// SideOriginal is the reference copy in the fixture directory.
	SideOriginal Side = iota
	// SideGenerated is the copy the host produced in the working directory.
	SideGenerated
)

// String returns the string representation of Side.
func (s Side) String() string {
	if s == SideOriginal {
		return "original"
	}
	return "generated"
}

// CompareMode selects the equivalence rule used for a verified file.
type CompareMode string

const (
	// ModeText compares line by line, ignoring line-ending style.
	ModeText CompareMode = "text"
	// ModeBinary compares byte for byte.
	ModeBinary CompareMode = "binary"
)

// HostError reports a host process that exited with a non-zero code or was
// killed after exceeding its timeout. Both output streams are attached.
type HostError struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Timeout  time.Duration
}

// Kind implements kinded.
func (e *HostError) Kind() ErrorKind { return KindExecution }

// Error implements the error interface for HostError.
func (e *HostError) Error() string {
	var sb strings.Builder
	if e.TimedOut {
		sb.WriteString(fmt.Sprintf("host execution killed after timeout of %v", e.Timeout))
	} else {
		sb.WriteString(fmt.Sprintf("host execution ended with code %d", e.ExitCode))
	}
	sb.WriteString("\n-= Output stream =-\n")
	sb.WriteString(e.Stdout)
	sb.WriteString("\n-= Error stream =-\n")
	sb.WriteString(e.Stderr)
	return sb.String()
}

// MissingFileError reports a verified file that is absent or not a regular
// file on one side of the comparison.
type MissingFileError struct {
	File string // Bare file name
	Path string // Full path that was checked
	Side Side
}

// Kind implements kinded.
func (e *MissingFileError) Kind() ErrorKind { return KindExecution }

// Error implements the error interface for MissingFileError.
func (e *MissingFileError) Error() string {
	return fmt.Sprintf("the %s file (%s) is not accessible", e.Side, e.Path)
}

// MismatchError reports a generated file whose content differs from the
// fixture original.
type MismatchError struct {
	File   string
	Path   string
	Mode   CompareMode
	Line   int    // First differing line (text mode, 1-based)
	Offset int64  // First differing byte (binary mode)
	Diff   string // Unified diff of the normalized lines (text mode, may be truncated)
}

// Kind implements kinded.
func (e *MismatchError) Kind() ErrorKind { return KindExecution }

// Error implements the error interface for MismatchError.
func (e *MismatchError) Error() string {
	msg := fmt.Sprintf("the generated %s is different from the original one", e.Path)
	switch e.Mode {
	case ModeText:
		if e.Line > 0 {
			msg += fmt.Sprintf(" (first difference at line %d)", e.Line)
		}
	case ModeBinary:
		msg += fmt.Sprintf(" (first difference at byte %d)", e.Offset)
	}
	return msg
}

// KindOf classifies err by walking its wrap chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}

	var pathErr *fs.PathError
	var linkErr *os.LinkError
	var sysErr *os.SyscallError
	var execErr *exec.Error
	var errno syscall.Errno
	switch {
	case errors.As(err, &pathErr),
		errors.As(err, &linkErr),
		errors.As(err, &sysErr),
		errors.As(err, &execErr),
		errors.As(err, &errno):
		return KindOS
	}

	return KindOther
}

// IsHostError checks if the error is or wraps a HostError.
func IsHostError(err error) bool {
	var he *HostError
	return errors.As(err, &he)
}

// IsMissingFileError checks if the error is or wraps a MissingFileError.
func IsMissingFileError(err error) bool {
	var me *MissingFileError
	return errors.As(err, &me)
}

// IsMismatchError checks if the error is or wraps a MismatchError.
func IsMismatchError(err error) bool {
	var me *MismatchError
	return errors.As(err, &me)
}
