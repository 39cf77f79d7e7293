package verify

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// maxLineSize bounds a single line in text mode.
const maxLineSize = 256 * 1024 * 1024

// TextComparison is the result of a line-wise comparison.
type TextComparison struct {
	Equal bool
	// Line is the first 1-based line that differs, including the line
	// right after the end of the shorter input.
	Line int
}

// BinaryComparison is the result of a byte-wise comparison.
type BinaryComparison struct {
	Equal bool
	// Offset is the first byte that differs, or the length of the shorter
	// input when one is a prefix of the other.
	Offset int64
}

// CompareText compares a and b line by line. "\r\n", "\r" and "\n" all end a
// line and are treated alike. A last line without terminator differs from
// the same line with one, and both inputs must run out of lines together.
func CompareText(a, b io.Reader) (TextComparison, error) {
	sa := newLineScanner(a)
	sb := newLineScanner(b)

	line := 0
	for {
		line++
		moreA := sa.Scan()
		moreB := sb.Scan()

		if err := sa.Err(); err != nil {
			return TextComparison{}, fmt.Errorf("failed to read original: %w", err)
		}
		if err := sb.Err(); err != nil {
			return TextComparison{}, fmt.Errorf("failed to read generated: %w", err)
		}

		if !moreA && !moreB {
			return TextComparison{Equal: true}, nil
		}
		if moreA != moreB || !bytes.Equal(sa.Bytes(), sb.Bytes()) {
			return TextComparison{Equal: false, Line: line}, nil
		}
	}
}

// CompareBinary compares a and b byte for byte.
func CompareBinary(a, b io.Reader) (BinaryComparison, error) {
	const chunk = 32 * 1024
	bufA := make([]byte, chunk)
	bufB := make([]byte, chunk)

	var offset int64
	for {
		na, errA := io.ReadFull(a, bufA)
		if errA != nil && errA != io.EOF && errA != io.ErrUnexpectedEOF {
			return BinaryComparison{}, fmt.Errorf("failed to read original: %w", errA)
		}
		nb, errB := io.ReadFull(b, bufB)
		if errB != nil && errB != io.EOF && errB != io.ErrUnexpectedEOF {
			return BinaryComparison{}, fmt.Errorf("failed to read generated: %w", errB)
		}

		n := min(na, nb)
		for i := 0; i < n; i++ {
			if bufA[i] != bufB[i] {
				return BinaryComparison{Equal: false, Offset: offset + int64(i)}, nil
			}
		}
		if na != nb {
			return BinaryComparison{Equal: false, Offset: offset + int64(n)}, nil
		}

		offset += int64(n)
		// A short read means both inputs ended at the same length
		if na < chunk {
			return BinaryComparison{Equal: true}, nil
		}
	}
}

// ReadLines returns the normalized lines of r, each ending in "\n" unless it
// is an unterminated last line.
func ReadLines(r io.Reader) ([]string, error) {
	s := newLineScanner(r)
	var lines []string
	for s.Scan() {
		lines = append(lines, string(s.Bytes()))
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineSize)
	s.Split(scanNormalizedLines)
	return s
}

// scanNormalizedLines is a bufio.SplitFunc that yields lines with their
// terminator rewritten to "\n". An unterminated last line is returned as is.
func scanNormalizedLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		width := 1
		if data[i] == '\r' {
			if i+1 >= len(data) && !atEOF {
				// Need the next byte to tell "\r" from "\r\n"
				return 0, nil, nil
			}
			if i+1 < len(data) && data[i+1] == '\n' {
				width = 2
			}
		}
		tok := make([]byte, i+1)
		copy(tok, data[:i])
		tok[i] = '\n'
		return i + width, tok, nil
	}

	if atEOF {
		return len(data), data, nil
	}

	// Request more data
	return 0, nil, nil
}
