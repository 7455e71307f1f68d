package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrMalformedTLE marks an element-set file the loader could not assemble
// into complete TLEs.
var ErrMalformedTLE = errors.New("malformed TLE")

// tleLineLength is the fixed element-line width SGP4 initialization expects.
const tleLineLength = 69

// LoadTLESet reads two-line element sets from r. Each set is an optional
// name line followed by the "1 " and "2 " element lines; blank lines and
// lines starting with # are skipped. The loader fails only on structural
// problems; element values are left to SGP4 initialization.
func LoadTLESet(r io.Reader) ([]TLE, error) {
	var (
		sets     []TLE
		cur      TLE
		haveName bool
		haveL1   bool
	)

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), " \t\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "1 "):
			if haveL1 {
				return nil, fmt.Errorf("%w: element line 1 repeated at line %d", ErrMalformedTLE, lineNo)
			}
			if len(line) < tleLineLength {
				return nil, fmt.Errorf("%w: line %d has %d characters, want %d", ErrMalformedTLE, lineNo, len(line), tleLineLength)
			}
			cur.Line1 = line
			haveL1 = true
		case strings.HasPrefix(line, "2 "):
			if !haveL1 {
				return nil, fmt.Errorf("%w: element line 2 without line 1 at line %d", ErrMalformedTLE, lineNo)
			}
			if len(line) < tleLineLength {
				return nil, fmt.Errorf("%w: line %d has %d characters, want %d", ErrMalformedTLE, lineNo, len(line), tleLineLength)
			}
			cur.Line2 = line
			sets = append(sets, cur)
			cur = TLE{}
			haveName = false
			haveL1 = false
		default:
			if haveName || haveL1 {
				return nil, fmt.Errorf("%w: unexpected line %d inside an element set", ErrMalformedTLE, lineNo)
			}
			cur.Name = trimmed
			haveName = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading element sets: %w", err)
	}
	if haveName || haveL1 {
		return nil, fmt.Errorf("%w: truncated element set at end of input", ErrMalformedTLE)
	}

	return sets, nil
}

// LoadTLEFile reads element sets from the named file.
func LoadTLEFile(path string) ([]TLE, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening element file: %w", err)
	}
	defer f.Close()

	sets, err := LoadTLESet(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sets, nil
}
