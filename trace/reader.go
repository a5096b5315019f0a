package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/rscsim/coherence"
)

// Access is one observed memory reference.
type Access struct {
	// TID is the id of the thread that issued the reference. Each TID
	// gets its own private cache.
	TID int
	// Type is Load or Store.
	Type coherence.AccessType
	// Addr is the referenced virtual address.
	Addr uint64
	// Size is the reference length in bytes.
	Size uint64
}

// The text trace format is one access per line:
//
//	<tid> <L|S> <hex addr> <size>
//
// for example "0 S 0x7fff0040 8". Blank lines and lines starting with
// '#' are ignored.

// ParseLine parses one trace line. ok is false for blank and comment
// lines.
func ParseLine(line string) (access Access, ok bool, err error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Access{}, false, nil
	}

	fields := strings.Fields(trimmed)
	if len(fields) != 4 {
		return Access{}, false, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}

	tid, err := strconv.Atoi(fields[0])
	if err != nil || tid < 0 {
		return Access{}, false, fmt.Errorf("bad thread id %q", fields[0])
	}

	var typ coherence.AccessType
	switch fields[1] {
	case "L", "l":
		typ = coherence.Load
	case "S", "s":
		typ = coherence.Store
	default:
		return Access{}, false, fmt.Errorf("bad access type %q", fields[1])
	}

	addr, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 64)
	if err != nil {
		return Access{}, false, fmt.Errorf("bad address %q", fields[2])
	}

	size, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil || size == 0 {
		return Access{}, false, fmt.Errorf("bad size %q", fields[3])
	}

	return Access{TID: tid, Type: typ, Addr: addr, Size: size}, true, nil
}

// Read streams accesses out of r, calling fn for each one in order.
// Reading stops at the first malformed line or fn error.
func Read(r io.Reader, fn func(Access) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		access, ok, err := ParseLine(scanner.Text())
		if err != nil {
			return fmt.Errorf("trace line %d: %w", lineNo, err)
		}
		if !ok {
			continue
		}
		if err := fn(access); err != nil {
			return fmt.Errorf("trace line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}
	return nil
}

// ReadFile streams accesses out of a trace file.
func ReadFile(path string, fn func(Access) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	return Read(f, fn)
}

// WriteAccess writes one access in the text trace format.
func WriteAccess(w io.Writer, a Access) error {
	typ := "L"
	if a.Type == coherence.Store {
		typ = "S"
	}
	_, err := fmt.Fprintf(w, "%d %s 0x%x %d\n", a.TID, typ, a.Addr, a.Size)
	return err
}
