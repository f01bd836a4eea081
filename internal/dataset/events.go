// internal/dataset/events.go
package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/user/shadowshift/internal/normalize"
	"github.com/user/shadowshift/internal/types"
)

const maxLineSize = 4 << 20

// ReadRecords decodes a JSONL stream of generic records. Blank lines are
// skipped. Records without a source field take fallback; with an empty
// fallback such a record is an error.
func ReadRecords(r io.Reader, fallback types.Source) ([]normalize.Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var out []normalize.Record
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		rec, err := normalize.ParseGeneric(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Source == "" {
			if fallback == "" {
				return nil, fmt.Errorf("line %d: %w", line, &types.ValidationError{Field: "source", Reason: "missing (want mail, chat or vcs)"})
			}
			rec.Source = fallback
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return out, nil
}

// ReadEventsFile reads and normalizes an events.jsonl file.
func ReadEventsFile(path string, n *normalize.Normalizer) ([]types.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	records, err := ReadRecords(f, "")
	if err != nil {
		return nil, err
	}
	return n.NormalizeAll(records), nil
}
