// internal/sources/file.go
package sources

import (
	"context"
	"fmt"
	"os"

	"github.com/user/shadowshift/internal/dataset"
	"github.com/user/shadowshift/internal/normalize"
	"github.com/user/shadowshift/internal/types"
)

// File replays generic records from a JSONL file. Records whose source field
// names a different kind are skipped, and records without one are claimed.
type File struct {
	kind types.Source
	path string
}

// NewFile creates a replay source of the given kind.
func NewFile(kind types.Source, path string) *File {
	return &File{kind: kind, path: path}
}

func (f *File) Kind() types.Source { return f.kind }

// Fetch rereads the file on every call.
func (f *File) Fetch(ctx context.Context) ([]normalize.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer fh.Close()

	records, err := dataset.ReadRecords(fh, f.kind)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, r := range records {
		g, ok := r.(normalize.GenericRecord)
		if !ok {
			continue
		}
		if g.Source != f.kind {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}
