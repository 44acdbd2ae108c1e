package loader

import (
	"context"
	"io"

	"github.com/ajitpratap0/airbridge/pkg/airtable"
)

// ChunkSource yields chunks until io.EOF.
type ChunkSource interface {
	Next(ctx context.Context) (airtable.Chunk, error)
}

// ChunkReader opens a fresh scan of a table.
type ChunkReader interface {
	IterChunks(table string) *airtable.ChunkIterator
}

// rechunker buffers small pages into chunks of at least size records. The
// final chunk may be smaller.
type rechunker struct {
	src  ChunkSource
	size int
	done bool
}

// Rechunk wraps src so each chunk carries at least size records, except the
// last. Errors from src are returned as-is and discard the buffer.
func Rechunk(src ChunkSource, size int) ChunkSource {
	if size < 1 {
		size = 1
	}
	return &rechunker{src: src, size: size}
}

func (r *rechunker) Next(ctx context.Context) (airtable.Chunk, error) {
	if r.done {
		return nil, io.EOF
	}
	var buf airtable.Chunk
	for len(buf) < r.size {
		chunk, err := r.src.Next(ctx)
		if err == io.EOF {
			r.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
	}
	if len(buf) == 0 {
		return nil, io.EOF
	}
	return buf, nil
}
