package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	pollInterval = 250 * time.Millisecond
	maxLineBytes = 1 << 20
)

// Query selects a slice of the log file.
type Query struct {
	// Offset is the byte position to resume from. Negative means "the last
	// Limit lines".
	Offset int64
	// Limit bounds the lines returned for a negative offset.
	Limit int
	// Wait is how long to poll for new lines when none are available.
	Wait time.Duration
}

// Chunk is a run of complete lines and the offset following them.
type Chunk struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// Tail reads the lines selected by q. A missing file yields an empty chunk at
// offset zero so followers pick the file up once the daemon creates it.
func Tail(ctx context.Context, path string, q Query) (Chunk, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return Chunk{Lines: []string{}}, nil
	}
	if err != nil {
		return Chunk{Offset: q.Offset}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return Chunk{Offset: q.Offset}, fmt.Errorf("log path %q is a directory", path)
	}

	var chunk Chunk
	if q.Offset < 0 {
		chunk, err = lastLines(path, q.Limit)
	} else {
		offset := q.Offset
		// A file shorter than the offset was truncated or rotated.
		if offset > info.Size() {
			offset = 0
		}
		chunk, err = readFrom(path, offset)
	}
	if err != nil || len(chunk.Lines) > 0 || q.Wait <= 0 {
		return chunk, err
	}
	return waitForLines(ctx, path, chunk.Offset, q.Wait)
}

func lastLines(path string, limit int) (Chunk, error) {
	all, err := readFrom(path, 0)
	if err != nil {
		return all, err
	}
	if limit <= 0 {
		all.Lines = []string{}
		return all, nil
	}
	if len(all.Lines) > limit {
		all.Lines = all.Lines[len(all.Lines)-limit:]
	}
	return all, nil
}

// readFrom returns every complete line after offset. A trailing partial line
// is left for the next read.
func readFrom(path string, offset int64) (Chunk, error) {
	chunk := Chunk{Lines: []string{}, Offset: offset}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		chunk.Offset = 0
		return chunk, nil
	}
	if err != nil {
		return chunk, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return chunk, fmt.Errorf("seek log file: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			return chunk, nil
		}
		if err != nil {
			return chunk, fmt.Errorf("read log file: %w", err)
		}
		chunk.Offset += int64(len(line))
		line = line[:len(line)-1]
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		chunk.Lines = append(chunk.Lines, line)
	}
}

func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration) (Chunk, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Chunk{Lines: []string{}, Offset: offset}, ctx.Err()
		case <-deadline.C:
			return Chunk{Lines: []string{}, Offset: offset}, nil
		case <-ticker.C:
		}
		chunk, err := readFrom(path, offset)
		if err != nil || len(chunk.Lines) > 0 {
			return chunk, err
		}
		offset = chunk.Offset
	}
}
