package checkpoint

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// File is an append-only JSONL checkpoint store, one record per line.
type File struct {
	Path string
}

func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) ReadLast(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open checkpoint file: %w", err)
	}
	defer file.Close()

	var lastLine []byte
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			lastLine = append(lastLine[:0], scanner.Bytes()...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan checkpoint file: %w", err)
	}
	if len(lastLine) == 0 {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(lastLine, &rec); err != nil {
		return nil, fmt.Errorf("decode checkpoint record: %w", err)
	}
	return &rec, nil
}

func (f *File) Append(ctx context.Context, rec Record) error {
	last, err := f.ReadLast(ctx)
	if err != nil {
		return &WriteError{Err: err}
	}
	if err := validateAdvance(last, rec); err != nil {
		return &WriteError{Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o750); err != nil {
		return &WriteError{Err: err}
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return &WriteError{Err: err}
	}
	file, err := os.OpenFile(f.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return &WriteError{Err: err}
	}
	defer file.Close()
	if _, err := file.Write(append(payload, '\n')); err != nil {
		return &WriteError{Err: err}
	}
	if err := file.Sync(); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}
