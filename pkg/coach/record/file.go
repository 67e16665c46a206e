package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// FileStore writes one JSON document per call into a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("file store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", core.NewInvalidRequestError(fmt.Sprintf("invalid record id %q", id))
	}
	return filepath.Join(s.dir, "call_"+id+".json"), nil
}

func (s *FileStore) Save(_ context.Context, rec Record) error {
	p, err := s.path(rec.ID())
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, id string) (*Record, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	return readRecord(p, id)
}

func readRecord(p, id string) (*Record, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.NewNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", filepath.Base(p), err)
	}
	return &rec, nil
}

func (s *FileStore) List(_ context.Context, limit int) ([]types.CallSummary, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "call_*.json"))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	out := make([]types.CallSummary, 0, len(matches))
	for _, p := range matches {
		id := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), "call_"), ".json")
		rec, err := readRecord(p, id)
		if err != nil {
			if core.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, rec.Summary)
	}
	sortNewestFirst(out)
	return applyLimit(out, limit), nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.NewNotFoundError(id)
		}
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
