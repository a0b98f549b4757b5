package api

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/agcensus/internal/dataset"
)

// Source provides the dataset served by the API.
type Source interface {
	Dataset(ctx context.Context) (*dataset.Dataset, error)
}

// FileSource serves a dataset CSV, reloading it when the file changes.
type FileSource struct {
	Path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
	d       *dataset.Dataset
}

// NewFileSource returns a source reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Dataset implements Source.
func (s *FileSource) Dataset(ctx context.Context) (*dataset.Dataset, error) {
	fi, err := os.Stat(s.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "api: stat %s", s.Path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d != nil && fi.ModTime().Equal(s.modTime) && fi.Size() == s.size {
		return s.d, nil
	}

	d, err := dataset.ReadCSVFile(ctx, s.Path)
	if err != nil {
		return nil, err
	}
	d.Coerce()
	s.d, s.modTime, s.size = d, fi.ModTime(), fi.Size()
	return d, nil
}

// StaticSource serves a fixed dataset.
type StaticSource struct{ D *dataset.Dataset }

// Dataset implements Source.
func (s StaticSource) Dataset(context.Context) (*dataset.Dataset, error) { return s.D, nil }
