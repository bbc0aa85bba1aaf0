package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wegman-software/gsa-etl-go/internal/logger"
)

// FileSource reads extracts saved as <dir>/<kind>.json
type FileSource struct {
	Dir string
}

// NewFileSource creates a source reading from dir
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

// Path returns the file an extract of kind is stored in
func Path(dir string, kind Kind) string {
	return filepath.Join(dir, string(kind)+".json")
}

// Fetch reads the extract of kind from disk
func (s *FileSource) Fetch(ctx context.Context, kind Kind) (*Extract, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ExtractionError{Kind: kind, Err: err}
	}

	path := Path(s.Dir, kind)
	ext, err := ReadExtract(path)
	if err != nil {
		return nil, &ExtractionError{Kind: kind, Attempts: 1, Err: err}
	}

	logger.Get().Info("Extract loaded",
		zap.String("kind", string(kind)),
		zap.String("path", path),
		zap.Int("elements", ext.Len()))
	return ext, nil
}

// ReadExtract decodes an extract from a JSON file
func ReadExtract(path string) (*Extract, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open extract: %w", err)
	}
	defer f.Close()

	var ext Extract
	if err := json.NewDecoder(f).Decode(&ext); err != nil {
		return nil, fmt.Errorf("failed to decode extract %s: %w", path, err)
	}
	return &ext, nil
}

// WriteExtract encodes an extract to a JSON file, creating parent directories
func WriteExtract(path string, ext *Extract) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create extract file: %w", err)
	}

	enc := json.NewEncoder(f)
	if err := enc.Encode(ext); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode extract: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close extract file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move extract into place: %w", err)
	}
	return nil
}
