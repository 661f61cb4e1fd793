package reel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalChunkStorage is a ChunkEngine that keeps each chunk as a regular file
// under dataDir, with the key's generation prefix as a subdirectory. A write
// goes through a temp file and a rename in the destination directory, so a
// chunk file is either fully present or absent.
type LocalChunkStorage struct {
	dataDir string
}

// NewLocalChunkStorage creates a LocalChunkStorage rooted at dataDir.
func NewLocalChunkStorage(dataDir string) *LocalChunkStorage {
	return &LocalChunkStorage{dataDir: dataDir}
}

func (s *LocalChunkStorage) chunkPath(key string) (string, error) {
	prefix, name, ok := strings.Cut(key, "/")
	if !ok || prefix == "" || name == "" || strings.ContainsAny(prefix+name, `/\`) || prefix == ".." || name == ".." {
		return "", fmt.Errorf("invalid chunk key %q", key)
	}
	return filepath.Join(s.dataDir, prefix, name), nil
}

func (s *LocalChunkStorage) PutChunk(ctx context.Context, key string, data []byte) error {
	path, err := s.chunkPath(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".chunk-*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), path)
}

func (s *LocalChunkStorage) GetChunk(ctx context.Context, key string) ([]byte, error) {
	path, err := s.chunkPath(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (s *LocalChunkStorage) DeleteChunk(ctx context.Context, key string) error {
	path, err := s.chunkPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	// Drop the generation directory once its last chunk is gone; Remove
	// fails harmlessly while siblings remain.
	_ = os.Remove(filepath.Dir(path))
	return nil
}
