package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Storage - приёмник снапшотов базы данных.
type Storage interface {
	// Store сохраняет снапшот под указанным именем, перезаписывая предыдущий.
	Store(ctx context.Context, name string, data []byte) error
}

// FileStorage сохраняет снапшоты в локальную директорию.
type FileStorage struct {
	Dir string
}

// NewFileStorage создает файловое хранилище снапшотов в директории dir.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{Dir: dir}
}

// Store записывает снапшот атомарно: сначала во временный файл,
// затем rename поверх целевого.
func (s *FileStorage) Store(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	target := filepath.Join(s.Dir, name)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
