package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONFile репозиторий одного JSON side-файла: снимок в памяти, атомарная запись, явный Reload
type JSONFile[T any] struct {
	path  string
	empty func() T

	mu   sync.RWMutex
	data T
}

// OpenJSONFile загружает файл; отсутствующий файл дает пустое значение
func OpenJSONFile[T any](path string, empty func() T) (*JSONFile[T], error) {
	f := &JSONFile[T]{path: path, empty: empty}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path путь к файлу
func (f *JSONFile[T]) Path() string {
	return f.path
}

// Snapshot возвращает независимую копию текущих данных
func (f *JSONFile[T]) Snapshot() (T, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return clone(f.data, f.empty)
}

// Update применяет fn к копии данных и атомарно записывает результат.
// При ошибке fn или записи снимок в памяти не меняется.
func (f *JSONFile[T]) Update(fn func(data *T) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next, err := clone(f.data, f.empty)
	if err != nil {
		return err
	}
	if err := fn(&next); err != nil {
		return err
	}
	if err := writeAtomic(f.path, next); err != nil {
		return err
	}
	f.data = next
	return nil
}

// Reload перечитывает файл с диска
func (f *JSONFile[T]) Reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data := f.empty()
	raw, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		f.data = data
		return nil
	case err != nil:
		return fmt.Errorf("read %s: %w", f.path, err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parse %s: %w", f.path, err)
		}
	}
	f.data = data
	return nil
}

func clone[T any](src T, empty func() T) (T, error) {
	dst := empty()
	raw, err := json.Marshal(src)
	if err != nil {
		return dst, fmt.Errorf("snapshot encode: %w", err)
	}
	if err := json.Unmarshal(raw, &dst); err != nil {
		return dst, fmt.Errorf("snapshot decode: %w", err)
	}
	return dst, nil
}

// writeAtomic пишет во временный файл рядом с целевым и переименовывает его
func writeAtomic(path string, value interface{}) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
