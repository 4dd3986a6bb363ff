package services

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"backend_dooh/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// StoredFile результат сохранения файла документа
type StoredFile struct {
	Path     string `json:"path"`
	Key      string `json:"key"` // путь относительно корня хранилища
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// FileStore хранилище файлов документов
type FileStore interface {
	Save(entityType, entityID, fileName string, r io.Reader) (*StoredFile, error)
	Open(path string) (io.ReadCloser, error)
	Remove(path string) error
}

// LocalFileStore хранит файлы в DOCUMENTS_ROOT/<entity_type>s/<entity_id>/<uuid>.<ext>
type LocalFileStore struct {
	Root    string
	MaxSize int64
}

// NewLocalFileStore создает локальное файловое хранилище
func NewLocalFileStore(root string, maxSize int64) *LocalFileStore {
	if maxSize <= 0 {
		maxSize = models.MaxDocumentFileSize
	}
	return &LocalFileStore{Root: root, MaxSize: maxSize}
}

// Save проверяет расширение и размер, записывает файл атомарно и считает blake2b-256
func (s *LocalFileStore) Save(entityType, entityID, fileName string, r io.Reader) (*StoredFile, error) {
	if err := models.ValidateDocumentFile(fileName, 0); err != nil {
		return nil, validationError(err)
	}
	if entityType != models.EntityTypeVehicle && entityType != models.EntityTypeDriver {
		return nil, validationError(fmt.Errorf("unknown entity type %q", entityType))
	}
	if entityID == "" || strings.ContainsAny(entityID, `/\`) || strings.Contains(entityID, "..") {
		return nil, validationError(fmt.Errorf("invalid entity id %q", entityID))
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	key := filepath.Join(entityType+"s", entityID, uuid.New().String()+ext)
	target := filepath.Join(s.Root, key)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, storageError("create document dir", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*.tmp")
	if err != nil {
		return nil, storageError("create temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hasher, _ := blake2b.New256(nil)
	written, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(r, s.MaxSize+1))
	if err != nil {
		tmp.Close()
		return nil, storageError("write document file", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, storageError("close document file", err)
	}
	if written > s.MaxSize {
		return nil, validationError(fmt.Errorf("file exceeds %d bytes limit", s.MaxSize))
	}
	if err := os.Rename(tmpName, target); err != nil {
		return nil, storageError("store document file", err)
	}

	return &StoredFile{
		Path:     target,
		Key:      filepath.ToSlash(key),
		Name:     filepath.Base(fileName),
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает сохраненный файл
func (s *LocalFileStore) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound("file", path)
	}
	if err != nil {
		return nil, storageError("open document file", err)
	}
	return f, nil
}

// Remove удаляет файл и пустой каталог сущности
func (s *LocalFileStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return notFound("file", path)
	}
	if err != nil {
		return storageError("remove document file", err)
	}
	// каталог удаляется только если пуст
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// KeyFor возвращает ключ файла относительно корня хранилища
func (s *LocalFileStore) KeyFor(path string) (string, error) {
	rel, err := filepath.Rel(s.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", validationError(fmt.Errorf("path %s is outside documents root", path))
	}
	return filepath.ToSlash(rel), nil
}

// ChecksumFile считает blake2b-256 существующего файла
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher, _ := blake2b.New256(nil)
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
