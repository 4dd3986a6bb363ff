package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrStorage    = errors.New("storage error")
)

// validationError оборачивает ошибку проверки данных
func validationError(err error) error {
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// notFound формирует ошибку отсутствующей сущности
func notFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}

// storageError оборачивает ошибку хранилища с описанием операции
func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

// lookupError переводит ошибку выборки одной записи в NotFound или Storage
func lookupError(entity, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(entity, id)
	}
	return storageError("load "+entity, err)
}

// passThrough сохраняет уже классифицированные ошибки, остальные считает ошибками хранилища
func passThrough(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrNotFound, ErrConflict, ErrValidation, ErrStorage} {
		if errors.Is(err, known) {
			return err
		}
	}
	return storageError(op, err)
}
