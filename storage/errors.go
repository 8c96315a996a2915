package storage

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/sruthiidv/BallotGuard-sub000/models"
)

// isDuplicate reports a unique constraint violation. TranslateError covers
// both drivers; the message checks catch errors raised outside the translator.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// isSerializationFailure matches postgres SQLSTATE 40001 and sqlite lock
// contention
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "40001") ||
		strings.Contains(msg, "could not serialize") ||
		strings.Contains(msg, "database is locked")
}

func conflict(err error) error {
	return models.WrapError(models.KindStateConflict, models.CodeStateConflict, "concurrent modification", err)
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NotFound(entity, id)
	}
	return err
}

// translate maps driver and context errors onto the core error kinds
func translate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := models.AsError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		(ctx != nil && ctx.Err() != nil) {
		return models.Timeout(err)
	}
	if isDuplicate(err) || isSerializationFailure(err) {
		return conflict(err)
	}
	return models.StorageError(err)
}
