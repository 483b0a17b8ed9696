package sqlstore

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/timmy-time/catalyst/internal/store"
)

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// translate maps gorm.ErrRecordNotFound onto store.ErrNotFound and wraps
// every other error with the given context.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return fmt.Errorf("sqlstore: %s: %w", op, err)
}
