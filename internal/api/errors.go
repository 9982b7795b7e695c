package api

import (
	"fmt"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/repository"
)

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", repository.ErrValidation, fmt.Sprintf(format, args...))
}
