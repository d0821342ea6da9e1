package models

import (
	"errors"
	"fmt"
)

// Custom errors
var (
	ErrInvalidIdentity = errors.New("invalid backtest identity")
	ErrInvalidRecord   = errors.New("invalid backtest record")
)

// InvalidIdentityError reports a digest that is not 64 lowercase hex characters.
type InvalidIdentityError struct {
	Field string
	Value string
}

func (e *InvalidIdentityError) Error() string {
	return fmt.Sprintf("invalid hash format for %s: %q", e.Field, e.Value)
}

// Is makes errors.Is(err, ErrInvalidIdentity) match.
func (e *InvalidIdentityError) Is(target error) bool {
	return target == ErrInvalidIdentity
}
