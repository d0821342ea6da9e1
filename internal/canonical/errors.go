package canonical

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsortable indicates an unordered collection mixes element kinds that have no
	// defined cross-kind ordering.
	ErrUnsortable = errors.New("unsortable collection")

	// ErrUnsupportedValue indicates a value that has no canonical form (NaN, channels, raw bytes, ...).
	ErrUnsupportedValue = errors.New("unsupported value")
)

// CanonicalizationError reports where normalization failed and why.
type CanonicalizationError struct {
	Path   string
	Detail string
	Err    error
}

func (e *CanonicalizationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("canonicalize %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("canonicalize %s: %v: %s", e.Path, e.Err, e.Detail)
}

func (e *CanonicalizationError) Unwrap() error {
	return e.Err
}

func unsortable(path string, first, other kind) error {
	return &CanonicalizationError{
		Path:   path,
		Detail: fmt.Sprintf("cannot order %s elements against %s elements", first, other),
		Err:    ErrUnsortable,
	}
}

func unsupported(path string, detail string) error {
	return &CanonicalizationError{Path: path, Detail: detail, Err: ErrUnsupportedValue}
}
