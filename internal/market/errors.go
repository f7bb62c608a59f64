package market

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidNumber    = errors.New("invalid number")
	ErrInvalidTimeframe = errors.New("invalid timeframe")
	ErrInvalidOperator  = errors.New("invalid operator")
	ErrDataUnavailable  = errors.New("data unavailable")
)

// InputError carries the offending user input along with its kind
type InputError struct {
	Kind  error
	Field string
	Value string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s %q", e.Kind, e.Value)
}

func (e *InputError) Unwrap() error { return e.Kind }

func invalid(kind error, field, value string) error {
	return &InputError{Kind: kind, Field: field, Value: value}
}
