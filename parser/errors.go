package parser

import (
	"emperror.dev/errors"
	"fmt"
)

var (
	ErrTemplateEmpty      = errors.Sentinel("parser: settings template is empty")
	ErrTemplateNotMapping = errors.Sentinel("parser: settings template root must be a mapping")
)

// CoercionError is returned when an override cannot be converted into the
// declared type of the setting it targets. Nothing is written when one is
// returned.
type CoercionError struct {
	Field Field
	Value string
	Err   error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("parser: cannot use %s=%q for %s: expected %s value", e.Field.Env, e.Value, e.Field.Path, e.Field.Kind)
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}
