// Package kv holds the value rules shared by every storage backend.
package kv

import (
	"encoding/json"
	"errors"
)

// ErrInvalidValue is returned when Set is given something other than a JSON document.
var ErrInvalidValue = errors.New("value is not a JSON document")

// Validate returns ErrInvalidValue unless value is a JSON document.
func Validate(value []byte) error {
	if !json.Valid(value) {
		return ErrInvalidValue
	}
	return nil
}
