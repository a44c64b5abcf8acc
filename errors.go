package funcache

import (
	"errors"
	"fmt"
)

// ErrKeyNotFound is returned by Get when no live entry exists for the
// derived key. Lookup reports absence with a bool instead.
var ErrKeyNotFound = errors.New("funcache: key not found")

// ErrAmbiguousClear is returned when a ClearRequest combines scopes in a
// way the clear matrix leaves undefined: a TTL without a backend kind,
// or a kind and tag together without a TTL. Nothing is cleared.
var ErrAmbiguousClear = errors.New("funcache: ambiguous clear request")

// KeyDerivationError reports an argument field whose value cannot take
// part in a cache key. Derivation never degrades to a partial or
// identity-based key; the call fails instead.
type KeyDerivationError struct {
	Func  string
	Field string
	Err   error
}

func (e *KeyDerivationError) Error() string {
	return fmt.Sprintf("funcache: cannot derive key for %s: field %s: %v", e.Func, e.Field, e.Err)
}

func (e *KeyDerivationError) Unwrap() error {
	return e.Err
}
