package funcache

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// keyField is one argument field that participates in key derivation.
type keyField struct {
	index int
	name  string
}

// keyer derives cache keys for a single wrapped function. The field
// plan is computed once at wrap time; derivation itself only encodes
// and hashes.
type keyer struct {
	fn      string
	prefix  string
	fields  []keyField
	initErr error
}

// newKeyer builds the field plan for the args struct type. Fields are
// dropped from derivation in order: unexported fields, fields tagged
// `cache:"-"`, then fields named in exclude. A `cache:"name"` tag
// renames the field in the encoding, so keys survive source-level
// renames. Any remaining field with no stable encoding poisons the
// keyer, and every later derivation returns the same error.
func newKeyer(fn, prefix string, argsType reflect.Type, exclude []string) *keyer {
	k := &keyer{fn: fn, prefix: prefix}
	if argsType.Kind() != reflect.Struct {
		k.initErr = &KeyDerivationError{
			Func:  fn,
			Field: "(args)",
			Err:   fmt.Errorf("args type %s is not a struct", argsType),
		}
		return k
	}
	for i := 0; i < argsType.NumField(); i++ {
		f := argsType.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("cache")
		if tag == "-" {
			continue
		}
		if slices.Contains(exclude, f.Name) {
			continue
		}
		name := f.Name
		if tag != "" {
			name = tag
		}
		if err := derivableType(f.Type); err != nil {
			k.initErr = &KeyDerivationError{Func: fn, Field: name, Err: err}
			return k
		}
		k.fields = append(k.fields, keyField{index: i, name: name})
	}
	sort.Slice(k.fields, func(i, j int) bool {
		return k.fields[i].name < k.fields[j].name
	})
	return k
}

// derivableType rejects types that cannot produce a stable encoding.
// Only the top level is checked; values nested inside interfaces or
// containers are caught at encode time with the field attributed.
func derivableType(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Func:
		return errors.New("func values have no stable encoding")
	case reflect.Chan:
		return errors.New("chan values have no stable encoding")
	case reflect.UnsafePointer:
		return errors.New("unsafe.Pointer values have no stable encoding")
	case reflect.Complex64, reflect.Complex128:
		return errors.New("complex values have no stable encoding")
	}
	return nil
}

// digest encodes the participating fields as a sorted msgpack map and
// hashes the bytes. Sorting covers both the field order here and any
// maps nested inside the values, so equal inputs always produce equal
// digests.
func (k *keyer) digest(args any) (string, error) {
	if k.initErr != nil {
		return "", k.initErr
	}
	v := reflect.ValueOf(args)
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.EncodeMapLen(len(k.fields)); err != nil {
		return "", fmt.Errorf("funcache: encode args for %s: %w", k.fn, err)
	}
	for _, f := range k.fields {
		if err := enc.EncodeString(f.name); err != nil {
			return "", fmt.Errorf("funcache: encode args for %s: %w", k.fn, err)
		}
		if err := enc.Encode(v.Field(f.index).Interface()); err != nil {
			return "", &KeyDerivationError{Func: k.fn, Field: f.name, Err: err}
		}
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(buf.Bytes())), nil
}

// key returns the key for args inside the function's namespace: the
// owner, region segment and function name fixed at wrap time, followed
// by the argument digest. The owner's configured key prefix is not
// included; callers prepend it.
func (k *keyer) key(args any) (string, error) {
	digest, err := k.digest(args)
	if err != nil {
		return "", err
	}
	return k.prefix + digest, nil
}
