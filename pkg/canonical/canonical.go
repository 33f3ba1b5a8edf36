// Package canonical implements the deterministic JSON encoding that every
// hash and signature in munin is computed over.
//
// The wire format is RFC 8785 (JSON Canonicalization Scheme): object keys
// sorted by UTF-16 code unit at every nesting level, no insignificant
// whitespace, numbers in their shortest round-trip form, and minimal
// string escaping. Structural canonicalization is delegated to
// github.com/gowebpki/jcs (an audited RFC 8785 implementation) rather than
// hand-rolled, so the only code here is the typed error contract and the
// JSON value model the rest of the core builds on.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Value is the sum type every canonicalizable payload is made of:
// Null | Bool | Number | String | Array | Object. It exists so components
// (decision scopes, audit payloads) can be built and inspected without
// depending on encoding/json's untyped interface{} directly.
type Value = interface{}

// ErrEncoding is returned when a value cannot be canonicalized: functions,
// channels, cyclic structures, NaN/Inf floats, or anything else
// encoding/json itself refuses.
type ErrEncoding struct {
	Err error
}

func (e *ErrEncoding) Error() string { return fmt.Sprintf("canonical: encoding failed: %v", e.Err) }
func (e *ErrEncoding) Unwrap() error { return e.Err }

// Marshal serializes v into its canonical JSON byte form. Byte-equality of
// the output is the correctness contract: two values that are the same
// logical JSON document (however their object keys were ordered on
// construction) must produce byte-identical output.
func Marshal(v Value) ([]byte, error) {
	// Pre-marshal with the standard encoder (handles struct tags, custom
	// MarshalJSON implementations, etc.) without HTML escaping, then hand
	// the structural form to the RFC 8785 transform for canonical key
	// ordering and number/string formatting.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, &ErrEncoding{Err: err}
	}

	raw := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})

	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, &ErrEncoding{Err: err}
	}
	return out, nil
}

// MarshalString is Marshal returning a string instead of a byte slice.
func MarshalString(v Value) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses canonical (or any valid) JSON bytes into the generic Value
// model, preserving numbers as json.Number so re-canonicalization does not
// lose precision or reformat integers as floats.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v Value
	if err := dec.Decode(&v); err != nil {
		return nil, &ErrEncoding{Err: err}
	}
	return v, nil
}
