package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"reflect"
)

// ErrPayloadNotObject is returned by ValidatePayload for JSON values that are
// not objects.
var ErrPayloadNotObject = errors.New("payload must be a JSON object")

// SamePayload reports whether two payloads carry the same fields and values,
// ignoring key order and whitespace. Numbers compare by exact decimal value,
// so 1 and 1.0 match but integers beyond float64 precision stay distinct.
// An absent payload equals JSON null.
// Payloads that fail to decode are only equal when byte-identical.
func SamePayload(a, b json.RawMessage) bool {
	a, b = bytes.TrimSpace(a), bytes.TrimSpace(b)
	if bytes.Equal(a, b) {
		return true
	}
	va, okA := decodePayload(a)
	vb, okB := decodePayload(b)
	if !okA || !okB {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func decodePayload(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 {
		return nil, true
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	v, ok := normalizeNumbers(v)
	return v, ok
}

// exactNumber is a JSON number as a rational in lowest terms. Its own type
// keeps it distinct from a string holding the same digits.
type exactNumber string

// normalizeNumbers replaces every json.Number in v by its exactNumber.
func normalizeNumbers(v any) (any, bool) {
	switch x := v.(type) {
	case json.Number:
		r, ok := new(big.Rat).SetString(string(x))
		if !ok {
			return nil, false
		}
		return exactNumber(r.RatString()), true
	case map[string]any:
		for k, el := range x {
			n, ok := normalizeNumbers(el)
			if !ok {
				return nil, false
			}
			x[k] = n
		}
	case []any:
		for i, el := range x {
			n, ok := normalizeNumbers(el)
			if !ok {
				return nil, false
			}
			x[i] = n
		}
	}
	return v, true
}

// ValidatePayload checks that raw is empty, null or a JSON object.
func ValidatePayload(raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if !json.Valid(raw) {
		return errors.New("payload is not valid JSON")
	}
	if raw[0] != '{' {
		return ErrPayloadNotObject
	}
	return nil
}
