// Package resp implements the RESP wire protocol used for client
// traffic and inter-node replication.
//
// https://redis.io/docs/reference/protocol-spec/
package resp

import (
	"strconv"
	"strings"
)

// Kind identifies the concrete type a Value holds.
type Kind uint8

const (
	KindSimpleString Kind = iota
	KindSimpleError
	KindInteger
	KindBulkString
	KindNull
	KindArray
)

// Value is a single RESP value. Only the fields relevant to Kind are
// populated; callers switch on Kind rather than checking field
// zero-values.
type Value struct {
	Kind  Kind
	Str   string  // SimpleString, SimpleError
	Int   int64   // Integer
	Bulk  []byte  // BulkString
	Array []Value // Array
}

// SimpleString builds a SimpleString value.
func SimpleString(s string) Value { return Value{Kind: KindSimpleString, Str: s} }

// SimpleError builds a SimpleError value.
func SimpleError(s string) Value { return Value{Kind: KindSimpleError, Str: s} }

// Integer builds an Integer value.
func Integer(i int64) Value { return Value{Kind: KindInteger, Int: i} }

// BulkString builds a BulkString value.
func BulkString(b []byte) Value { return Value{Kind: KindBulkString, Bulk: b} }

// Null is the RESP null bulk string, `$-1\r\n`.
var Null = Value{Kind: KindNull}

// Array builds an Array value.
func Array(vs ...Value) Value { return Value{Kind: KindArray, Array: vs} }

// String coerces text to a RESP value: text containing whitespace or
// control characters is emitted as a bulk string, otherwise as a
// simple string. This mirrors the convenience rule callers use when
// turning a plain Go string into a reply.
func String(s string) Value {
	if needsBulk(s) {
		return BulkString([]byte(s))
	}
	return SimpleString(s)
}

func needsBulk(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return r <= ' ' || r == 0x7f
	}) >= 0
}

// AsBulk returns the value's bytes as if it were a BulkString,
// accepting SimpleString too for convenience at call sites that don't
// care which flavor of string they got back.
func (v Value) AsBulk() ([]byte, bool) {
	switch v.Kind {
	case KindBulkString:
		return v.Bulk, true
	case KindSimpleString:
		return []byte(v.Str), true
	default:
		return nil, false
	}
}

// AsString is AsBulk with the result converted to a string.
func (v Value) AsString() (string, bool) {
	b, ok := v.AsBulk()
	if !ok {
		return "", false
	}
	return string(b), true
}

// AsInteger parses the value as a decimal integer. BulkString and
// SimpleString values are parsed as decimal text; Integer values are
// returned directly.
func (v Value) AsInteger() (int64, bool) {
	switch v.Kind {
	case KindInteger:
		return v.Int, true
	case KindBulkString, KindSimpleString:
		s, _ := v.AsString()
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
