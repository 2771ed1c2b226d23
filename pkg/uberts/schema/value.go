package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cognicore/uberts/pkg/uberts/internalerr"
)

// Kind is the closed set of value representations a node type may carry.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindRef:
		return "ref"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps the names used in def lines ("string", "int", "ref") to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "string", "str":
		return KindString, nil
	case "int", "integer":
		return KindInt, nil
	case "ref":
		return KindRef, nil
	}
	return 0, fmt.Errorf("unknown kind %q: %w", s, internalerr.ErrInvalidInput)
}

// Value is a small tagged variant: an integer, a string, or a reference to
// another fact (by its structural key).
type Value struct {
	kind Kind
	i    int64
	s    string
}

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Ref returns a reference value pointing at the fact with the given key.
func Ref(key string) Value { return Value{kind: KindRef, s: key} }

func (v Value) Kind() Kind { return v.kind }

// Int returns the integer payload; zero for other kinds.
func (v Value) Int() int64 { return v.i }

// Str returns the string payload of string and ref values.
func (v Value) Str() string { return v.s }

func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.i == o.i && v.s == o.s
}

// String renders the value the way it appears in relation data files.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindRef:
		return "&" + v.s
	}
	return v.s
}

// Literal renders the value the way it appears in rule text. Strings are
// always quoted so that they never read as variables.
func (v Value) Literal() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindRef:
		return "&" + strconv.Quote(v.s)
	}
	return strconv.Quote(v.s)
}

// ParseValue reads text as a value of the given kind. Quoted text is
// unquoted first, which lets rule literals and data files share this path.
func ParseValue(kind Kind, text string) (Value, error) {
	text = strings.TrimSpace(text)
	switch kind {
	case KindInt:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not an integer: %w", text, internalerr.ErrInvalidValue)
		}
		return Int(i), nil
	case KindRef:
		text = strings.TrimPrefix(text, "&")
		if s, err := strconv.Unquote(text); err == nil {
			text = s
		}
		if text == "" {
			return Value{}, fmt.Errorf("empty reference: %w", internalerr.ErrInvalidValue)
		}
		return Ref(text), nil
	default:
		if len(text) >= 2 && text[0] == '"' {
			s, err := strconv.Unquote(text)
			if err != nil {
				return Value{}, fmt.Errorf("bad string literal %s: %w", text, internalerr.ErrInvalidValue)
			}
			return String(s), nil
		}
		return String(text), nil
	}
}
