// Package canonical serializes structured data into a deterministic JSON
// byte form. Two deep-equal values always produce identical bytes: object
// keys are sorted lexicographically (byte-wise) at every nesting level,
// array order is preserved, numbers use a single shortest representation
// and strings use one fixed escaping table. The signature computed over a
// document is only reproducible because of these guarantees.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupportedValue classifies values with no canonical form
	// (NaN, infinities, channels, functions).
	ErrUnsupportedValue = errors.New("canonical: unsupported value")
)

// Marshal returns the canonical byte form of value. Arbitrary Go values are
// first normalized through encoding/json semantics, so anything that
// json.Marshal accepts is accepted here.
func Marshal(value any) ([]byte, error) {
	normalized, err := normalize(value)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := appendValue(&buf, normalized); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalString is Marshal returning a string.
func MarshalString(value any) (string, error) {
	raw, err := Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Equal reports whether two values share the same canonical form.
func Equal(a, b any) (bool, error) {
	rawA, err := Marshal(a)
	if err != nil {
		return false, err
	}
	rawB, err := Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(rawA, rawB), nil
}

// normalize reduces an arbitrary Go value to the JSON data model
// (nil, bool, float64/json.Number, string, []any, map[string]any).
func normalize(value any) (any, error) {
	switch v := value.(type) {
	case nil, bool, string, float64, float32, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v, nil
	case []any:
		return v, nil
	case map[string]any:
		return v, nil
	case json.RawMessage:
		return decodeJSON(v)
	}

	// Structs, typed slices, typed maps: round-trip through encoding/json.
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Join(ErrUnsupportedValue, err)
	}
	return decodeJSON(encoded)
}

func decodeJSON(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, errors.Join(ErrUnsupportedValue, err)
	}
	return out, nil
}

func appendValue(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		appendString(buf, v)
		return nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("%w: number %q", ErrUnsupportedValue, v.String())
		}
		return appendNumber(buf, f)
	case float64:
		return appendNumber(buf, v)
	case float32:
		return appendNumber(buf, float64(v))
	case int:
		return appendNumber(buf, float64(v))
	case int8:
		return appendNumber(buf, float64(v))
	case int16:
		return appendNumber(buf, float64(v))
	case int32:
		return appendNumber(buf, float64(v))
	case int64:
		return appendNumber(buf, float64(v))
	case uint:
		return appendNumber(buf, float64(v))
	case uint8:
		return appendNumber(buf, float64(v))
	case uint16:
		return appendNumber(buf, float64(v))
	case uint32:
		return appendNumber(buf, float64(v))
	case uint64:
		return appendNumber(buf, float64(v))
	case []any:
		buf.WriteByte('[')
		for idx, element := range v {
			if idx > 0 {
				buf.WriteByte(',')
			}
			normalized, err := normalize(element)
			if err != nil {
				return err
			}
			if err := appendValue(buf, normalized); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for idx, key := range keys {
			if idx > 0 {
				buf.WriteByte(',')
			}
			appendString(buf, key)
			buf.WriteByte(':')
			normalized, err := normalize(v[key])
			if err != nil {
				return err
			}
			if err := appendValue(buf, normalized); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		normalized, err := normalize(value)
		if err != nil {
			return err
		}
		return appendValue(buf, normalized)
	}
}

// appendNumber writes the shortest textual representation that round-trips
// the value, so "100.50" and "100.5" collapse to the same bytes.
func appendNumber(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: non-finite number", ErrUnsupportedValue)
	}
	if f == 0 {
		// Also folds negative zero.
		buf.WriteByte('0')
		return nil
	}

	abs := math.Abs(f)
	var formatted string
	if abs >= 1e-6 && abs < 1e21 {
		formatted = strconv.FormatFloat(f, 'f', -1, 64)
	} else {
		formatted = strconv.FormatFloat(f, 'e', -1, 64)
		formatted = trimExponentZeros(formatted)
	}
	buf.WriteString(formatted)
	return nil
}

// trimExponentZeros rewrites "1e-07" as "1e-7" so exponents have one
// canonical form.
func trimExponentZeros(s string) string {
	idx := strings.IndexByte(s, 'e')
	if idx < 0 {
		return s
	}
	mantissa, exponent := s[:idx], s[idx+1:]
	sign := ""
	if len(exponent) > 0 && (exponent[0] == '+' || exponent[0] == '-') {
		sign = string(exponent[0])
		exponent = exponent[1:]
	}
	exponent = strings.TrimLeft(exponent, "0")
	if exponent == "" {
		exponent = "0"
	}
	return mantissa + "e" + sign + exponent
}

const hexDigits = "0123456789abcdef"

// appendString writes a JSON string using one fixed escaping table:
// the named escapes for the common control characters, \u00XX for the
// remaining ones, and literal UTF-8 for everything else.
func appendString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[byte(r)>>4])
				buf.WriteByte(hexDigits[byte(r)&0xf])
				continue
			}
			if r == utf8.RuneError {
				// Invalid UTF-8 input byte: keep a stable replacement.
				buf.WriteRune(utf8.RuneError)
				continue
			}
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}
