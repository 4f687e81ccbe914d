package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// CanonicalizeJSON re-encodes a JSON document following RFC 8785 (JCS).
func CanonicalizeJSON(input []byte) ([]byte, error) {
	value, err := DecodeJSON(input)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	if err := writeCanonical(buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalizeAny canonicalizes Go values, raw JSON and anything encoding/json can marshal.
func CanonicalizeAny(v any) ([]byte, error) {
	switch value := v.(type) {
	case json.RawMessage:
		return CanonicalizeJSON(value)
	case []byte:
		return CanonicalizeJSON(value)
	case nil, bool, string, json.Number, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, map[string]any, []any:
		buf := &bytes.Buffer{}
		if err := writeCanonical(buf, value); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal %T: %w", v, err)
		}
		return CanonicalizeJSON(b)
	}
}

// DecodeJSON decodes exactly one JSON value, keeping numbers as json.Number.
func DecodeJSON(input []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return nil, errors.New("invalid JSON: trailing data")
	}
	return value, nil
}

func writeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case string:
		writeString(buf, v)
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return fmt.Errorf("invalid JSON number: %w", err)
		}
		return writeNumber(buf, f)
	case json.RawMessage:
		decoded, err := DecodeJSON(v)
		if err != nil {
			return err
		}
		return writeCanonical(buf, decoded)
	case float64:
		return writeNumber(buf, v)
	case float32:
		return writeNumber(buf, float64(v))
	case int:
		return writeNumber(buf, float64(v))
	case int8:
		return writeNumber(buf, float64(v))
	case int16:
		return writeNumber(buf, float64(v))
	case int32:
		return writeNumber(buf, float64(v))
	case int64:
		return writeNumber(buf, float64(v))
	case uint:
		return writeNumber(buf, float64(v))
	case uint8:
		return writeNumber(buf, float64(v))
	case uint16:
		return writeNumber(buf, float64(v))
	case uint32:
		return writeNumber(buf, float64(v))
	case uint64:
		return writeNumber(buf, float64(v))
	case map[string]any:
		return writeObject(buf, v)
	case []any:
		return writeArray(buf, v)
	default:
		return fmt.Errorf("unsupported JSON type %T", value)
	}
	return nil
}

func writeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	// JCS orders keys by UTF-16 code units.
	sort.Slice(keys, func(i, j int) bool { return lessUTF16(keys[i], keys[j]) })

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		if err := writeCanonical(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(buf, item); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func lessUTF16(a, b string) bool {
	ua := utf16Units(a)
	ub := utf16Units(b)
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

func utf16Units(s string) []uint16 {
	out := make([]uint16, 0, len(s))
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			out = append(out, uint16(0xd800+(r>>10)), uint16(0xdc00+(r&0x3ff)))
			continue
		}
		out = append(out, uint16(r))
	}
	return out
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
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
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

var hexLower = []byte("0123456789abcdef")

// writeNumber emits the ECMAScript Number.prototype.toString form required by JCS.
func writeNumber(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errors.New("invalid JSON number")
	}
	if f == 0 {
		buf.WriteByte('0')
		return nil
	}
	if f < 0 {
		buf.WriteByte('-')
		f = -f
	}

	s := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, expPart, _ := strings.Cut(s, "e")
	exp, err := strconv.Atoi(expPart)
	if err != nil {
		return fmt.Errorf("invalid float exponent: %w", err)
	}
	digits := strings.ReplaceAll(mantissa, ".", "")

	switch {
	case exp <= -7 || exp >= 21:
		buf.WriteString(digits[:1])
		if len(digits) > 1 {
			buf.WriteByte('.')
			buf.WriteString(digits[1:])
		}
		buf.WriteByte('e')
		if exp > 0 {
			buf.WriteByte('+')
		}
		buf.WriteString(strconv.Itoa(exp))
	case exp+1 >= len(digits):
		buf.WriteString(digits)
		buf.WriteString(strings.Repeat("0", exp+1-len(digits)))
	case exp+1 <= 0:
		buf.WriteString("0.")
		buf.WriteString(strings.Repeat("0", -(exp + 1)))
		buf.WriteString(digits)
	default:
		buf.WriteString(digits[:exp+1])
		buf.WriteByte('.')
		buf.WriteString(digits[exp+1:])
	}
	return nil
}
