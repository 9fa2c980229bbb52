package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// CanonicalKey builds the canonical JSON key a store indexes for one
// schema-declared unique property set.
//
// The result is deterministic across processes and platforms: object keys
// are sorted by UTF-16 code units per RFC 8785, strings are NFC
// normalized, and HTML characters are not escaped. Equal property values
// therefore always produce byte-identical keys.
//
// Floats are rejected: their formatting is not stable enough to anchor a
// uniqueness constraint. Missing properties encode as JSON null so that
// ("a", nil) and ("a",) project differently only by field list.
func CanonicalKey(entity string, props map[string]any, fields []string) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"entity":`)
	s, err := canonicalString(entity)
	if err != nil {
		return "", err
	}
	buf.Write(s)
	for _, f := range sortedUTF16(fields) {
		buf.WriteByte(',')
		k, err := canonicalString(f)
		if err != nil {
			return "", err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := canonicalValue(props[f])
		if err != nil {
			return "", fmt.Errorf("field %q: %w", f, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

func canonicalValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case string:
		return canonicalString(val)
	case int:
		return fmt.Appendf(nil, "%d", val), nil
	case int64:
		return fmt.Appendf(nil, "%d", val), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case time.Time:
		return canonicalString(val.UTC().Format(time.RFC3339Nano))
	case ID:
		return canonicalString(val.String())
	case float32, float64:
		return nil, fmt.Errorf("floats cannot participate in unique keys: %v", val)
	default:
		return nil, fmt.Errorf("unsupported unique-key type %T", v)
	}
}

// canonicalString encodes s per RFC 8785: NFC normalized, no HTML escaping.
func canonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// sortedUTF16 returns a copy of keys sorted by UTF-16 code units, the
// RFC 8785 member ordering.
func sortedUTF16(keys []string) []string {
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b string) int {
		ua, ub := utf16.Encode([]rune(a)), utf16.Encode([]rune(b))
		for i := 0; i < len(ua) && i < len(ub); i++ {
			if ua[i] != ub[i] {
				if ua[i] < ub[i] {
					return -1
				}
				return 1
			}
		}
		return len(ua) - len(ub)
	})
	return out
}
