// Package canon implements RFC 8785 JSON Canonicalization Scheme (JCS)
// encoding and SHA-256 content digesting over the canonical bytes.
//
// Grounded on _examples/lattice-substrate-json-canon/jcs and jcsfloat
// (re-derived here using strconv's shortest round-trip formatting rather
// than the reference's big.Int Burger-Dybvig digit generator) and on the
// teacher's hashing idiom in graph/checkpoint.go (computeIdempotencyKey)
// and graph/scheduler.go (computeOrderKey).
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrNonFinite is returned when canonicalization encounters NaN or ±Infinity,
// which RFC 8785 forbids.
var ErrNonFinite = errors.New("canon: non-finite number is not representable in JCS")

// Marshal produces the compact, canonical UTF-8 JSON encoding of v: object
// keys sorted lexicographically at every level, numbers formatted per
// ECMA-262 Number::toString, -0 normalized to 0, and undefined members
// (Go nils coming from omitted optional fields) omitted from objects but
// nulled inside arrays, mirroring JSON.stringify/JCS parity.
func Marshal(v any) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeValue(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toGeneric round-trips v through encoding/json (preserving number
// precision via json.Number) to obtain a canonical Go representation of
// maps/slices/scalars we can sort and reformat deterministically.
func toGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal input: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canon: decode input: %w", err)
	}
	return generic, nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return encodeNumber(buf, t)
	case string:
		encodeString(buf, t)
		return nil
	case []any:
		return encodeArray(buf, t)
	case map[string]any:
		return encodeObject(buf, t)
	default:
		return fmt.Errorf("canon: unsupported value of type %T", v)
	}
}

func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canon: invalid number %q: %w", n, err)
	}
	s, err := FormatNumber(f)
	if err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func encodeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		// A Go nil inside a slice models a JSON null already (decoded from
		// "null"); JCS/JSON.stringify parity requires undefined array
		// elements to become null, which json.Unmarshal already does for us.
		if err := encodeValue(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	first := true
	for _, k := range keys {
		val := obj[k]
		if !first {
			buf.WriteByte(',')
		}
		first = false
		encodeString(buf, k)
		buf.WriteByte(':')
		if err := encodeValue(buf, val); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// encodeString writes s as a minimal, valid JSON string literal.
func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// FormatNumber formats f per the ECMA-262 Number::toString algorithm
// (radix 10), which RFC 8785 mandates for JSON number literals. -0 is
// normalized to "0". NaN and ±Infinity return ErrNonFinite.
func FormatNumber(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", ErrNonFinite
	}
	if f == 0 {
		return "0", nil
	}
	neg := f < 0
	if neg {
		f = -f
	}
	digits, n := shortestDigits(f)
	return layoutECMA(neg, digits, n), nil
}

// shortestDigits returns the shortest round-tripping decimal significand
// (no trailing zeros, no leading zeros, no sign, no decimal point) and n,
// the number of digits that would appear to the left of the decimal point
// if digits were laid out in fixed notation (i.e. value == 0.digits * 10^n
// in the ECMA-262 sense).
func shortestDigits(f float64) (digits string, n int) {
	s := strconv.FormatFloat(f, 'e', -1, 64)
	eIdx := strings.IndexByte(s, 'e')
	mantissa := s[:eIdx]
	exp, _ := strconv.Atoi(s[eIdx+1:])
	mantissa = strings.Replace(mantissa, ".", "", 1)
	mantissa = strings.TrimRight(mantissa, "0")
	if mantissa == "" {
		mantissa = "0"
	}
	return mantissa, exp + 1
}

// layoutECMA applies ECMA-262 Number::toString steps 6-9: choose between
// integer-fixed, fraction-fixed, small-fraction, and exponential layouts.
func layoutECMA(neg bool, digits string, n int) string {
	k := len(digits)
	var buf strings.Builder
	if neg {
		buf.WriteByte('-')
	}
	switch {
	case k <= n && n <= 21:
		buf.WriteString(digits)
		for i := 0; i < n-k; i++ {
			buf.WriteByte('0')
		}
	case 0 < n && n <= 21:
		buf.WriteString(digits[:n])
		buf.WriteByte('.')
		buf.WriteString(digits[n:])
	case -6 < n && n <= 0:
		buf.WriteString("0.")
		for i := 0; i < -n; i++ {
			buf.WriteByte('0')
		}
		buf.WriteString(digits)
	default:
		buf.WriteByte(digits[0])
		if k > 1 {
			buf.WriteByte('.')
			buf.WriteString(digits[1:])
		}
		buf.WriteByte('e')
		exp := n - 1
		if exp >= 0 {
			buf.WriteByte('+')
		} else {
			buf.WriteByte('-')
			exp = -exp
		}
		buf.WriteString(strconv.Itoa(exp))
	}
	return buf.String()
}

// SHA256Hex returns the canonical "sha256:<64 lowercase hex>" digest string
// over raw bytes.
func SHA256Hex(raw []byte) string {
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Digest canonicalizes v via Marshal and returns its "sha256:<hex>" digest
// along with the canonical bytes (callers that also need to persist the
// canonical form, e.g. snapshot/pinned-workflow stores, avoid a second pass).
func Digest(v any) (digest string, canonicalBytes []byte, err error) {
	b, err := Marshal(v)
	if err != nil {
		return "", nil, err
	}
	return SHA256Hex(b), b, nil
}
