// Package events converts ESP event messages into tables of typed values.
//
// Every ESP field type has a Go representation:
//
//	int32        int32
//	int64        int64
//	double       float64 (empty or "nan" values decode to NaN)
//	date         time.Time, epoch seconds on the wire
//	stamp        time.Time, epoch microseconds on the wire
//	money        decimal.Decimal
//	blob         []byte, base64 on the wire
//	string       string
//	array(dbl)   []float64, "[1;2;3]" on the wire
//	array(i32)   []int32
//	array(i64)   []int64
//
// Unknown types pass through as strings. Decode and Encode are inverses.
package events

import (
	"encoding/base64"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/schema"
)

var arrayStripRe = regexp.MustCompile(`[\[\]\s+]`)

func decodeErr(value, dtype string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%q as %s: %w", value, dtype, err), "events", "Decode", "convert value")
}

// Decode converts a wire value to its Go representation
func Decode(value, dtype string) (any, error) {
	switch schema.CleanType(dtype) {
	case "date":
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, decodeErr(value, dtype, err)
		}
		return time.Unix(n, 0).UTC(), nil
	case "stamp":
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, decodeErr(value, dtype, err)
		}
		return time.UnixMicro(n).UTC(), nil
	case "double":
		return parseFloat(value, dtype)
	case "int32":
		n, err := parseDecimalInt(value, 32)
		if err != nil {
			return nil, decodeErr(value, dtype, err)
		}
		return int32(n), nil
	case "int64":
		n, err := parseDecimalInt(value, 64)
		if err != nil {
			return nil, decodeErr(value, dtype, err)
		}
		return n, nil
	case "money":
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, decodeErr(value, dtype, err)
		}
		return d, nil
	case "blob":
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
		if err != nil {
			return nil, decodeErr(value, dtype, err)
		}
		return b, nil
	case "array(dbl)":
		return decodeArray(value, dtype, func(s string) (float64, error) {
			f, err := parseFloat(s, dtype)
			return f, err
		})
	case "array(i32)":
		return decodeArray(value, dtype, func(s string) (int32, error) {
			n, err := parseDecimalInt(s, 32)
			return int32(n), err
		})
	case "array(i64)":
		return decodeArray(value, dtype, func(s string) (int64, error) {
			return parseDecimalInt(s, 64)
		})
	default:
		return value, nil
	}
}

func parseFloat(value, dtype string) (float64, error) {
	s := strings.TrimSpace(value)
	if s == "" || strings.Contains(strings.ToLower(s), "nan") {
		return math.NaN(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, decodeErr(value, dtype, err)
	}
	return f, nil
}

// parseDecimalInt accepts integral decimals such as "3" or "3.0"
func parseDecimalInt(value string, bits int) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("not an integer")
	}
	n := d.IntPart()
	if bits == 32 && (n > math.MaxInt32 || n < math.MinInt32) {
		return 0, fmt.Errorf("out of int32 range")
	}
	if !decimal.NewFromInt(n).Equal(d) {
		return 0, fmt.Errorf("out of int64 range")
	}
	return n, nil
}

func decodeArray[T any](value, dtype string, conv func(string) (T, error)) ([]T, error) {
	if !strings.HasPrefix(strings.TrimLeft(value, " \t\r\n"), "[") {
		v, err := conv(value)
		if err != nil {
			return nil, decodeErr(value, dtype, err)
		}
		return []T{v}, nil
	}
	body := arrayStripRe.ReplaceAllString(value, "")
	if body == "" {
		return []T{}, nil
	}
	parts := strings.Split(body, ";")
	out := make([]T, 0, len(parts))
	for _, p := range parts {
		v, err := conv(p)
		if err != nil {
			return nil, decodeErr(value, dtype, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Encode converts a Go value to its wire form for dtype
func Encode(value any, dtype string) (string, error) {
	if value == nil {
		return "", nil
	}
	switch schema.CleanType(dtype) {
	case "date":
		t, ok := value.(time.Time)
		if !ok {
			return scalarString(value)
		}
		return strconv.FormatInt(t.Unix(), 10), nil
	case "stamp":
		t, ok := value.(time.Time)
		if !ok {
			return scalarString(value)
		}
		return strconv.FormatInt(t.UnixMicro(), 10), nil
	case "blob":
		switch b := value.(type) {
		case []byte:
			return base64.StdEncoding.EncodeToString(b), nil
		case string:
			return base64.StdEncoding.EncodeToString([]byte(b)), nil
		}
	case "array(dbl)", "array(i32)", "array(i64)":
		return encodeArray(value)
	}
	return scalarString(value)
}

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return "nan"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func scalarString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return formatFloat(v), nil
	case float32:
		return formatFloat(float64(v)), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		return strconv.FormatBool(v), nil
	case decimal.Decimal:
		return v.String(), nil
	case time.Time:
		return strconv.FormatInt(v.UnixMicro(), 10), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", errors.Invalidf(errors.ErrInvalidValue, "events", "Encode", "unsupported value type %T", value)
	}
}

func encodeArray(value any) (string, error) {
	var parts []string
	switch v := value.(type) {
	case []float64:
		for _, f := range v {
			parts = append(parts, formatFloat(f))
		}
	case []int32:
		for _, n := range v {
			parts = append(parts, strconv.FormatInt(int64(n), 10))
		}
	case []int64:
		for _, n := range v {
			parts = append(parts, strconv.FormatInt(n, 10))
		}
	case []int:
		for _, n := range v {
			parts = append(parts, strconv.Itoa(n))
		}
	default:
		s, err := scalarString(value)
		if err != nil {
			return "", err
		}
		return s, nil
	}
	return "[" + strings.Join(parts, ";") + "]", nil
}
