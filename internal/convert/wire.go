// Package convert turns domain values into wire-safe JSON primitives and
// parses wire timestamps and identifiers back.
package convert

import (
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// WireTimeLayout is RFC 3339 in UTC with millisecond precision.
const WireTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// SanitizeValue converts v using a fixed table:
//
//	uuid.UUID   -> canonical string (uuid.Nil -> null)
//	time.Time   -> WireTimeLayout in UTC (zero -> null)
//	[]byte      -> standard base64
//	maps/slices -> converted element-wise
//
// Strings, booleans and numbers pass through. Anything else is an error.
func SanitizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case uuid.UUID:
		if x == uuid.Nil {
			return nil, nil
		}
		return x.String(), nil
	case *uuid.UUID:
		if x == nil {
			return nil, nil
		}
		return SanitizeValue(*x)
	case time.Time:
		if x.IsZero() {
			return nil, nil
		}
		return FormatTime(x), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return SanitizeValue(*x)
	case []byte:
		if x == nil {
			return nil, nil
		}
		return base64.StdEncoding.EncodeToString(x), nil
	case string, bool:
		return x, nil
	case map[string]any:
		return Row(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("sanitize: non-finite number %v", f)
		}
		return f, nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return SanitizeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			s, err := SanitizeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = s
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("sanitize: map key %s is not a string", rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			s, err := SanitizeValue(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", iter.Key().String(), err)
			}
			out[iter.Key().String()] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("sanitize: unsupported type %T", v)
}

// Row sanitizes every column of an outgoing row.
func Row(in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		s, err := SanitizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

// FormatTime renders t as WireTimeLayout in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(WireTimeLayout)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

// ParseTime accepts the timestamp shapes the backends emit and returns UTC
// truncated to microseconds, the precision local stores keep.
// An empty string yields the zero time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unsupported layout", s)
}

// ParseTimePtr is ParseTime for optional columns: empty yields nil.
func ParseTimePtr(s string) (*time.Time, error) {
	t, err := ParseTime(s)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

// ParseUUID parses a wire identifier; empty yields uuid.Nil.
func ParseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.FromString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse id %q: %w", s, err)
	}
	return id, nil
}
