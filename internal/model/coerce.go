package model

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"reflect"
	"time"

	"github.com/devrev/entitydb/internal/errors"
)

// Coerce converts a caller-supplied value into the canonical Go
// representation of f's type. nil stays nil.
func Coerce(f *FieldDefinition, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if f.IsArray() {
		return coerceArray(f, v)
	}
	return CoerceScalar(f, v)
}

// CoerceScalar converts a single value to f's base type. For array
// fields this is the element conversion.
func CoerceScalar(f *FieldDefinition, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch f.BaseType() {
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeInt:
		if n, ok := toInt64(v); ok && n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n), nil
		}
	case TypeLong:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case TypeFloat:
		if x, ok := toFloat64(v); ok {
			return float32(x), nil
		}
	case TypeDouble:
		if x, ok := toFloat64(v); ok {
			return x, nil
		}
	case TypeString, TypeText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeDate:
		switch tv := v.(type) {
		case time.Time:
			return time.UnixMilli(tv.UnixMilli()).UTC(), nil
		case string:
			if t, err := time.Parse(time.RFC3339Nano, tv); err == nil {
				return time.UnixMilli(t.UnixMilli()).UTC(), nil
			}
		default:
			if ms, ok := toInt64(v); ok {
				return time.UnixMilli(ms).UTC(), nil
			}
		}
	case TypeBlob:
		switch tv := v.(type) {
		case []byte:
			return cloneSlice(tv), nil
		case string:
			if b, err := base64.StdEncoding.DecodeString(tv); err == nil {
				return b, nil
			}
		}
	case TypeReference:
		switch tv := v.(type) {
		case *Entity:
			if tv == nil {
				return nil, nil
			}
			if tv.Type != f.ReferenceType {
				return nil, errors.TypeMismatch(f.Name, "reference to "+f.ReferenceType, v).
					WithDetail("actual_type", tv.Type)
			}
			return tv, nil
		case Ref:
			if tv.Type != f.ReferenceType {
				return nil, errors.TypeMismatch(f.Name, "reference to "+f.ReferenceType, v).
					WithDetail("actual_type", tv.Type)
			}
			return NewShell(tv), nil
		}
	}

	return nil, errors.TypeMismatch(f.Name, f.BaseType().String(), v)
}

func coerceArray(f *FieldDefinition, v interface{}) (interface{}, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, errors.TypeMismatch(f.Name, f.Type.String(), v)
	}
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return nil, nil
	}

	switch f.BaseType() {
	case TypeBoolean:
		return coerceElems[bool](f, rv)
	case TypeInt:
		return coerceElems[int32](f, rv)
	case TypeLong:
		return coerceElems[int64](f, rv)
	case TypeFloat:
		return coerceElems[float32](f, rv)
	case TypeDouble:
		return coerceElems[float64](f, rv)
	case TypeString, TypeText:
		return coerceElems[string](f, rv)
	case TypeDate:
		return coerceElems[time.Time](f, rv)
	case TypeBlob:
		return coerceElems[[]byte](f, rv)
	case TypeReference:
		return coerceElems[*Entity](f, rv)
	}
	return nil, errors.TypeMismatch(f.Name, f.Type.String(), v)
}

func coerceElems[T any](f *FieldDefinition, rv reflect.Value) ([]T, error) {
	out := make([]T, rv.Len())
	for i := range out {
		elem := rv.Index(i).Interface()
		c, err := CoerceScalar(f, elem)
		if err != nil {
			return nil, err
		}
		if c == nil {
			// only reference arrays may hold null elements
			if f.BaseType() == TypeReference {
				continue
			}
			return nil, errors.TypeMismatch(f.Name, f.BaseType().String(), elem)
		}
		out[i] = c.(T)
	}
	return out, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return uintToInt64(uint64(n))
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return uintToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

func uintToInt64(n uint64) (int64, bool) {
	if n > math.MaxInt64 {
		return 0, false
	}
	return int64(n), true
}

func floatToInt64(x float64) (int64, bool) {
	if math.Trunc(x) != x || x < math.MinInt64 || x >= math.MaxInt64 {
		return 0, false
	}
	return int64(x), true
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		if x, err := n.Float64(); err == nil {
			return x, true
		}
		return 0, false
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}
