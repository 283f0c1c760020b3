package query

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/devrev/entitydb/internal/model"
)

// ValueKind tags a predicate value.
type ValueKind uint8

const (
	KindExact ValueKind = iota
	KindMin
	KindMax
	KindGlob
)

// Value is one per-field predicate argument: a concrete value or one of
// the MIN, MAX and GLOB sentinels. Sentinels are resolved into key bounds
// when the query is compiled.
type Value struct {
	Kind ValueKind
	V    interface{}
}

var (
	// Min sorts below every value of the field, including null.
	Min = Value{Kind: KindMin}
	// Max sorts above every value of the field.
	Max = Value{Kind: KindMax}
	// Glob matches any value.
	Glob = Value{Kind: KindGlob}
)

// Exact wraps a concrete value. nil matches null.
func Exact(v interface{}) Value {
	return Value{Kind: KindExact, V: v}
}

func (v Value) IsSentinel() bool { return v.Kind != KindExact }

func (v Value) String() string {
	switch v.Kind {
	case KindMin:
		return "MIN"
	case KindMax:
		return "MAX"
	case KindGlob:
		return "*"
	}
	return formatValue(v.V)
}

// ValueList groups per-field values for multi-field indexes, or candidate
// values for membership tests.
type ValueList []interface{}

// List builds a ValueList.
func List(vs ...interface{}) ValueList {
	if vs == nil {
		return ValueList{}
	}
	return ValueList(vs)
}

func formatValue(v interface{}) string {
	switch tv := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(tv)
	case []byte:
		return "x'" + hex.EncodeToString(tv) + "'"
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano)
	case *model.Entity:
		if tv == nil {
			return "null"
		}
		return tv.Ref().String()
	case model.Ref:
		return tv.String()
	case []string:
		quoted := make([]string, len(tv))
		for i, s := range tv {
			quoted[i] = strconv.Quote(s)
		}
		return "[" + strings.Join(quoted, ",") + "]"
	}
	return fmt.Sprintf("%v", v)
}
