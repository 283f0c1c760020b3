package model

import (
	"bytes"
	"reflect"
	"strings"
	"time"
)

// Compare orders two canonical values of type t. nil sorts first;
// arrays compare element-wise, then by length; references by id.
func Compare(t FieldType, a, b interface{}) int {
	an, bn := isNil(a), isNil(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}

	if t.IsArray() {
		av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
		for i := 0; i < av.Len() && i < bv.Len(); i++ {
			if c := Compare(t.BaseType(), av.Index(i).Interface(), bv.Index(i).Interface()); c != 0 {
				return c
			}
		}
		return cmpOrdered(av.Len(), bv.Len())
	}

	switch t.BaseType() {
	case TypeBoolean:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case TypeInt:
		return cmpOrdered(a.(int32), b.(int32))
	case TypeLong:
		return cmpOrdered(a.(int64), b.(int64))
	case TypeFloat:
		return cmpOrdered(a.(float32), b.(float32))
	case TypeDouble:
		return cmpOrdered(a.(float64), b.(float64))
	case TypeString, TypeText:
		return strings.Compare(a.(string), b.(string))
	case TypeDate:
		return a.(time.Time).Compare(b.(time.Time))
	case TypeBlob:
		return bytes.Compare(a.([]byte), b.([]byte))
	case TypeReference:
		ar, br := a.(*Entity), b.(*Entity)
		if c := cmpOrdered(ar.ID, br.ID); c != 0 {
			return c
		}
		return strings.Compare(ar.Type, br.Type)
	}
	return 0
}

func cmpOrdered[T int | int32 | int64 | float32 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map:
		return rv.IsNil()
	}
	return false
}
