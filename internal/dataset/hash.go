package dataset

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/zeebo/xxh3"
)

// Value tags for the canonical key encoding. Values of different Go types
// never compare equal, so the tag is part of the key.
const (
	tagNull byte = iota
	tagString
	tagFloat64
	tagFloat32
	tagInt32
	tagInt64
	tagInt
	tagBool
	tagTime
	tagOther
)

// appendKey appends a canonical encoding of v to buf. Two values that are
// equal under valuesEqual always produce the same bytes.
func appendKey(buf []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		return append(buf, tagNull)
	case string:
		buf = append(buf, tagString)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(t)))
		return append(buf, t...)
	case float64:
		if t == 0 {
			t = 0 // fold -0 into +0
		}
		buf = append(buf, tagFloat64)
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(t))
	case float32:
		if t == 0 {
			t = 0
		}
		buf = append(buf, tagFloat32)
		return binary.LittleEndian.AppendUint32(buf, math.Float32bits(t))
	case int32:
		buf = append(buf, tagInt32)
		return binary.LittleEndian.AppendUint32(buf, uint32(t))
	case int64:
		buf = append(buf, tagInt64)
		return binary.LittleEndian.AppendUint64(buf, uint64(t))
	case int:
		buf = append(buf, tagInt)
		return binary.LittleEndian.AppendUint64(buf, uint64(t))
	case bool:
		if t {
			return append(buf, tagBool, 1)
		}
		return append(buf, tagBool, 0)
	case time.Time:
		buf = append(buf, tagTime)
		return binary.LittleEndian.AppendUint64(buf, uint64(t.UnixNano()))
	default:
		s := fmt.Sprintf("%T:%v", v, v)
		buf = append(buf, tagOther)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s)))
		return append(buf, s...)
	}
}

// hashValues hashes the canonical encoding of vals. buf is scratch space and
// is returned for reuse.
func hashValues(buf []byte, vals ...any) (uint64, []byte) {
	buf = buf[:0]
	for _, v := range vals {
		buf = appendKey(buf, v)
	}
	return xxh3.Hash(buf), buf
}

// valuesEqual reports whether a and b are the same value. Null equals null
// here; callers that need SQL join semantics exclude nulls first.
func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case float32:
		y, ok := b.(float32)
		return ok && x == y
	case int32:
		y, ok := b.(int32)
		return ok && x == y
	case int64:
		y, ok := b.(int64)
		return ok && x == y
	case int:
		y, ok := b.(int)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	default:
		return reflect.DeepEqual(a, b)
	}
}

func rowsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
