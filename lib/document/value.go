package document

import (
	"cmp"
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

// --------------------------------------------------------------------------
// Value Kinds
// --------------------------------------------------------------------------

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull   Kind = iota // JSON null (also the zero Value)
	KindBool               // true / false
	KindNumber             // any JSON number, kept in its textual form
	KindString             // UTF-8 text
	KindArray              // ordered sequence of values
	KindObject             // ordered mapping of field name to value
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Value
// --------------------------------------------------------------------------

// Value is a closed tagged variant over the JSON value space.
// Only the field matching kind is meaningful. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	num  json.Number
	str  string
	arr  []Value
	obj  *Object
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) Value {
	return Value{kind: KindNumber, num: json.Number(strconv.FormatInt(i, 10))}
}

// Float wraps a float. NaN and infinities have no JSON representation and become null.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return Value{kind: KindNumber, num: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

// Number wraps a JSON number literal as produced by a decoder using UseNumber.
func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array wraps a sequence of values.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// ObjectValue wraps a mapping. A nil object is treated as an empty one.
func ObjectValue(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number literal held by v.
func (v Value) AsNumber() (json.Number, bool) { return v.num, v.kind == KindNumber }

// AsFloat returns the number held by v as float64, ±Inf beyond the float64 range.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := parseFloat(v.num)
	if err != nil {
		return 0, false
	}
	return f, true
}

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsArray returns the items held by v. The slice is shared, not copied.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// AsObject returns the mapping held by v. The object is shared, not copied.
func (v Value) AsObject() (*Object, bool) { return v.obj, v.kind == KindObject }

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		items := make([]Value, len(v.arr))
		for i, item := range v.arr {
			items[i] = item.Clone()
		}
		return Value{kind: KindArray, arr: items}
	case KindObject:
		return Value{kind: KindObject, obj: v.obj.Clone()}
	default:
		return v
	}
}

// Equal reports whether a and b hold the same value.
// Numbers compare by numeric value (700 == 700.0), objects compare field by field
// regardless of field order, arrays compare element-wise in order.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		c, ok := CompareNumbers(a, b)
		return ok && c == 0
	case KindString:
		return a.str == b.str
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if a.obj.Len() != b.obj.Len() {
			return false
		}
		equal := true
		a.obj.Range(func(key string, av Value) bool {
			bv, ok := b.obj.Get(key)
			equal = ok && Equal(av, bv)
			return equal
		})
		return equal
	default:
		return false
	}
}

// CompareNumbers orders two numeric values. The second result is false if either
// value is not a number. Integers are compared exactly; everything else as float64.
// Numbers beyond the float64 range order as infinities; two of them with the same sign
// are only comparable if their text is identical.
func CompareNumbers(a, b Value) (int, bool) {
	if a.kind != KindNumber || b.kind != KindNumber {
		return 0, false
	}
	if a.num == b.num {
		return 0, true
	}
	if ai, err := a.num.Int64(); err == nil {
		if bi, err := b.num.Int64(); err == nil {
			return cmp.Compare(ai, bi), true
		}
	}
	af, aErr := parseFloat(a.num)
	bf, bErr := parseFloat(b.num)
	switch {
	case aErr != nil || bErr != nil:
		return 0, false
	case math.IsInf(af, 0) && af == bf:
		// both overflowed in the same direction but differ in text
		return 0, false
	}
	return cmp.Compare(af, bf), true
}

// parseFloat converts n to float64. Out of range numbers yield ±Inf instead of an error.
func parseFloat(n json.Number) (float64, error) {
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil && errors.Is(err, strconv.ErrRange) {
		return f, nil
	}
	return f, err
}

// String renders v as compact JSON.
func (v Value) String() string {
	return string(appendValue(nil, v))
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return appendValue(nil, v), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
