// Package canonical normalizes structured values into a deterministic form so that
// semantically equal inputs serialize to identical bytes.
//
// Mappings are emitted with sorted keys. Plain lists ([]any, typed slices) and Set are
// treated as unordered and sorted after their elements are normalized; mixing element
// kinds that have no mutual ordering fails with ErrUnsortable instead of falling back to
// input order. Collections whose order carries meaning (equity curves, price rows) must be
// wrapped in Sequence, or pre-serialized to a string by the caller.
//
// Numbers are normalized to their exact decimal value: 10 and 10.0 are the same number,
// 0.002 and 0.0020001 are not. Plain JSON encoders keep the integer/float spelling, so
// hashes computed here will not match digests of json.dumps-style output for inputs
// like {"fast": 10.0}.
//
// Strings and mapping keys must be valid UTF-8; anything else fails with
// ErrUnsupportedValue rather than being coerced to U+FFFD.
package canonical

import (
	"bytes"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Set is an unordered collection; its elements are sorted during normalization.
type Set []any

// Sequence is an ordered collection; element order is preserved.
type Sequence []any

// List is a normalized collection in its final order. Normalizing a List again is a no-op
// on ordering.
type List []any

// Number is the normalized form of every numeric input.
type Number struct {
	d decimal.Decimal
}

// Decimal returns the exact value.
func (n Number) Decimal() decimal.Decimal {
	return n.d
}

// String renders the shortest exact decimal text without trailing zeros.
func (n Number) String() string {
	return n.d.String()
}

// numberLiteral matches json.Number from both encoding/json and goccy/go-json.
type numberLiteral interface {
	String() string
	Int64() (int64, error)
}

type kind int

const (
	kindNull kind = iota
	kindBool
	kindNumber
	kindString
	kindMapping
	kindList
)

func (k kind) String() string {
	switch k {
	case kindNull:
		return "null"
	case kindBool:
		return "boolean"
	case kindNumber:
		return "number"
	case kindString:
		return "string"
	case kindMapping:
		return "mapping"
	default:
		return "list"
	}
}

// Normalize returns the canonical form of v. The result is built only from nil, bool,
// string, Number, map[string]any and List.
func Normalize(v any) (any, error) {
	return normalize(v, "$")
}

// Marshal normalizes v and serializes it with sorted keys and no insignificant whitespace.
func Marshal(v any) ([]byte, error) {
	n, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encode(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func normalize(v any, path string) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return normalizeString(x, path)
	case bool, Number:
		return x, nil
	case decimal.Decimal:
		return Number{d: x}, nil
	case numberLiteral:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return nil, unsupported(path, fmt.Sprintf("invalid number literal %q", x.String()))
		}
		return Number{d: d}, nil
	case float64:
		return normalizeFloat(x, path)
	case float32:
		return normalizeFloat(float64(x), path)
	case int:
		return Number{d: decimal.NewFromInt(int64(x))}, nil
	case int64:
		return Number{d: decimal.NewFromInt(x)}, nil
	case int32:
		return Number{d: decimal.NewFromInt(int64(x))}, nil
	case map[string]any:
		return normalizeMapping(x, path)
	case Sequence:
		return normalizeSequence(x, path)
	case List:
		return normalizeSequence(Sequence(x), path)
	case Set:
		return normalizeSet(x, path)
	case []any:
		return normalizeSet(x, path)
	case []byte:
		return nil, unsupported(path, "raw bytes have no canonical form; encode them as a string")
	}
	return normalizeReflect(reflect.ValueOf(v), path)
}

func normalizeString(s, path string) (any, error) {
	if !utf8.ValidString(s) {
		return nil, unsupported(path, "invalid UTF-8")
	}
	return s, nil
}

func normalizeFloat(f float64, path string) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, unsupported(path, fmt.Sprintf("non-finite number %v", f))
	}
	return Number{d: decimal.NewFromFloat(f)}, nil
}

func normalizeReflect(rv reflect.Value, path string) (any, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(rv.Elem().Interface(), path)
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return normalizeString(rv.String(), path)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number{d: decimal.NewFromInt(rv.Int())}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number{d: decimal.NewFromBigInt(new(big.Int).SetUint64(rv.Uint()), 0)}, nil
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float(), path)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, unsupported(path, fmt.Sprintf("mapping key type %s is not a string", rv.Type().Key()))
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return normalizeMapping(m, path)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return List{}, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, unsupported(path, "raw bytes have no canonical form; encode them as a string")
		}
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return normalizeSet(items, path)
	case reflect.Struct:
		return normalizeStruct(rv.Interface(), path)
	}
	return nil, unsupported(path, fmt.Sprintf("type %s", rv.Type()))
}

// normalizeStruct goes through the struct's JSON form so json tags decide the keys.
func normalizeStruct(v any, path string) (any, error) {
	// json.Marshal replaces invalid UTF-8, so strings are checked before it runs
	if bad, ok := findInvalidUTF8(reflect.ValueOf(v), path, 0); ok {
		return nil, unsupported(bad, "invalid UTF-8")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, unsupported(path, err.Error())
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, unsupported(path, err.Error())
	}
	return normalize(generic, path)
}

// findInvalidUTF8 returns the path of the first string inside rv that is not valid UTF-8.
func findInvalidUTF8(rv reflect.Value, path string, depth int) (string, bool) {
	if depth > 64 {
		return "", false
	}
	switch rv.Kind() {
	case reflect.String:
		if !utf8.ValidString(rv.String()) {
			return path, true
		}
	case reflect.Pointer, reflect.Interface:
		if !rv.IsNil() {
			return findInvalidUTF8(rv.Elem(), path, depth+1)
		}
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if bad, ok := findInvalidUTF8(rv.Field(i), path+"."+t.Field(i).Name, depth+1); ok {
				return bad, true
			}
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			if iter.Key().Kind() == reflect.String && !utf8.ValidString(key) {
				return path, true
			}
			if bad, ok := findInvalidUTF8(iter.Value(), path+"."+key, depth+1); ok {
				return bad, true
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if bad, ok := findInvalidUTF8(rv.Index(i), fmt.Sprintf("%s[%d]", path, i), depth+1); ok {
				return bad, true
			}
		}
	}
	return "", false
}

func normalizeMapping(m map[string]any, path string) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for key, value := range m {
		if !utf8.ValidString(key) {
			return nil, unsupported(path, fmt.Sprintf("mapping key %q is not valid UTF-8", key))
		}
		n, err := normalize(value, path+"."+key)
		if err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, nil
}

func normalizeSequence(items Sequence, path string) (List, error) {
	out := make(List, len(items))
	for i, item := range items {
		n, err := normalize(item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func normalizeSet(items []any, path string) (List, error) {
	out, err := normalizeSequence(Sequence(items), path)
	if err != nil {
		return nil, err
	}
	if err := sortList(out, path); err != nil {
		return nil, err
	}
	return out, nil
}

func kindOf(v any) kind {
	switch v.(type) {
	case nil:
		return kindNull
	case bool:
		return kindBool
	case Number:
		return kindNumber
	case string:
		return kindString
	case map[string]any:
		return kindMapping
	default:
		return kindList
	}
}

// sortList orders normalized elements in place. Elements must share one kind.
func sortList(items List, path string) error {
	if len(items) < 2 {
		return nil
	}
	first := kindOf(items[0])
	for _, item := range items[1:] {
		if k := kindOf(item); k != first {
			return unsortable(path, first, k)
		}
	}

	switch first {
	case kindNull:
	case kindBool:
		sort.SliceStable(items, func(i, j int) bool {
			return !items[i].(bool) && items[j].(bool)
		})
	case kindNumber:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].(Number).d.Cmp(items[j].(Number).d) < 0
		})
	case kindString:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].(string) < items[j].(string)
		})
	default:
		// composite elements order by their serialized form
		keyed := make([]struct {
			key   []byte
			value any
		}, len(items))
		for i, item := range items {
			var buf bytes.Buffer
			if err := encode(&buf, item); err != nil {
				return err
			}
			keyed[i].key = buf.Bytes()
			keyed[i].value = item
		}
		sort.SliceStable(keyed, func(i, j int) bool {
			return bytes.Compare(keyed[i].key, keyed[j].key) < 0
		})
		for i := range keyed {
			items[i] = keyed[i].value
		}
	}
	return nil
}
