package algebra

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Constants

// Tag names the shape of the payload carried
// by a Value.
type Tag uint8

const (
	// TagInt carries a signed 64 bit integer.
	TagInt Tag = iota

	// TagFloat carries a 64 bit floating-point number.
	TagFloat

	// TagStringSet carries a set of strings.
	TagStringSet

	// TagIntSet carries a set of integers.
	TagIntSet

	// TagBytes carries raw bytes.
	TagBytes

	// TagDocument carries a structured document.
	TagDocument
)

// Structs

// Value is the tagged payload of an operation. Exactly
// the field selected by Tag is meaningful; all others
// stay at their zero value.
type Value struct {
	Tag    Tag
	Int    int64
	Float  float64
	StrSet mapset.Set[string]
	IntSet mapset.Set[int64]
	Bytes  []byte
	Doc    map[string]interface{}
}

// wireValue is the msgpack representation of a Value.
// Sets travel as sorted slices so that two equal values
// always marshal to identical bytes.
type wireValue struct {
	Tag    uint8                  `msgpack:"tag"`
	Int    int64                  `msgpack:"int,omitempty"`
	Float  float64                `msgpack:"float,omitempty"`
	StrSet []string               `msgpack:"str_set,omitempty"`
	IntSet []int64                `msgpack:"int_set,omitempty"`
	Bytes  []byte                 `msgpack:"bytes,omitempty"`
	Doc    map[string]interface{} `msgpack:"doc,omitempty"`
}

// Functions

// IntValue returns an integer-tagged value.
func IntValue(i int64) Value {
	return Value{Tag: TagInt, Int: i}
}

// FloatValue returns a float-tagged value.
func FloatValue(f float64) Value {
	return Value{Tag: TagFloat, Float: f}
}

// StringSetValue returns a string-set-tagged value
// holding the supplied elements.
func StringSetValue(elements ...string) Value {
	return Value{Tag: TagStringSet, StrSet: mapset.NewSet[string](elements...)}
}

// IntSetValue returns an integer-set-tagged value
// holding the supplied elements.
func IntSetValue(elements ...int64) Value {
	return Value{Tag: TagIntSet, IntSet: mapset.NewSet[int64](elements...)}
}

// BytesValue returns a raw-bytes-tagged value.
func BytesValue(b []byte) Value {
	return Value{Tag: TagBytes, Bytes: b}
}

// DocumentValue returns a document-tagged value.
func DocumentValue(doc map[string]interface{}) Value {
	return Value{Tag: TagDocument, Doc: doc}
}

// String returns a short human-readable representation
// for logs and conflict records.
func (v Value) String() string {

	switch v.Tag {
	case TagInt:
		return fmt.Sprintf("int(%d)", v.Int)
	case TagFloat:
		return fmt.Sprintf("float(%g)", v.Float)
	case TagStringSet:
		elements := v.StrSet.ToSlice()
		sort.Strings(elements)
		return fmt.Sprintf("strset{%s}", strings.Join(elements, ","))
	case TagIntSet:
		elements := v.IntSet.ToSlice()
		sort.Slice(elements, func(i, j int) bool { return elements[i] < elements[j] })
		parts := make([]string, len(elements))
		for i, e := range elements {
			parts[i] = fmt.Sprintf("%d", e)
		}
		return fmt.Sprintf("intset{%s}", strings.Join(parts, ","))
	case TagBytes:
		return fmt.Sprintf("bytes(%d)", len(v.Bytes))
	default:
		return fmt.Sprintf("doc(%d keys)", len(v.Doc))
	}
}

// Equal reports whether two values carry the same tag
// and an equal payload.
func (v Value) Equal(other Value) bool {

	if v.Tag != other.Tag {
		return false
	}

	switch v.Tag {
	case TagInt:
		return v.Int == other.Int
	case TagFloat:
		return v.Float == other.Float
	case TagStringSet:
		return v.StrSet.Equal(other.StrSet)
	case TagIntSet:
		return v.IntSet.Equal(other.IntSet)
	case TagBytes:
		return bytes.Equal(v.Bytes, other.Bytes)
	default:
		return reflect.DeepEqual(v.Doc, other.Doc)
	}
}

// Copy returns a deep copy so that merged results never
// alias set or document state of their inputs.
func (v Value) Copy() Value {

	copied := Value{Tag: v.Tag, Int: v.Int, Float: v.Float}

	switch v.Tag {
	case TagStringSet:
		copied.StrSet = v.StrSet.Clone()
	case TagIntSet:
		copied.IntSet = v.IntSet.Clone()
	case TagBytes:
		copied.Bytes = append([]byte(nil), v.Bytes...)
	case TagDocument:
		copied.Doc = make(map[string]interface{}, len(v.Doc))
		for key, element := range v.Doc {
			copied.Doc[key] = cloneDocElement(element)
		}
	}

	return copied
}

// cloneDocElement deep-copies the nested maps and slices a
// decoded document may contain, so that copies never alias
// mutable state of their source.
func cloneDocElement(element interface{}) interface{} {

	switch typed := element.(type) {

	case map[string]interface{}:
		cloned := make(map[string]interface{}, len(typed))
		for key, nested := range typed {
			cloned[key] = cloneDocElement(nested)
		}
		return cloned

	case []interface{}:
		cloned := make([]interface{}, len(typed))
		for i, nested := range typed {
			cloned[i] = cloneDocElement(nested)
		}
		return cloned

	default:
		return typed
	}
}

// EncodeMsgpack implements msgpack.CustomEncoder with a
// deterministic wire representation.
func (v *Value) EncodeMsgpack(enc *msgpack.Encoder) error {

	wire := wireValue{
		Tag:   uint8(v.Tag),
		Int:   v.Int,
		Float: v.Float,
		Bytes: v.Bytes,
		Doc:   v.Doc,
	}

	// Flatten sets into sorted slices.
	if v.Tag == TagStringSet {
		wire.StrSet = v.StrSet.ToSlice()
		sort.Strings(wire.StrSet)
	}
	if v.Tag == TagIntSet {
		wire.IntSet = v.IntSet.ToSlice()
		sort.Slice(wire.IntSet, func(i, j int) bool { return wire.IntSet[i] < wire.IntSet[j] })
	}

	return enc.Encode(wire)
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {

	var wire wireValue

	err := dec.Decode(&wire)
	if err != nil {
		return err
	}

	v.Tag = Tag(wire.Tag)
	v.Int = wire.Int
	v.Float = wire.Float
	v.Bytes = wire.Bytes
	v.Doc = wire.Doc

	// Rebuild sets from their slice representation.
	if v.Tag == TagStringSet {
		v.StrSet = mapset.NewSet[string](wire.StrSet...)
	}
	if v.Tag == TagIntSet {
		v.IntSet = mapset.NewSet[int64](wire.IntSet...)
	}

	return nil
}
