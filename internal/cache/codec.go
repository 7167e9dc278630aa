package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
)

// Byte-oriented backends store values with a one-byte tag so reads can restore them.
// Integers are written as bare decimal digits so server-side increments work on them.
const (
	tagJSON   = "j:"
	tagString = "s:"
)

var errUnserializable = errors.New("value cannot be serialized")

// Encode converts value into the wire form used by byte-oriented backends.
// Values that cannot be JSON encoded are stored as their string representation;
// functions and channels are rejected.
func Encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case int:
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case int32:
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case int64:
		return []byte(strconv.FormatInt(v, 10)), nil
	case nil:
		return []byte(tagJSON + "null"), nil
	}

	switch reflect.TypeOf(value).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, fmt.Errorf("%w: %T", errUnserializable, value)
	}

	if data, err := json.Marshal(value); err == nil {
		return append([]byte(tagJSON), data...), nil
	}
	return []byte(tagString + fmt.Sprint(value)), nil
}

// Decode restores a value written by Encode. JSON numbers decode as float64,
// except bare integers which decode as int64.
func Decode(data []byte) (any, error) {
	switch {
	case bytes.HasPrefix(data, []byte(tagJSON)):
		var v any
		if err := json.Unmarshal(data[len(tagJSON):], &v); err != nil {
			return nil, fmt.Errorf("decode cached value: %w", err)
		}
		return v, nil
	case bytes.HasPrefix(data, []byte(tagString)):
		return string(data[len(tagString):]), nil
	}
	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		return n, nil
	}
	return nil, fmt.Errorf("decode cached value: unknown encoding")
}
