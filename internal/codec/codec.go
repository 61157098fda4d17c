package codec

import (
	"errors"
	"fmt"

	"github.com/anacrolix/torrent/bencode"
)

// ErrSyntax is returned for input that is not valid bencode
var ErrSyntax = errors.New("bencode syntax error")

// Encode serializes a value tree. Dictionary keys are written in sorted order.
func Encode(v Value) ([]byte, error) {
	native, err := toNative(v)
	if err != nil {
		return nil, err
	}

	data, err := bencode.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bencode value: %w", err)
	}
	return data, nil
}

// Decode parses every top-level value found in data, in order. Dictionary keys
// may appear in any order.
func Decode(data []byte) ([]Value, error) {
	values := []Value{}

	for len(data) > 0 {
		var raw bencode.Bytes
		unused := 0

		err := bencode.Unmarshal(data, &raw)
		var trailing bencode.ErrUnusedTrailingBytes
		if errors.As(err, &trailing) {
			unused = trailing.NumUnusedBytes
		} else if err != nil {
			return nil, syntaxError(err)
		}

		v, err := fromRaw(raw)
		if err != nil {
			return nil, err
		}
		values = append(values, v)

		data = data[len(data)-unused:]
	}

	return values, nil
}

func syntaxError(err error) error {
	return fmt.Errorf("%w: %v", ErrSyntax, err)
}

func toNative(v Value) (interface{}, error) {
	switch v.Kind {
	case KindBytes:
		if v.Bytes == nil {
			return []byte{}, nil
		}
		return v.Bytes, nil
	case KindInt:
		return v.Int, nil
	case KindList:
		list := make([]interface{}, len(v.List))
		for i, item := range v.List {
			native, err := toNative(item)
			if err != nil {
				return nil, err
			}
			list[i] = native
		}
		return list, nil
	case KindDict:
		dict := make(map[string]interface{}, len(v.Dict))
		for key, entry := range v.Dict {
			native, err := toNative(entry)
			if err != nil {
				return nil, err
			}
			dict[key] = native
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("cannot encode value of %s", v.Kind)
	}
}

// fromRaw converts one raw value. Containers go through the map and slice
// decoders, which do not require sorted dictionary keys.
func fromRaw(raw bencode.Bytes) (Value, error) {
	if len(raw) == 0 {
		return Value{}, fmt.Errorf("%w: empty value", ErrSyntax)
	}

	switch c := raw[0]; {
	case c == 'd':
		var entries map[string]bencode.Bytes
		if err := bencode.Unmarshal(raw, &entries); err != nil {
			return Value{}, syntaxError(err)
		}
		dict := make(map[string]Value, len(entries))
		for key, entry := range entries {
			v, err := fromRaw(entry)
			if err != nil {
				return Value{}, err
			}
			dict[key] = v
		}
		return Dict(dict), nil
	case c == 'l':
		var items []bencode.Bytes
		if err := bencode.Unmarshal(raw, &items); err != nil {
			return Value{}, syntaxError(err)
		}
		list := make([]Value, len(items))
		for i, item := range items {
			v, err := fromRaw(item)
			if err != nil {
				return Value{}, err
			}
			list[i] = v
		}
		return List(list...), nil
	case c == 'i':
		var i int64
		if err := bencode.Unmarshal(raw, &i); err != nil {
			return Value{}, syntaxError(err)
		}
		return Int(i), nil
	case c >= '0' && c <= '9':
		var str string
		if err := bencode.Unmarshal(raw, &str); err != nil {
			return Value{}, syntaxError(err)
		}
		return Bytes([]byte(str)), nil
	default:
		return Value{}, fmt.Errorf("%w: unexpected type tag %q", ErrSyntax, c)
	}
}
