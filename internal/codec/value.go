package codec

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies which bencode variant a Value holds
type Kind int

const (
	KindBytes Kind = iota
	KindInt
	KindList
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindInt:
		return "int"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a generic bencode value tree. Only the field matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Bytes []byte
	Int   int64
	List  []Value
	Dict  map[string]Value
}

func Bytes(b []byte) Value {
	return Value{Kind: KindBytes, Bytes: b}
}

func String(s string) Value {
	return Value{Kind: KindBytes, Bytes: []byte(s)}
}

func Int(i int64) Value {
	return Value{Kind: KindInt, Int: i}
}

func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Kind: KindList, List: items}
}

func Dict(entries map[string]Value) Value {
	if entries == nil {
		entries = map[string]Value{}
	}
	return Value{Kind: KindDict, Dict: entries}
}

// Get returns the entry stored under key when v is a dictionary
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindDict {
		return Value{}, false
	}
	entry, ok := v.Dict[key]
	return entry, ok
}

// Equal reports whether two value trees hold the same data. Dictionary order is ignored.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}

	switch v.Kind {
	case KindBytes:
		return bytes.Equal(v.Bytes, other.Bytes)
	case KindInt:
		return v.Int == other.Int
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if len(v.Dict) != len(other.Dict) {
			return false
		}
		for key, entry := range v.Dict {
			otherEntry, ok := other.Dict[key]
			if !ok || !entry.Equal(otherEntry) {
				return false
			}
		}
		return true
	}

	return false
}

func (v Value) String() string {
	switch v.Kind {
	case KindBytes:
		return fmt.Sprintf("%q", v.Bytes)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindList:
		items := make([]string, len(v.List))
		for i, item := range v.List {
			items[i] = item.String()
		}
		return "[" + strings.Join(items, " ") + "]"
	case KindDict:
		keys := make([]string, 0, len(v.Dict))
		for key := range v.Dict {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		entries := make([]string, len(keys))
		for i, key := range keys {
			entries[i] = fmt.Sprintf("%q:%s", key, v.Dict[key].String())
		}
		return "{" + strings.Join(entries, " ") + "}"
	}
	return v.Kind.String()
}
