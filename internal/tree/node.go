package tree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
)

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
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Member is one key/value pair of an object, in document order.
type Member struct {
	Key   string
	Value *Node
}

// Node is a JSON value that remembers the order of object keys.
type Node struct {
	Kind    Kind
	Bool    bool
	Number  json.Number
	Str     string
	Members []Member
	Items   []*Node
}

var (
	ErrNotDocument   = errors.New("document must be a JSON object or array")
	ErrPathCollision = errors.New("two values share one key path")
)

func String(s string) *Node {
	return &Node{Kind: KindString, Str: s}
}

func Object(members ...Member) *Node {
	return &Node{Kind: KindObject, Members: members}
}

func Array(items ...*Node) *Node {
	return &Node{Kind: KindArray, Items: items}
}

func (n *Node) IsString() bool {
	return n != nil && n.Kind == KindString
}

// Get returns the value stored under key in an object node.
func (n *Node) Get(key string) (*Node, bool) {
	if n == nil || n.Kind != KindObject {
		return nil, false
	}
	for _, m := range n.Members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Kind: n.Kind, Bool: n.Bool, Number: n.Number, Str: n.Str}
	if n.Members != nil {
		out.Members = make([]Member, len(n.Members))
		for i, m := range n.Members {
			out.Members[i] = Member{Key: m.Key, Value: m.Value.Clone()}
		}
	}
	if n.Items != nil {
		out.Items = make([]*Node, len(n.Items))
		for i, item := range n.Items {
			out.Items[i] = item.Clone()
		}
	}
	return out
}

// Parse decodes a single JSON value, keeping object key order.
func Parse(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	node, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected trailing data after JSON value")
	}
	return node, nil
}

// ParseDocument parses data and rejects anything that is not an object or array.
func ParseDocument(data []byte) (*Node, error) {
	node, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := ValidateDocument(node); err != nil {
		return nil, err
	}
	return node, nil
}

// ValidateDocument rejects scalar roots and documents where a literal
// dotted key and a nested path flatten to the same key path, e.g.
// {"a.b": "x", "a": {"b": "y"}}.
func ValidateDocument(n *Node) error {
	if n == nil || (n.Kind != KindObject && n.Kind != KindArray) {
		return ErrNotDocument
	}
	entries := Flatten(n)
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Key]; ok {
			return fmt.Errorf("%w: %q", ErrPathCollision, e.Key)
		}
		seen[e.Key] = struct{}{}
	}
	return nil
}

func decodeValue(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", v)
		}
	case string:
		return String(v), nil
	case json.Number:
		return &Node{Kind: KindNumber, Number: v}, nil
	case bool:
		return &Node{Kind: KindBool, Bool: v}, nil
	case nil:
		return &Node{Kind: KindNull}, nil
	default:
		return nil, fmt.Errorf("unexpected token %v", tok)
	}
}

func decodeObject(dec *json.Decoder) (*Node, error) {
	node := &Node{Kind: KindObject, Members: []Member{}}
	index := make(map[string]int)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		// duplicate keys keep their first position and the last value
		if i, seen := index[key]; seen {
			node.Members[i].Value = value
			continue
		}
		index[key] = len(node.Members)
		node.Members = append(node.Members, Member{Key: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return node, nil
}

func decodeArray(dec *json.Decoder) (*Node, error) {
	node := &Node{Kind: KindArray, Items: []*Node{}}
	for dec.More() {
		item, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", len(node.Items), err)
		}
		node.Items = append(node.Items, item)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return node, nil
}

// MarshalJSON writes n compactly. HTML characters are not escaped.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

// MarshalIndent writes n with two-space indentation and a trailing newline.
func MarshalIndent(n *Node) ([]byte, error) {
	compact, err := n.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func (n *Node) encode(buf *bytes.Buffer) error {
	if n == nil {
		buf.WriteString("null")
		return nil
	}

	switch n.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if n.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		if n.Number == "" {
			buf.WriteString("0")
		} else {
			buf.WriteString(n.Number.String())
		}
	case KindString:
		return encodeString(buf, n.Str)
	case KindObject:
		buf.WriteByte('{')
		for i, m := range n.Members {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, m.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := m.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindArray:
		buf.WriteByte('[')
		for i, item := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("unknown node kind %d", n.Kind)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
