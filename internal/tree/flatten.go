package tree

import "strconv"

// Entry addresses one leaf position of a document by its key path,
// e.g. "nav.items[2].label".
type Entry struct {
	Key   string
	Value *Node
}

// Text returns the string value of the entry and whether it is a string.
func (e Entry) Text() (string, bool) {
	if !e.Value.IsString() {
		return "", false
	}
	return e.Value.Str, true
}

// Flatten walks n in document order. Objects recurse with dotted paths,
// arrays emit one entry per item and only recurse into object items.
func Flatten(n *Node) []Entry {
	entries := make([]Entry, 0)
	flattenInto(&entries, n, "")
	return entries
}

func flattenInto(entries *[]Entry, n *Node, prefix string) {
	if n == nil {
		return
	}
	switch n.Kind {
	case KindObject:
		for _, m := range n.Members {
			path := joinKey(prefix, m.Key)
			switch m.Value.kind() {
			case KindObject:
				flattenInto(entries, m.Value, path)
			case KindArray:
				flattenArray(entries, m.Value, path)
			default:
				*entries = append(*entries, Entry{Key: path, Value: m.Value})
			}
		}
	case KindArray:
		flattenArray(entries, n, prefix)
	default:
		*entries = append(*entries, Entry{Key: prefix, Value: n})
	}
}

func flattenArray(entries *[]Entry, n *Node, prefix string) {
	for i, item := range n.Items {
		path := indexKey(prefix, i)
		if item.kind() == KindObject {
			flattenInto(entries, item, path)
			continue
		}
		*entries = append(*entries, Entry{Key: path, Value: item})
	}
}

// Reconstruct deep-copies original and substitutes every leaf whose key path
// is present in translations. Keys are never added or removed.
func Reconstruct(original *Node, translations map[string]string) *Node {
	return rebuild(original, translations, "")
}

func rebuild(n *Node, translations map[string]string, path string) *Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindObject:
		out := &Node{Kind: KindObject, Members: make([]Member, len(n.Members))}
		for i, m := range n.Members {
			childPath := joinKey(path, m.Key)
			var value *Node
			switch m.Value.kind() {
			case KindObject:
				value = rebuild(m.Value, translations, childPath)
			case KindArray:
				value = rebuildArray(m.Value, translations, childPath)
			default:
				value = leaf(m.Value, translations, childPath)
			}
			out.Members[i] = Member{Key: m.Key, Value: value}
		}
		return out
	case KindArray:
		return rebuildArray(n, translations, path)
	default:
		return leaf(n, translations, path)
	}
}

func rebuildArray(n *Node, translations map[string]string, path string) *Node {
	out := &Node{Kind: KindArray, Items: make([]*Node, len(n.Items))}
	for i, item := range n.Items {
		itemPath := indexKey(path, i)
		if item.kind() == KindObject {
			out.Items[i] = rebuild(item, translations, itemPath)
			continue
		}
		out.Items[i] = leaf(item, translations, itemPath)
	}
	return out
}

func leaf(n *Node, translations map[string]string, path string) *Node {
	if value, ok := translations[path]; ok {
		return String(value)
	}
	return n.Clone()
}

// Strings filters entries down to non-empty string values.
func Strings(entries []Entry) []Entry {
	ret := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if text, ok := e.Text(); ok && text != "" {
			ret = append(ret, e)
		}
	}
	return ret
}

// StringMap returns key path to value for every string entry, empty ones included.
func StringMap(entries []Entry) map[string]string {
	ret := make(map[string]string, len(entries))
	for _, e := range entries {
		if text, ok := e.Text(); ok {
			ret[e.Key] = text
		}
	}
	return ret
}

func (n *Node) kind() Kind {
	if n == nil {
		return KindNull
	}
	return n.Kind
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func indexKey(prefix string, i int) string {
	return prefix + "[" + strconv.Itoa(i) + "]"
}
