// Package manifest decodes, encodes and edits multi-document YAML
// manifest bundles.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is one decoded manifest document.
type Document = map[string]interface{}

// Decode splits a multi-document YAML bundle into documents. Empty
// documents are dropped; a document that is not a mapping is an error.
func Decode(text string) ([]Document, error) {
	dec := yaml.NewDecoder(strings.NewReader(text))

	var docs []Document
	for i := 0; ; i++ {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if len(node.Content) == 0 || isNull(node.Content[0]) {
			continue
		}
		if node.Content[0].Kind != yaml.MappingNode {
			return nil, fmt.Errorf("document %d: expected a mapping, got %s", i, kindName(node.Content[0].Kind))
		}

		var doc Document
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Encode renders documents as a multi-document YAML bundle.
func Encode(docs []Document) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for i, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return "", fmt.Errorf("document %d: %w", i, err)
		}
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Kind returns the document's kind, or "" if it has none.
func Kind(doc Document) string {
	kind, _ := doc["kind"].(string)
	return kind
}

// Name returns the document's metadata.name, or "" if it has none.
func Name(doc Document) string {
	v, _ := Get(doc, "metadata.name")
	name, _ := v.(string)
	return name
}

// Get reads a dotted path. Numeric segments index into lists.
func Get(doc Document, path string) (interface{}, bool) {
	var cur interface{} = doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at a dotted path, creating intermediate maps and
// lists. A numeric segment selects a list element; the list is extended
// as needed.
func Set(doc Document, path string, value interface{}) error {
	if doc == nil {
		return fmt.Errorf("nil document")
	}
	if path == "" {
		return fmt.Errorf("empty field path")
	}
	segs := strings.Split(path, ".")
	for _, seg := range segs {
		if seg == "" {
			return fmt.Errorf("field path %q has an empty segment", path)
		}
	}

	updated, err := set(doc, segs, value, path)
	if err != nil {
		return err
	}
	if _, ok := updated.(map[string]interface{}); !ok {
		return fmt.Errorf("field path %q does not start at a mapping", path)
	}
	return nil
}

func set(node interface{}, segs []string, value interface{}, path string) (interface{}, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg, rest := segs[0], segs[1:]

	if i, err := strconv.Atoi(seg); err == nil {
		if i < 0 {
			return nil, fmt.Errorf("field path %q has a negative index", path)
		}
		var list []interface{}
		switch n := node.(type) {
		case nil:
		case []interface{}:
			list = n
		default:
			return nil, fmt.Errorf("field path %q indexes a %T", path, node)
		}
		for len(list) <= i {
			list = append(list, nil)
		}
		child, err := set(list[i], rest, value, path)
		if err != nil {
			return nil, err
		}
		list[i] = child
		return list, nil
	}

	var m map[string]interface{}
	switch n := node.(type) {
	case nil:
		m = make(map[string]interface{})
	case map[string]interface{}:
		m = n
	default:
		return nil, fmt.Errorf("field path %q crosses a %T at %q", path, node, seg)
	}
	child, err := set(m[seg], rest, value, path)
	if err != nil {
		return nil, err
	}
	m[seg] = child
	return m, nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.AliasNode:
		return "an alias"
	default:
		return "an unknown node"
	}
}
