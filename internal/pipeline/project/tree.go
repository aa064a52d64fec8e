package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"niemgraph/internal/pipeline/xmltree"
)

// element is the format-neutral instance tree both converters produce. The
// projector core only ever sees this shape, which is what makes XML and JSON
// project identically.
type element struct {
	qname    string
	id       string // structures:id / lone "@id"
	ref      string // structures:ref / JSON reference object
	uri      string // structures:uri / "@uri", kept with its leading "#"
	xsiType  string
	nilled   bool
	text     string
	attrs    []attribute // everything except structures:* and xsi:*
	children []*element
	path     string // ordinal path from the root, fixed at build time
}

type attribute struct {
	name  string
	value string
}

// scalar reports whether the element is simple content with no identity of
// its own. Identity attributes force nodehood even without children.
func (e *element) scalar() bool {
	return len(e.children) == 0 && e.id == "" && e.ref == "" && e.uri == ""
}

// refCarrier reports whether the element is a pure reference: a ref
// attribute and no inline payload.
func (e *element) refCarrier() bool {
	return e.ref != "" && e.id == "" && (len(e.children) == 0 || e.nilled)
}

func childPath(parentPath, qname string, ordinal int) string {
	seg := qname + "[" + strconv.Itoa(ordinal) + "]"
	if parentPath == "" {
		return seg
	}
	return parentPath + "/" + seg
}

// fromXML converts a parsed XML element. Namespace prefixes survive as
// written; structures and xsi attributes are lifted into the identity fields.
func fromXML(x *xmltree.Element, parentPath string, ordinal int) *element {
	e := &element{
		qname: x.Name,
		text:  x.Text,
		path:  childPath(parentPath, x.Name, ordinal),
	}
	for _, a := range x.Attrs {
		switch a.Name {
		case "structures:id":
			e.id = a.Value
		case "structures:ref":
			e.ref = a.Value
		case "structures:uri":
			e.uri = a.Value
		case "xsi:type":
			e.xsiType = a.Value
		case "xsi:nil":
			e.nilled = a.Value == "true" || a.Value == "1"
		default:
			if strings.HasPrefix(a.Name, "xmlns") || strings.HasPrefix(a.Name, "xsi:") || strings.HasPrefix(a.Name, "structures:") {
				continue
			}
			e.attrs = append(e.attrs, attribute{name: a.Name, value: a.Value})
		}
	}
	ordinals := map[string]int{}
	for _, c := range x.Children {
		n := ordinals[c.Name]
		ordinals[c.Name] = n + 1
		e.children = append(e.children, fromXML(c, e.path, n))
	}
	return e
}

// fromJSON converts a decoded instance document. The document root is an
// object with exactly one key, naming the root element. Object keys walk in
// sorted order so the projection is deterministic regardless of source key
// order. Nesting past maxDepth fails the document.
func fromJSON(data []byte, maxDepth int) (*element, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("json parse: %w", err)
	}
	var rootKey string
	for k := range doc {
		if k == "@context" {
			continue
		}
		if rootKey != "" {
			return nil, fmt.Errorf("json document has multiple root elements (%q, %q)", rootKey, k)
		}
		rootKey = k
	}
	if rootKey == "" {
		return nil, fmt.Errorf("json document has no root element")
	}
	return jsonElement(rootKey, doc[rootKey], "", 0, 1, maxDepth)
}

func jsonElement(qname string, v any, parentPath string, ordinal, depth, maxDepth int) (*element, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("json nesting exceeds depth cap %d", maxDepth)
	}
	e := &element{qname: qname, path: childPath(parentPath, qname, ordinal)}
	obj, ok := v.(map[string]any)
	if !ok {
		e.text = jsonScalar(v)
		return e, nil
	}

	// {"@id": "X"} with nothing else is the JSON spelling of a reference.
	if len(obj) == 1 {
		if id, ok := obj["@id"].(string); ok {
			e.ref = id
			return e, nil
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordinals := map[string]int{}
	for _, k := range keys {
		val := obj[k]
		switch {
		case k == "@id":
			e.id, _ = val.(string)
		case k == "@uri":
			e.uri, _ = val.(string)
		case k == "@type":
			e.xsiType, _ = val.(string)
		case k == "#text":
			e.text = jsonScalar(val)
		case strings.HasPrefix(k, "@"):
			e.attrs = append(e.attrs, attribute{name: k[1:], value: jsonScalar(val)})
		default:
			items := []any{val}
			if arr, ok := val.([]any); ok {
				items = arr
			}
			for _, item := range items {
				n := ordinals[k]
				ordinals[k] = n + 1
				c, err := jsonElement(k, item, e.path, n, depth+1, maxDepth)
				if err != nil {
					return nil, err
				}
				e.children = append(e.children, c)
			}
		}
	}
	return e, nil
}

// jsonScalar renders a JSON leaf the way XML character data would read, so
// untyped values compare equal across formats.
func jsonScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", t)
	}
}
