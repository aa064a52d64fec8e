// Package xmltree parses XML into a light element tree while keeping
// namespace prefixes exactly as written. The pipeline keys everything off
// prefixed qnames (j:Charge), so the stdlib decoder's URI substitution is
// the wrong tool; RawToken preserves the source spelling.
//
// Parsing is hardened: DOCTYPE declarations are rejected, only the five
// built-in entities expand, input size is capped before parse, and nesting
// depth is capped during it.
package xmltree

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const (
	DefaultMaxBytes = 32 << 20 // 32 MiB
	DefaultMaxDepth = 200
)

type Options struct {
	MaxBytes int
	MaxDepth int
}

func (o Options) withDefaults() Options {
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	return o
}

// Attr is one attribute with its name as written in the source.
type Attr struct {
	Name  string
	Value string
}

// Element is one element with its qname as written in the source.
type Element struct {
	Name     string // "j:Charge", "xs:import", or unprefixed "root"
	Attrs    []Attr
	Children []*Element
	Text     string // concatenated character data, space-trimmed
}

// Local returns the part after the prefix.
func (e *Element) Local() string { return localOf(e.Name) }

// Prefix returns the namespace prefix, or "".
func (e *Element) Prefix() string {
	if i := strings.IndexByte(e.Name, ':'); i >= 0 {
		return e.Name[:i]
	}
	return ""
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Find returns the first child with the given name, or nil.
func (e *Element) Find(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FindAll returns every child with the given name.
func (e *Element) FindAll(name string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// HasElementChildren reports whether the element has any child elements.
func (e *Element) HasElementChildren() bool { return len(e.Children) > 0 }

func localOf(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Parse reads a full document and returns its root element.
func Parse(data []byte, opts Options) (*Element, error) {
	opts = opts.withDefaults()
	if len(data) > opts.MaxBytes {
		return nil, fmt.Errorf("xml document is %d bytes, cap is %d", len(data), opts.MaxBytes)
	}

	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = true

	var root *Element
	var stack []*Element
	var text []*strings.Builder

	for {
		tok, err := d.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xml parse: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) >= opts.MaxDepth {
				return nil, fmt.Errorf("xml nesting exceeds depth cap %d", opts.MaxDepth)
			}
			el := &Element{Name: rawName(t.Name)}
			for _, a := range t.Attr {
				el.Attrs = append(el.Attrs, Attr{Name: rawName(a.Name), Value: a.Value})
			}
			if root == nil && len(stack) == 0 {
				root = el
			} else if len(stack) == 0 {
				return nil, fmt.Errorf("xml parse: multiple root elements")
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)
			text = append(text, &strings.Builder{})
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("xml parse: unexpected end tag </%s>", rawName(t.Name))
			}
			el := stack[len(stack)-1]
			if got := rawName(t.Name); got != el.Name {
				return nil, fmt.Errorf("xml parse: </%s> closes <%s>", got, el.Name)
			}
			el.Text = strings.TrimSpace(text[len(text)-1].String())
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
		case xml.CharData:
			if len(stack) > 0 {
				text[len(text)-1].Write(t)
			} else if len(strings.TrimSpace(string(t))) > 0 {
				return nil, fmt.Errorf("xml parse: character data outside root element")
			}
		case xml.Directive:
			// DOCTYPE and friends: rejected wholesale so no entity or
			// external subset processing can ever happen downstream.
			return nil, fmt.Errorf("xml parse: DTD/directive not allowed")
		case xml.ProcInst, xml.Comment:
			// ignored
		}
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("xml parse: unclosed element <%s>", stack[len(stack)-1].Name)
	}
	if root == nil {
		return nil, fmt.Errorf("xml parse: no root element")
	}
	return root, nil
}

func rawName(n xml.Name) string {
	if n.Space != "" {
		return n.Space + ":" + n.Local
	}
	return n.Local
}
