// Package cmf loads the canonical model the external NIEM tool derives from
// a validated XSD bundle. The byte stream is treated as opaque everywhere
// else in the pipeline; this package gives the mapping compiler an indexed
// view of the subset it consumes: namespaces, classes, properties, and
// datatypes, all cross-linked by structures:id / structures:ref.
package cmf

import (
	"fmt"
	"strings"

	"niemgraph/internal/pipeline/xmltree"
)

// Well-known structures-namespace base classes. Derivation from these drives
// object / association / augmentation classification.
const (
	ObjectBaseID      = "structures.ObjectType"
	AssociationBaseID = "structures.AssociationType"
	AugmentationBase  = "structures.AugmentationType"
)

type Namespace struct {
	Prefix string
	URI    string
}

type PropertyRef struct {
	ObjectRef string // structures:ref of an ObjectProperty
	DataRef   string // structures:ref of a DataProperty
	MinOccurs string
	MaxOccurs string
}

type Class struct {
	ID            string
	Name          string
	NamespaceRef  string
	SubClassOfRef string
	Props         []PropertyRef
}

type ObjectProperty struct {
	ID               string
	Name             string
	NamespaceRef     string
	ClassRef         string
	SubPropertyOfRef string
	Abstract         bool
}

type DataProperty struct {
	ID           string
	Name         string
	NamespaceRef string
	DatatypeRef  string
}

type Datatype struct {
	ID           string
	Name         string
	NamespaceRef string
}

type Model struct {
	Namespaces  []Namespace
	Classes     map[string]*Class
	ObjectProps map[string]*ObjectProperty
	DataProps   map[string]*DataProperty
	Datatypes   map[string]*Datatype

	prefixByRef map[string]string // namespace ref id -> prefix
}

const (
	maxModelBytes = 10 << 20
	maxModelDepth = 200
)

// Load parses canonical-model bytes into an indexed Model.
func Load(data []byte) (*Model, error) {
	root, err := xmltree.Parse(data, xmltree.Options{MaxBytes: maxModelBytes, MaxDepth: maxModelDepth})
	if err != nil {
		return nil, fmt.Errorf("canonical model: %w", err)
	}
	if root.Local() != "Model" {
		return nil, fmt.Errorf("canonical model: root element is %s, want Model", root.Name)
	}

	m := &Model{
		Classes:     map[string]*Class{},
		ObjectProps: map[string]*ObjectProperty{},
		DataProps:   map[string]*DataProperty{},
		Datatypes:   map[string]*Datatype{},
		prefixByRef: map[string]string{},
	}

	for _, el := range root.Children {
		switch el.Local() {
		case "Namespace":
			prefix := childText(el, "NamespacePrefixText")
			uri := childText(el, "NamespaceURI")
			if prefix == "" || uri == "" {
				return nil, fmt.Errorf("canonical model: Namespace without prefix or URI")
			}
			m.Namespaces = append(m.Namespaces, Namespace{Prefix: prefix, URI: uri})
			if id := structuresID(el); id != "" {
				m.prefixByRef[id] = prefix
			}
		case "Class":
			c := &Class{
				ID:            structuresID(el),
				Name:          childText(el, "Name"),
				NamespaceRef:  childRef(el, "Namespace"),
				SubClassOfRef: childRef(el, "SubClassOf"),
			}
			if c.ID == "" {
				return nil, fmt.Errorf("canonical model: Class %q without structures:id", c.Name)
			}
			for _, hp := range childrenNamed(el, "HasProperty") {
				pr := PropertyRef{
					ObjectRef: childRef(hp, "ObjectProperty"),
					DataRef:   childRef(hp, "DataProperty"),
					MinOccurs: childText(hp, "MinOccursQuantity"),
					MaxOccurs: childText(hp, "MaxOccursQuantity"),
				}
				if pr.ObjectRef == "" && pr.DataRef == "" {
					return nil, fmt.Errorf("canonical model: class %s has property without target", c.ID)
				}
				c.Props = append(c.Props, pr)
			}
			m.Classes[c.ID] = c
		case "ObjectProperty":
			p := &ObjectProperty{
				ID:               structuresID(el),
				Name:             childText(el, "Name"),
				NamespaceRef:     childRef(el, "Namespace"),
				ClassRef:         childRef(el, "Class"),
				SubPropertyOfRef: childRef(el, "SubPropertyOf"),
				Abstract:         strings.EqualFold(childText(el, "AbstractIndicator"), "true"),
			}
			if p.ID == "" {
				return nil, fmt.Errorf("canonical model: ObjectProperty %q without structures:id", p.Name)
			}
			m.ObjectProps[p.ID] = p
		case "DataProperty":
			p := &DataProperty{
				ID:           structuresID(el),
				Name:         childText(el, "Name"),
				NamespaceRef: childRef(el, "Namespace"),
				DatatypeRef:  childRef(el, "Datatype"),
			}
			if p.ID == "" {
				return nil, fmt.Errorf("canonical model: DataProperty %q without structures:id", p.Name)
			}
			m.DataProps[p.ID] = p
		case "Datatype":
			d := &Datatype{
				ID:           structuresID(el),
				Name:         childText(el, "Name"),
				NamespaceRef: childRef(el, "Namespace"),
			}
			if d.ID == "" {
				return nil, fmt.Errorf("canonical model: Datatype %q without structures:id", d.Name)
			}
			m.Datatypes[d.ID] = d
		}
	}
	return m, nil
}

// QNameOf returns prefix:Name for a class or property using its namespace
// reference; it falls back to the id's dotted prefix when the reference is
// not resolvable (the tool emits ids like "j.ChargeType").
func (m *Model) QNameOf(namespaceRef, id, name string) string {
	if p, ok := m.prefixByRef[namespaceRef]; ok {
		return p + ":" + name
	}
	if i := strings.IndexByte(id, '.'); i > 0 {
		return id[:i] + ":" + name
	}
	return name
}

// DerivesFrom walks the SubClassOf chain from classID looking for baseID.
func (m *Model) DerivesFrom(classID, baseID string) bool {
	seen := map[string]bool{}
	for cur := classID; cur != "" && !seen[cur]; {
		seen[cur] = true
		if cur == baseID {
			return true
		}
		c, ok := m.Classes[cur]
		if !ok {
			// Base classes from the structures namespace are referenced
			// but not declared; match on the id directly.
			return cur == baseID
		}
		cur = c.SubClassOfRef
	}
	return false
}

// PropertyChain returns the class's property refs including inherited ones,
// base classes first.
func (m *Model) PropertyChain(classID string) []PropertyRef {
	var chain []*Class
	seen := map[string]bool{}
	for cur := classID; cur != "" && !seen[cur]; {
		seen[cur] = true
		c, ok := m.Classes[cur]
		if !ok {
			break
		}
		chain = append(chain, c)
		cur = c.SubClassOfRef
	}
	var out []PropertyRef
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].Props...)
	}
	return out
}

// Substitutes returns concrete object properties declaring headID as their
// substitution head.
func (m *Model) Substitutes(headID string) []*ObjectProperty {
	var out []*ObjectProperty
	for _, p := range m.ObjectProps {
		if p.SubPropertyOfRef == headID && !p.Abstract {
			out = append(out, p)
		}
	}
	return out
}

func structuresID(el *xmltree.Element) string {
	v, _ := el.Attr("structures:id")
	return v
}

func childText(el *xmltree.Element, local string) string {
	for _, c := range el.Children {
		if c.Local() == local {
			return c.Text
		}
	}
	return ""
}

func childRef(el *xmltree.Element, local string) string {
	for _, c := range el.Children {
		if c.Local() == local {
			if v, ok := c.Attr("structures:ref"); ok {
				return v
			}
		}
	}
	return ""
}

func childrenNamed(el *xmltree.Element, local string) []*xmltree.Element {
	var out []*xmltree.Element
	for _, c := range el.Children {
		if c.Local() == local {
			out = append(out, c)
		}
	}
	return out
}
