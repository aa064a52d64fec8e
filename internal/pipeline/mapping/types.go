// Package mapping defines the compiled projection contract for one schema
// bundle and the compiler that derives it from the canonical model. A
// mapping is a pure function of the canonical-model bytes: identical bundles
// produce byte-identical mappings.
package mapping

import "strings"

type Namespace struct {
	Prefix string `json:"prefix" yaml:"prefix"`
	IRI    string `json:"iri" yaml:"iri"`
}

// ScalarProp is one simple-valued property of an object class.
type ScalarProp struct {
	Path     string `json:"path" yaml:"path"`         // field qname, relative to the object
	Property string `json:"property" yaml:"property"` // graph property key
	Datatype string `json:"datatype" yaml:"datatype"`
}

// Object is one projectable object class, keyed by the element qname that
// instantiates it.
type Object struct {
	QName               string       `json:"qname" yaml:"qname"`
	Label               string       `json:"label" yaml:"label"`
	CarriesStructuresID bool         `json:"carriesStructuresId" yaml:"carriesStructuresId"`
	ScalarProps         []ScalarProp `json:"scalarProps" yaml:"scalarProps"`
}

// Reference is one object-valued field of an owner object.
type Reference struct {
	Owner       string `json:"owner" yaml:"owner"`
	Field       string `json:"field" yaml:"field"`
	TargetLabel string `json:"targetLabel" yaml:"targetLabel"`
	RelType     string `json:"relType" yaml:"relType"`
	Via         string `json:"via" yaml:"via"`
	Cardinality string `json:"cardinality" yaml:"cardinality"`
}

// Endpoint is one role of an association.
type Endpoint struct {
	Role        string `json:"role" yaml:"role"`
	TargetLabel string `json:"targetLabel" yaml:"targetLabel"`
	Direction   string `json:"direction" yaml:"direction"`
	Via         string `json:"via" yaml:"via"`
	Cardinality string `json:"cardinality" yaml:"cardinality"`
}

// Association is an n-ary relationship element.
type Association struct {
	QName     string     `json:"qname" yaml:"qname"`
	RelType   string     `json:"relType" yaml:"relType"`
	Endpoints []Endpoint `json:"endpoints" yaml:"endpoints"`
}

// Augmentation records a wrapper element whose children fold into the
// augmented parent instead of forming a node.
type Augmentation struct {
	QName          string       `json:"qname" yaml:"qname"` // wrapper element qname
	Target         string       `json:"target" yaml:"target"`
	AddedProps     []ScalarProp `json:"addedProps" yaml:"addedProps"`
	AddedRelations []Reference  `json:"addedRelations" yaml:"addedRelations"`
}

type Polymorphism struct {
	Strategy     string `json:"strategy" yaml:"strategy"`
	TypeProperty string `json:"typePropertyName" yaml:"typePropertyName"`
}

// Mapping is the full projection contract. Field order here fixes the
// serialized order; all slices are kept canonically sorted.
type Mapping struct {
	Namespaces    []Namespace    `json:"namespaces" yaml:"namespaces"`
	Objects       []Object       `json:"objects" yaml:"objects"`
	References    []Reference    `json:"references" yaml:"references"`
	Associations  []Association  `json:"associations" yaml:"associations"`
	Augmentations []Augmentation `json:"augmentations" yaml:"augmentations"`
	Polymorphism  Polymorphism   `json:"polymorphism" yaml:"polymorphism"`
}

// EntityLabel is the hub label; it is a valid reference target without being
// a declared object.
const EntityLabel = "Entity"

// LabelFor derives a node label from a qname: the colon becomes an
// underscore.
func LabelFor(qname string) string {
	return strings.ReplaceAll(qname, ":", "_")
}

// PropKeyFor derives a graph property key from a field qname.
func PropKeyFor(qname string) string {
	return strings.ReplaceAll(qname, ":", "_")
}

// RelTypeFor derives the relationship type for an object-valued field:
// HAS_ plus the upper-cased local name, non-alphanumerics replaced.
func RelTypeFor(fieldQName string) string {
	local := fieldQName
	if i := strings.IndexByte(local, ':'); i >= 0 {
		local = local[i+1:]
	}
	var b strings.Builder
	b.WriteString("HAS_")
	for _, r := range strings.ToUpper(local) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Index is the lookup view the projector works against.
type Index struct {
	objects       map[string]*Object
	associations  map[string]*Association
	augmentations map[string]*Augmentation
	references    map[string]map[string]*Reference // owner qname -> field qname
	scalars       map[string]map[string]*ScalarProp
	prefixes      map[string]string
}

// Index builds the lookup view. The receiver must not be mutated afterwards.
func (m *Mapping) Index() *Index {
	ix := &Index{
		objects:       map[string]*Object{},
		associations:  map[string]*Association{},
		augmentations: map[string]*Augmentation{},
		references:    map[string]map[string]*Reference{},
		scalars:       map[string]map[string]*ScalarProp{},
		prefixes:      map[string]string{},
	}
	for i := range m.Objects {
		o := &m.Objects[i]
		ix.objects[o.QName] = o
		sc := map[string]*ScalarProp{}
		for j := range o.ScalarProps {
			sc[o.ScalarProps[j].Path] = &o.ScalarProps[j]
		}
		ix.scalars[o.QName] = sc
	}
	for i := range m.Associations {
		ix.associations[m.Associations[i].QName] = &m.Associations[i]
	}
	for i := range m.Augmentations {
		ix.augmentations[m.Augmentations[i].QName] = &m.Augmentations[i]
	}
	for i := range m.References {
		r := &m.References[i]
		byField := ix.references[r.Owner]
		if byField == nil {
			byField = map[string]*Reference{}
			ix.references[r.Owner] = byField
		}
		byField[r.Field] = r
	}
	for _, ns := range m.Namespaces {
		ix.prefixes[ns.Prefix] = ns.IRI
	}
	return ix
}

// Object returns the object declared for an element qname, or nil.
func (ix *Index) Object(qname string) *Object { return ix.objects[qname] }

// Association returns the association declared for an element qname, or nil.
func (ix *Index) Association(qname string) *Association { return ix.associations[qname] }

// Augmentation returns the augmentation whose wrapper element is qname, or nil.
func (ix *Index) Augmentation(qname string) *Augmentation { return ix.augmentations[qname] }

// Reference returns the declared reference for an owner/field pair, or nil.
func (ix *Index) Reference(owner, field string) *Reference {
	if byField, ok := ix.references[owner]; ok {
		return byField[field]
	}
	return nil
}

// ScalarProp returns the scalar declaration for an object field, or nil.
func (ix *Index) ScalarProp(owner, field string) *ScalarProp {
	if sc, ok := ix.scalars[owner]; ok {
		return sc[field]
	}
	return nil
}

// KnownPrefix reports whether the qname's prefix belongs to a declared
// namespace. Unprefixed names count as known.
func (ix *Index) KnownPrefix(qname string) bool {
	i := strings.IndexByte(qname, ':')
	if i < 0 {
		return true
	}
	_, ok := ix.prefixes[qname[:i]]
	return ok
}
