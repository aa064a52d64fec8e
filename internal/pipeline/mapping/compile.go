package mapping

import (
	"fmt"
	"sort"
	"strings"

	"niemgraph/internal/pipeline/cmf"
	"niemgraph/internal/pipeline/report"
)

// Compile derives the graph mapping from canonical-model bytes. The result
// depends only on the input bytes: collections are emitted in canonical
// order (namespaces by prefix, objects by qname, scalar props by path,
// endpoints by role), so equal inputs serialize identically.
func Compile(modelBytes []byte) (*Mapping, error) {
	model, err := cmf.Load(modelBytes)
	if err != nil {
		return nil, &report.MappingError{Reason: err.Error()}
	}
	return compileModel(model)
}

func compileModel(model *cmf.Model) (*Mapping, error) {
	m := &Mapping{
		Polymorphism: Polymorphism{Strategy: "extraLabel", TypeProperty: "xsiType"},
	}

	// Namespace prefix table. Duplicate prefixes bound to different IRIs
	// cannot produce unambiguous qnames.
	seen := map[string]string{}
	hasStructures := false
	for _, ns := range model.Namespaces {
		if prev, ok := seen[ns.Prefix]; ok {
			if prev != ns.URI {
				return nil, &report.MappingError{
					Reason: fmt.Sprintf("namespace prefix %q bound to both %s and %s", ns.Prefix, prev, ns.URI),
				}
			}
			continue
		}
		seen[ns.Prefix] = ns.URI
		if ns.Prefix == "structures" {
			hasStructures = true
		}
		m.Namespaces = append(m.Namespaces, Namespace{Prefix: ns.Prefix, IRI: ns.URI})
	}
	if !hasStructures {
		return nil, &report.MappingError{Reason: "canonical model does not declare the structures namespace"}
	}
	sort.Slice(m.Namespaces, func(i, j int) bool { return m.Namespaces[i].Prefix < m.Namespaces[j].Prefix })

	// Classify every concrete element declaration once; the classification
	// is then applied without further lookups.
	type classified struct {
		prop  *cmf.ObjectProperty
		qname string
		kind  string // "object" | "association" | "augmentation"
	}
	var elems []classified
	for _, p := range model.ObjectProps {
		if p.Abstract {
			continue
		}
		if p.ClassRef == "" {
			return nil, &report.MappingError{Reason: fmt.Sprintf("property %s has no class", p.ID)}
		}
		if _, ok := model.Classes[p.ClassRef]; !ok {
			return nil, &report.MappingError{Reason: fmt.Sprintf("property %s targets undeclared class %s", p.ID, p.ClassRef)}
		}
		kind := "object"
		switch {
		case model.DerivesFrom(p.ClassRef, cmf.AssociationBaseID):
			kind = "association"
		case model.DerivesFrom(p.ClassRef, cmf.AugmentationBase):
			kind = "augmentation"
		}
		elems = append(elems, classified{
			prop:  p,
			qname: model.QNameOf(p.NamespaceRef, p.ID, p.Name),
			kind:  kind,
		})
	}
	sort.Slice(elems, func(i, j int) bool { return elems[i].qname < elems[j].qname })

	qnameOfProp := func(p *cmf.ObjectProperty) string {
		return model.QNameOf(p.NamespaceRef, p.ID, p.Name)
	}
	kindOf := map[string]string{}
	for _, e := range elems {
		kindOf[e.qname] = e.kind
	}

	for _, e := range elems {
		switch e.kind {
		case "object":
			obj, refs, err := compileObject(model, e.qname, e.prop, kindOf, qnameOfProp)
			if err != nil {
				return nil, err
			}
			m.Objects = append(m.Objects, *obj)
			m.References = append(m.References, refs...)
		case "association":
			assoc, err := compileAssociation(model, e.qname, e.prop, kindOf, qnameOfProp)
			if err != nil {
				return nil, err
			}
			m.Associations = append(m.Associations, *assoc)
		case "augmentation":
			aug, err := compileAugmentation(model, e.qname, e.prop, kindOf, qnameOfProp)
			if err != nil {
				return nil, err
			}
			m.Augmentations = append(m.Augmentations, *aug)
		}
	}

	sortMapping(m)
	if err := checkTargets(m); err != nil {
		return nil, err
	}
	return m, nil
}

func compileObject(model *cmf.Model, qname string, p *cmf.ObjectProperty, kindOf map[string]string, qnameOfProp func(*cmf.ObjectProperty) string) (*Object, []Reference, error) {
	obj := &Object{
		QName:               qname,
		Label:               LabelFor(qname),
		CarriesStructuresID: model.DerivesFrom(p.ClassRef, cmf.ObjectBaseID),
	}

	var refs []Reference
	for _, pr := range model.PropertyChain(p.ClassRef) {
		if pr.DataRef != "" {
			dp, ok := model.DataProps[pr.DataRef]
			if !ok {
				return nil, nil, &report.MappingError{Reason: fmt.Sprintf("class %s references undeclared data property %s", p.ClassRef, pr.DataRef)}
			}
			fieldQName := model.QNameOf(dp.NamespaceRef, dp.ID, dp.Name)
			obj.ScalarProps = append(obj.ScalarProps, ScalarProp{
				Path:     fieldQName,
				Property: PropKeyFor(fieldQName),
				Datatype: datatypeName(model, dp.DatatypeRef),
			})
			continue
		}
		fp, ok := model.ObjectProps[pr.ObjectRef]
		if !ok {
			return nil, nil, &report.MappingError{Reason: fmt.Sprintf("class %s references undeclared property %s", p.ClassRef, pr.ObjectRef)}
		}
		card := cardinality(pr.MinOccurs, pr.MaxOccurs)
		if fp.Abstract {
			if strings.HasSuffix(fp.Name, "AugmentationPoint") {
				// Augmentation channel; the wrapper entry covers it.
				continue
			}
			// Substitution group: flatten concrete substitutes into the
			// owning reference. The concrete member's qname lands on the
			// node as xsiType at projection time.
			for _, sub := range sortedSubstitutes(model, fp.ID) {
				subQName := qnameOfProp(sub)
				if kindOf[subQName] != "object" {
					continue
				}
				refs = append(refs, Reference{
					Owner:       qname,
					Field:       subQName,
					TargetLabel: LabelFor(subQName),
					RelType:     RelTypeFor(subQName),
					Via:         "structures:ref",
					Cardinality: card,
				})
			}
			continue
		}
		fieldQName := qnameOfProp(fp)
		switch kindOf[fieldQName] {
		case "association", "augmentation":
			// Associations carry their own entries; augmentation wrappers
			// never become reference targets.
			continue
		}
		refs = append(refs, Reference{
			Owner:       qname,
			Field:       fieldQName,
			TargetLabel: LabelFor(fieldQName),
			RelType:     RelTypeFor(fieldQName),
			Via:         "structures:ref",
			Cardinality: card,
		})
	}
	sort.Slice(obj.ScalarProps, func(i, j int) bool { return obj.ScalarProps[i].Path < obj.ScalarProps[j].Path })
	return obj, refs, nil
}

func compileAssociation(model *cmf.Model, qname string, p *cmf.ObjectProperty, kindOf map[string]string, qnameOfProp func(*cmf.ObjectProperty) string) (*Association, error) {
	assoc := &Association{QName: qname, RelType: "ASSOCIATED_WITH"}
	for _, pr := range model.PropertyChain(p.ClassRef) {
		if pr.ObjectRef == "" {
			continue // scalar payload of the association itself
		}
		rp, ok := model.ObjectProps[pr.ObjectRef]
		if !ok {
			return nil, &report.MappingError{Reason: fmt.Sprintf("association %s references undeclared role %s", qname, pr.ObjectRef)}
		}
		target := EntityLabel
		roleQName := qnameOfProp(rp)
		if !rp.Abstract && kindOf[roleQName] == "object" {
			target = LabelFor(roleQName)
		}
		assoc.Endpoints = append(assoc.Endpoints, Endpoint{
			Role:        roleQName,
			TargetLabel: target,
			Direction:   "out",
			Via:         "structures:ref",
			Cardinality: cardinality(pr.MinOccurs, pr.MaxOccurs),
		})
	}
	sort.Slice(assoc.Endpoints, func(i, j int) bool { return assoc.Endpoints[i].Role < assoc.Endpoints[j].Role })
	return assoc, nil
}

func compileAugmentation(model *cmf.Model, qname string, p *cmf.ObjectProperty, kindOf map[string]string, qnameOfProp func(*cmf.ObjectProperty) string) (*Augmentation, error) {
	aug := &Augmentation{QName: qname}

	// The wrapper substitutes for a class's augmentation point; that class
	// is the augmentation target.
	if headID := p.SubPropertyOfRef; headID != "" {
		var owners []string
		for id, c := range model.Classes {
			for _, pr := range c.Props {
				if pr.ObjectRef == headID {
					owners = append(owners, id)
				}
			}
		}
		sort.Strings(owners)
		if len(owners) > 0 {
			c := model.Classes[owners[0]]
			aug.Target = model.QNameOf(c.NamespaceRef, c.ID, c.Name)
		}
	}

	for _, pr := range model.PropertyChain(p.ClassRef) {
		if pr.DataRef != "" {
			dp, ok := model.DataProps[pr.DataRef]
			if !ok {
				return nil, &report.MappingError{Reason: fmt.Sprintf("augmentation %s references undeclared data property %s", qname, pr.DataRef)}
			}
			fieldQName := model.QNameOf(dp.NamespaceRef, dp.ID, dp.Name)
			aug.AddedProps = append(aug.AddedProps, ScalarProp{
				Path:     fieldQName,
				Property: PropKeyFor(fieldQName),
				Datatype: datatypeName(model, dp.DatatypeRef),
			})
			continue
		}
		fp, ok := model.ObjectProps[pr.ObjectRef]
		if !ok || fp.Abstract {
			continue
		}
		fieldQName := qnameOfProp(fp)
		if kindOf[fieldQName] != "object" {
			continue
		}
		aug.AddedRelations = append(aug.AddedRelations, Reference{
			Owner:       qname,
			Field:       fieldQName,
			TargetLabel: LabelFor(fieldQName),
			RelType:     RelTypeFor(fieldQName),
			Via:         "structures:ref",
			Cardinality: cardinality(pr.MinOccurs, pr.MaxOccurs),
		})
	}
	sort.Slice(aug.AddedProps, func(i, j int) bool { return aug.AddedProps[i].Path < aug.AddedProps[j].Path })
	sort.Slice(aug.AddedRelations, func(i, j int) bool { return aug.AddedRelations[i].Field < aug.AddedRelations[j].Field })
	return aug, nil
}

func sortedSubstitutes(model *cmf.Model, headID string) []*cmf.ObjectProperty {
	subs := model.Substitutes(headID)
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs
}

func sortMapping(m *Mapping) {
	sort.Slice(m.Objects, func(i, j int) bool { return m.Objects[i].QName < m.Objects[j].QName })
	sort.Slice(m.Associations, func(i, j int) bool { return m.Associations[i].QName < m.Associations[j].QName })
	sort.Slice(m.Augmentations, func(i, j int) bool { return m.Augmentations[i].QName < m.Augmentations[j].QName })
	sort.Slice(m.References, func(i, j int) bool {
		if m.References[i].Owner != m.References[j].Owner {
			return m.References[i].Owner < m.References[j].Owner
		}
		return m.References[i].Field < m.References[j].Field
	})
}

// checkTargets enforces that every reference and endpoint target resolves to
// a declared object label or the hub label.
func checkTargets(m *Mapping) error {
	labels := map[string]bool{EntityLabel: true}
	for _, o := range m.Objects {
		labels[o.Label] = true
	}
	for _, r := range m.References {
		if !labels[r.TargetLabel] {
			return &report.MappingError{Reason: fmt.Sprintf("reference %s.%s targets unknown label %s", r.Owner, r.Field, r.TargetLabel)}
		}
	}
	for _, a := range m.Associations {
		for _, ep := range a.Endpoints {
			if !labels[ep.TargetLabel] {
				return &report.MappingError{Reason: fmt.Sprintf("association %s role %s targets unknown label %s", a.QName, ep.Role, ep.TargetLabel)}
			}
		}
	}
	return nil
}

func datatypeName(model *cmf.Model, ref string) string {
	if dt, ok := model.Datatypes[ref]; ok {
		return model.QNameOf(dt.NamespaceRef, dt.ID, dt.Name)
	}
	// xs.* datatypes are referenced without declarations.
	if i := strings.IndexByte(ref, '.'); i > 0 {
		return ref[:i] + ":" + ref[i+1:]
	}
	return "xs:string"
}

func cardinality(min, max string) string {
	if min == "" {
		min = "0"
	}
	switch strings.ToLower(max) {
	case "", "1":
		return min + "..1"
	case "unbounded":
		return min + "..n"
	default:
		return min + ".." + max
	}
}
