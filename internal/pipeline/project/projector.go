package project

import (
	"context"
	"strconv"
	"strings"

	"niemgraph/internal/pipeline/mapping"
	"niemgraph/internal/pipeline/report"
	"niemgraph/internal/pipeline/xmltree"
)

// ProjectXML projects an XML instance document. Strict: an element whose
// namespace prefix the active mapping does not declare fails the file.
func ProjectXML(ctx context.Context, data []byte, opts Options) (*Result, error) {
	root, err := xmltree.Parse(data, xmltree.Options{MaxBytes: opts.MaxBytes, MaxDepth: opts.MaxDepth})
	if err != nil {
		return nil, &report.ProjectionError{Rule: "parse", Reason: err.Error()}
	}
	return run(ctx, fromXML(root, "", 0), data, opts, true)
}

// ProjectJSON projects a JSON instance document. Unknown elements are
// warned about and skipped rather than failing the file, matching the
// permissive JSON validation path. Size and depth caps match the XML path.
func ProjectJSON(ctx context.Context, data []byte, opts Options) (*Result, error) {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = xmltree.DefaultMaxBytes
	}
	if len(data) > maxBytes {
		return nil, &report.ProjectionError{Rule: "parse", Reason: "json document exceeds size cap"}
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = xmltree.DefaultMaxDepth
	}
	root, err := fromJSON(data, maxDepth)
	if err != nil {
		return nil, &report.ProjectionError{Rule: "parse", Reason: err.Error()}
	}
	return run(ctx, root, data, opts, false)
}

type projector struct {
	opts   Options
	ix     *mapping.Index
	fh     string
	strict bool

	nodes    map[string]*Node
	order    []string
	edges    []edgeIntent
	roles    map[string][]*roleRef // entity id -> roles, document order
	roleSeen []string              // entity ids in first-occurrence order
	warnings []string
}

type roleRef struct {
	node  *Node
	qname string
}

// edgeIntent is an edge recorded during the node pass. ref-form intents
// resolve against the interned node set (or a hub) once the walk completes.
type edgeIntent struct {
	fromID    string
	fromLabel string
	relType   string
	toID      string // resolved target, mutually exclusive with ref
	toLabel   string
	ref       string // unprefixed local reference target
	props     map[string]any
}

// frame is one worklist entry: an element plus the projected node it hangs
// under. assocRole is set for direct children of an association element.
type frame struct {
	el        *element
	parent    *Node
	parentQ   string // element qname of parent, for mapping lookups
	flatten   string // accumulated key prefix for flattened ancestors
	assocRole string
}

func run(ctx context.Context, root *element, data []byte, opts Options, strict bool) (*Result, error) {
	var ix *mapping.Index
	if opts.Mapping != nil {
		ix = opts.Mapping.Index()
	}
	p := &projector{
		opts:   opts,
		ix:     ix,
		fh:     FileHash(opts.SourceDoc, opts.UploadID, data),
		strict: strict,
		nodes:  map[string]*Node{},
		roles:  map[string][]*roleRef{},
	}

	// Pass 1: depth-first walk interning nodes and recording edge intents.
	// Children are pushed in reverse so pop order is document order.
	work := []frame{{el: root}}
	for len(work) > 0 {
		f := work[len(work)-1]
		work = work[:len(work)-1]
		next, err := p.step(f)
		if err != nil {
			return nil, err
		}
		for i := len(next) - 1; i >= 0; i-- {
			work = append(work, next[i])
		}
	}

	// Cancellation point between the node walk and reference resolution.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.finalizeHubs()

	// Pass 2: resolve references and materialize edges.
	res := &Result{FileHash: p.fh}
	for _, id := range p.order {
		res.Nodes = append(res.Nodes, *p.nodes[id])
	}
	for _, in := range p.edges {
		res.Edges = append(res.Edges, p.resolve(in))
	}
	res.Warnings = p.warnings
	return res, nil
}

// step processes one frame and returns the frames for the children that
// still need walking.
func (p *projector) step(f frame) ([]frame, error) {
	el := f.el

	// Pure reference: an edge, never a node.
	if el.refCarrier() {
		if f.parent == nil {
			return nil, &report.ProjectionError{Rule: "reference", Element: el.qname, Reason: "document root cannot be a reference"}
		}
		in := edgeIntent{
			fromID:    f.parent.ID,
			fromLabel: f.parent.Labels[0],
			relType:   p.containmentRel(f.parentQ, el.qname),
			ref:       el.ref,
		}
		if f.assocRole != "" {
			in.relType = "ASSOCIATED_WITH"
			in.props = map[string]any{"role_qname": f.assocRole}
		}
		p.edges = append(p.edges, in)
		return nil, nil
	}

	if p.ix != nil {
		if aug := p.ix.Augmentation(el.qname); aug != nil && f.parent != nil {
			return p.stepAugmentation(f, aug), nil
		}
	}

	isNode, skip, err := p.classify(f)
	if err != nil {
		return nil, err
	}
	if skip {
		return nil, nil
	}
	if !isNode {
		if el.scalar() {
			p.setScalar(f.parent, f.parentQ, f.flatten, el)
			return nil, nil
		}
		// Unlisted complex element: flatten into the nearest listed
		// ancestor with a path-joined key prefix.
		prefix := f.flatten + mapping.PropKeyFor(el.qname) + "__"
		out := make([]frame, 0, len(el.children))
		for _, c := range el.children {
			out = append(out, frame{el: c, parent: f.parent, parentQ: f.parentQ, flatten: prefix})
		}
		return out, nil
	}

	node := p.intern(f)
	if f.parent != nil {
		in := edgeIntent{
			fromID:    f.parent.ID,
			fromLabel: f.parent.Labels[0],
			relType:   p.containmentRel(f.parentQ, el.qname),
			toID:      node.ID,
			toLabel:   node.Labels[0],
		}
		if f.assocRole != "" {
			in.relType = "ASSOCIATED_WITH"
			in.props = map[string]any{"role_qname": f.assocRole}
		}
		p.edges = append(p.edges, in)
	}

	isAssoc := p.ix != nil && p.ix.Association(el.qname) != nil
	out := make([]frame, 0, len(el.children))
	for _, c := range el.children {
		nf := frame{el: c, parent: node, parentQ: el.qname}
		if isAssoc {
			nf.assocRole = c.qname
		}
		out = append(out, nf)
	}
	return out, nil
}

// stepAugmentation folds a wrapper element into the augmented parent:
// scalar children become flagged properties, complex children reparent.
func (p *projector) stepAugmentation(f frame, aug *mapping.Augmentation) []frame {
	var out []frame
	for _, c := range f.el.children {
		if c.scalar() {
			key := mapping.PropKeyFor(c.qname)
			p.setProp(f.parent, key, p.coerce(augDatatype(aug, c.qname), c.text, c.qname))
			f.parent.Props[key+"_isAugmentation"] = true
			continue
		}
		out = append(out, frame{el: c, parent: f.parent, parentQ: f.parentQ})
	}
	return out
}

func augDatatype(aug *mapping.Augmentation, qname string) string {
	for _, sp := range aug.AddedProps {
		if sp.Path == qname {
			return sp.Datatype
		}
	}
	return ""
}

// classify decides nodehood for the element. skip means drop the subtree
// (permissive unknown handling).
func (p *projector) classify(f frame) (isNode, skip bool, err error) {
	el := f.el
	if f.parent == nil {
		return true, false, nil // the root always projects
	}
	if p.ix == nil {
		return !el.scalar(), false, nil // dynamic mode
	}
	if p.ix.Object(el.qname) != nil || p.ix.Association(el.qname) != nil {
		return true, false, nil
	}
	if !p.ix.KnownPrefix(el.qname) {
		if p.strict {
			return false, false, &report.ProjectionError{Rule: "unknown_element", Element: el.qname, Reason: "namespace prefix not declared by the active mapping"}
		}
		p.warn("unknown element " + el.qname + " skipped")
		return false, true, nil
	}
	// Identity attributes force nodehood even for unlisted elements so
	// references to them stay resolvable.
	if el.id != "" || el.uri != "" {
		return true, false, nil
	}
	return false, false, nil
}

// intern creates (or merges into) the node for an element that projects.
func (p *projector) intern(f frame) *Node {
	el := f.el

	var id string
	switch {
	case el.id != "":
		id = p.fh + "_" + el.id
	default:
		var parentID string
		if f.parent != nil {
			parentID = f.parent.ID
		}
		id = syntheticID(p.fh, parentID, el.qname, el.path)
	}

	label := mapping.LabelFor(el.qname)
	if p.ix != nil {
		if obj := p.ix.Object(el.qname); obj != nil {
			label = obj.Label
		}
	}

	if existing, ok := p.nodes[id]; ok {
		if q, _ := existing.Props["qname"].(string); q != el.qname {
			p.warn("id " + id + " shared by " + q + " and " + el.qname)
		}
		p.fillNode(existing, f, el)
		return existing
	}

	node := &Node{ID: id, Labels: []string{label}, Props: map[string]any{
		"id":         id,
		"qname":      el.qname,
		"sourceDoc":  p.opts.SourceDoc,
		"_schema_id": p.opts.SchemaID,
		"_upload_id": p.opts.UploadID,
	}}
	p.nodes[id] = node
	p.order = append(p.order, id)
	p.fillNode(node, f, el)

	if el.uri != "" {
		entity := strings.TrimPrefix(el.uri, "#")
		if _, seen := p.roles[entity]; !seen {
			p.roleSeen = append(p.roleSeen, entity)
		}
		p.roles[entity] = append(p.roles[entity], &roleRef{node: node, qname: el.qname})
	}
	return node
}

// fillNode applies identity-independent element content to the node.
func (p *projector) fillNode(node *Node, f frame, el *element) {
	if el.id != "" {
		node.Props["structures_id"] = el.id
	}
	if el.xsiType != "" {
		node.Props["xsiType"] = el.xsiType
		p.addLabel(node, mapping.LabelFor(el.xsiType))
	}
	if p.ix != nil && p.ix.Association(el.qname) != nil {
		node.Props["_isAssociation"] = true
	}
	if el.text != "" {
		p.setProp(node, "value", el.text)
	}
	// Elements with a ref AND an inline payload are nodes that also point
	// at the referenced entity.
	if el.ref != "" {
		p.edges = append(p.edges, edgeIntent{
			fromID:    node.ID,
			fromLabel: node.Labels[0],
			relType:   "REFERS_TO",
			ref:       el.ref,
		})
	}
	for _, a := range el.attrs {
		if strings.HasSuffix(a.name, "metadataRef") {
			p.warn("metadata reference " + a.name + " on " + el.qname + " kept as property, no edge emitted")
		}
		p.setProp(node, mapping.PropKeyFor(a.name), a.value)
	}
}

func (p *projector) addLabel(node *Node, label string) {
	for _, l := range node.Labels {
		if l == label {
			return
		}
	}
	node.Labels = append(node.Labels, label)
}

// setScalar places one simple-content child as a property, coercing through
// the mapping's declared datatype when one exists.
func (p *projector) setScalar(node *Node, ownerQName, flatten string, el *element) {
	if node == nil {
		return
	}
	var datatype string
	if p.ix != nil && flatten == "" {
		if sp := p.ix.ScalarProp(ownerQName, el.qname); sp != nil {
			datatype = sp.Datatype
		}
	}
	key := flatten + mapping.PropKeyFor(el.qname)
	p.setProp(node, key, p.coerce(datatype, el.text, el.qname))
	for _, a := range el.attrs {
		p.setProp(node, key+"_"+mapping.PropKeyFor(a.name), a.value)
	}
}

// setProp appends on repetition: the second write of a key turns the value
// into an array, preserving order.
func (p *projector) setProp(node *Node, key string, val any) {
	existing, ok := node.Props[key]
	if !ok {
		node.Props[key] = val
		return
	}
	if arr, ok := existing.([]any); ok {
		node.Props[key] = append(arr, val)
		return
	}
	node.Props[key] = []any{existing, val}
}

// coerce applies the declared datatype; unparseable values stay strings
// with a warning rather than failing the file.
func (p *projector) coerce(datatype, text, qname string) any {
	switch datatype {
	case "xs:boolean":
		switch text {
		case "true", "1":
			return true
		case "false", "0":
			return false
		}
	case "xs:int", "xs:integer", "xs:long", "xs:short", "xs:byte",
		"xs:nonNegativeInteger", "xs:positiveInteger", "xs:unsignedInt":
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n
		}
	case "xs:decimal", "xs:double", "xs:float":
		if x, err := strconv.ParseFloat(text, 64); err == nil {
			return x
		}
	default:
		return text
	}
	p.warn("value " + strconv.Quote(text) + " of " + qname + " does not parse as " + datatype)
	return text
}

// containmentRel picks the edge type for a parent-to-child edge: the
// mapping-declared relationship when one exists, the HAS_* derivation for
// mapped documents otherwise, and plain CONTAINS in dynamic mode.
func (p *projector) containmentRel(ownerQName, fieldQName string) string {
	if p.ix == nil {
		return "CONTAINS"
	}
	if ref := p.ix.Reference(ownerQName, fieldQName); ref != nil {
		return ref.RelType
	}
	return mapping.RelTypeFor(fieldQName)
}

// finalizeHubs materializes one hub per entity id shared by two or more
// roles. A uri that occurs once projects as an ordinary node and the uri is
// consumed without trace.
func (p *projector) finalizeHubs() {
	for _, entity := range p.roleSeen {
		roles := p.roles[entity]
		if len(roles) < 2 {
			continue
		}
		hubID := p.fh + "_hub_" + entity
		types := make([]any, 0, len(roles))
		for _, r := range roles {
			types = append(types, r.qname)
		}
		hub := &Node{ID: hubID, Labels: []string{mapping.EntityLabel, mapping.EntityLabel + "_" + entity}, Props: map[string]any{
			"id":         hubID,
			"qname":      mapping.EntityLabel,
			"sourceDoc":  p.opts.SourceDoc,
			"_schema_id": p.opts.SchemaID,
			"_upload_id": p.opts.UploadID,
			"_isHub":     true,
			"entity_id":  entity,
			"uri_value":  "#" + entity,
			"role_count": len(roles),
			"role_types": types,
		}}
		p.nodes[hubID] = hub
		p.order = append(p.order, hubID)
		for _, r := range roles {
			r.node.Props["_isRole"] = true
			r.node.Props["structures_uri"] = "#" + entity
			p.edges = append(p.edges, edgeIntent{
				fromID:    r.node.ID,
				fromLabel: r.node.Labels[0],
				relType:   "REPRESENTS",
				toID:      hubID,
				toLabel:   mapping.EntityLabel,
			})
		}
	}
}

// resolve turns a recorded intent into a concrete edge. Reference targets
// bind to the interned node, then to a hub, then dangle (with a warning)
// against the id the target would have carried.
func (p *projector) resolve(in edgeIntent) Edge {
	e := Edge{
		FromID:    in.fromID,
		FromLabel: in.fromLabel,
		ToID:      in.toID,
		ToLabel:   in.toLabel,
		RelType:   in.relType,
		Props:     in.props,
	}
	if in.ref == "" {
		return e
	}
	if n, ok := p.nodes[p.fh+"_"+in.ref]; ok {
		e.ToID, e.ToLabel = n.ID, n.Labels[0]
		return e
	}
	if len(p.roles[in.ref]) >= 2 {
		e.ToID, e.ToLabel = p.fh+"_hub_"+in.ref, mapping.EntityLabel
		return e
	}
	e.ToID, e.ToLabel = p.fh+"_"+in.ref, ""
	p.warn("reference " + in.ref + " has no target in this file")
	return e
}

func (p *projector) warn(msg string) { p.warnings = append(p.warnings, msg) }
