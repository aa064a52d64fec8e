package tool

import (
	"sort"

	"niemgraph/internal/pipeline/report"
	"niemgraph/internal/pipeline/xmltree"
)

// Namespaces every XSD may import without the bundle providing them.
var builtinNamespaces = map[string]bool{
	"http://www.w3.org/2001/XMLSchema":          true,
	"http://www.w3.org/XML/1998/namespace":      true,
	"http://www.w3.org/2001/XMLSchema-instance": true,
}

// checkImports verifies that every namespace imported by a bundle member is
// the target namespace of some other member. It runs before the external
// tool so obviously incomplete bundles fail fast and offline.
func checkImports(files []SchemaFile) error {
	provided := map[string]bool{}
	neededBy := map[string][]string{}

	for _, f := range files {
		root, err := xmltree.Parse(f.Data, xmltree.Options{})
		if err != nil {
			// Malformed members are the NDR validator's finding to make.
			continue
		}
		if root.Local() != "schema" {
			continue
		}
		if tns, ok := root.Attr("targetNamespace"); ok {
			provided[tns] = true
		}
		for _, c := range root.Children {
			if c.Local() != "import" {
				continue
			}
			ns, ok := c.Attr("namespace")
			if !ok || builtinNamespaces[ns] {
				continue
			}
			neededBy[ns] = append(neededBy[ns], f.Name)
		}
	}

	var missing []report.MissingImport
	for ns, by := range neededBy {
		if provided[ns] {
			continue
		}
		sort.Strings(by)
		missing = append(missing, report.MissingImport{Namespace: ns, NeededBy: by})
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Namespace < missing[j].Namespace })
	return &report.SchemaIncompleteError{Missing: missing}
}
