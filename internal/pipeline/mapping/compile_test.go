package mapping

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"niemgraph/internal/pipeline/report"
)

// crashModel is a small crash-driver exchange in the canonical-model dialect
// the external tool emits: namespaces, classes keyed by structures:id, and
// properties cross-linked by structures:ref.
const crashModel = `<Model xmlns="https://docs.oasis-open.org/niemopen/ns/model/cmf/1.0/">
  <Namespace structures:id="structures">
    <NamespacePrefixText>structures</NamespacePrefixText>
    <NamespaceURI>https://docs.oasis-open.org/niemopen/ns/model/structures/6.0/</NamespaceURI>
  </Namespace>
  <Namespace structures:id="exch">
    <NamespacePrefixText>exch</NamespacePrefixText>
    <NamespaceURI>http://example.com/CrashDriver/1.2/</NamespaceURI>
  </Namespace>
  <Namespace structures:id="j">
    <NamespacePrefixText>j</NamespacePrefixText>
    <NamespaceURI>https://docs.oasis-open.org/niemopen/ns/model/domains/justice/6.0/</NamespaceURI>
  </Namespace>
  <Namespace structures:id="nc">
    <NamespacePrefixText>nc</NamespacePrefixText>
    <NamespaceURI>https://docs.oasis-open.org/niemopen/ns/model/niem-core/6.0/</NamespaceURI>
  </Namespace>

  <Class structures:id="exch.CrashType">
    <Name>CrashType</Name>
    <Namespace structures:ref="exch"/>
    <SubClassOf structures:ref="structures.ObjectType"/>
    <HasProperty><ObjectProperty structures:ref="j.CrashDriver"/><MinOccursQuantity>1</MinOccursQuantity><MaxOccursQuantity>unbounded</MaxOccursQuantity></HasProperty>
    <HasProperty><ObjectProperty structures:ref="j.Charge"/><MinOccursQuantity>0</MinOccursQuantity><MaxOccursQuantity>unbounded</MaxOccursQuantity></HasProperty>
    <HasProperty><ObjectProperty structures:ref="j.PersonChargeAssociation"/><MinOccursQuantity>0</MinOccursQuantity><MaxOccursQuantity>unbounded</MaxOccursQuantity></HasProperty>
  </Class>
  <Class structures:id="j.ChargeType">
    <Name>ChargeType</Name>
    <Namespace structures:ref="j"/>
    <SubClassOf structures:ref="structures.ObjectType"/>
    <HasProperty><DataProperty structures:ref="j.ChargeDescriptionText"/><MinOccursQuantity>0</MinOccursQuantity><MaxOccursQuantity>1</MaxOccursQuantity></HasProperty>
  </Class>
  <Class structures:id="j.CrashDriverType">
    <Name>CrashDriverType</Name>
    <Namespace structures:ref="j"/>
    <SubClassOf structures:ref="structures.ObjectType"/>
    <HasProperty><DataProperty structures:ref="nc.PersonFullName"/><MinOccursQuantity>0</MinOccursQuantity><MaxOccursQuantity>1</MaxOccursQuantity></HasProperty>
    <HasProperty><ObjectProperty structures:ref="j.Charge"/><MinOccursQuantity>0</MinOccursQuantity><MaxOccursQuantity>unbounded</MaxOccursQuantity></HasProperty>
    <HasProperty><ObjectProperty structures:ref="j.PersonAugmentationPoint"/><MinOccursQuantity>0</MinOccursQuantity><MaxOccursQuantity>unbounded</MaxOccursQuantity></HasProperty>
  </Class>
  <Class structures:id="nc.PersonType">
    <Name>PersonType</Name>
    <Namespace structures:ref="nc"/>
    <SubClassOf structures:ref="structures.ObjectType"/>
    <HasProperty><DataProperty structures:ref="nc.PersonFullName"/><MinOccursQuantity>0</MinOccursQuantity><MaxOccursQuantity>1</MaxOccursQuantity></HasProperty>
  </Class>
  <Class structures:id="j.PersonChargeAssociationType">
    <Name>PersonChargeAssociationType</Name>
    <Namespace structures:ref="j"/>
    <SubClassOf structures:ref="structures.AssociationType"/>
    <HasProperty><ObjectProperty structures:ref="nc.Person"/><MinOccursQuantity>1</MinOccursQuantity><MaxOccursQuantity>1</MaxOccursQuantity></HasProperty>
    <HasProperty><ObjectProperty structures:ref="j.Charge"/><MinOccursQuantity>1</MinOccursQuantity><MaxOccursQuantity>1</MaxOccursQuantity></HasProperty>
  </Class>
  <Class structures:id="j.PersonAugmentationType">
    <Name>PersonAugmentationType</Name>
    <Namespace structures:ref="j"/>
    <SubClassOf structures:ref="structures.AugmentationType"/>
    <HasProperty><DataProperty structures:ref="j.PersonAdultIndicator"/><MinOccursQuantity>0</MinOccursQuantity><MaxOccursQuantity>1</MaxOccursQuantity></HasProperty>
  </Class>

  <ObjectProperty structures:id="exch.Crash">
    <Name>Crash</Name>
    <Namespace structures:ref="exch"/>
    <Class structures:ref="exch.CrashType"/>
  </ObjectProperty>
  <ObjectProperty structures:id="j.Charge">
    <Name>Charge</Name>
    <Namespace structures:ref="j"/>
    <Class structures:ref="j.ChargeType"/>
  </ObjectProperty>
  <ObjectProperty structures:id="j.CrashDriver">
    <Name>CrashDriver</Name>
    <Namespace structures:ref="j"/>
    <Class structures:ref="j.CrashDriverType"/>
  </ObjectProperty>
  <ObjectProperty structures:id="nc.Person">
    <Name>Person</Name>
    <Namespace structures:ref="nc"/>
    <Class structures:ref="nc.PersonType"/>
  </ObjectProperty>
  <ObjectProperty structures:id="j.PersonChargeAssociation">
    <Name>PersonChargeAssociation</Name>
    <Namespace structures:ref="j"/>
    <Class structures:ref="j.PersonChargeAssociationType"/>
  </ObjectProperty>
  <ObjectProperty structures:id="j.PersonAugmentationPoint">
    <Name>PersonAugmentationPoint</Name>
    <Namespace structures:ref="j"/>
    <AbstractIndicator>true</AbstractIndicator>
  </ObjectProperty>
  <ObjectProperty structures:id="j.PersonAugmentation">
    <Name>PersonAugmentation</Name>
    <Namespace structures:ref="j"/>
    <Class structures:ref="j.PersonAugmentationType"/>
    <SubPropertyOf structures:ref="j.PersonAugmentationPoint"/>
  </ObjectProperty>

  <DataProperty structures:id="j.ChargeDescriptionText">
    <Name>ChargeDescriptionText</Name>
    <Namespace structures:ref="j"/>
    <Datatype structures:ref="xs.string"/>
  </DataProperty>
  <DataProperty structures:id="nc.PersonFullName">
    <Name>PersonFullName</Name>
    <Namespace structures:ref="nc"/>
    <Datatype structures:ref="xs.string"/>
  </DataProperty>
  <DataProperty structures:id="j.PersonAdultIndicator">
    <Name>PersonAdultIndicator</Name>
    <Namespace structures:ref="j"/>
    <Datatype structures:ref="xs.boolean"/>
  </DataProperty>
</Model>`

func compileCrash(t *testing.T) *Mapping {
	t.Helper()
	m, err := Compile([]byte(crashModel))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return m
}

func findObject(m *Mapping, qname string) *Object {
	for i := range m.Objects {
		if m.Objects[i].QName == qname {
			return &m.Objects[i]
		}
	}
	return nil
}

func TestCompileObjects(t *testing.T) {
	m := compileCrash(t)

	charge := findObject(m, "j:Charge")
	if charge == nil {
		t.Fatalf("j:Charge missing; objects: %+v", m.Objects)
	}
	if charge.Label != "j_Charge" {
		t.Fatalf("label: %q", charge.Label)
	}
	if !charge.CarriesStructuresID {
		t.Fatal("j:Charge should carry structures:id")
	}
	if len(charge.ScalarProps) != 1 || charge.ScalarProps[0].Path != "j:ChargeDescriptionText" ||
		charge.ScalarProps[0].Property != "j_ChargeDescriptionText" || charge.ScalarProps[0].Datatype != "xs:string" {
		t.Fatalf("scalarProps: %+v", charge.ScalarProps)
	}

	// The augmentation wrapper must not appear as an object.
	if findObject(m, "j:PersonAugmentation") != nil {
		t.Fatal("augmentation wrapper compiled as object")
	}
	if findObject(m, "j:PersonChargeAssociation") != nil {
		t.Fatal("association compiled as object")
	}
}

func TestCompileReferences(t *testing.T) {
	m := compileCrash(t)
	ix := m.Index()

	ref := ix.Reference("j:CrashDriver", "j:Charge")
	if ref == nil {
		t.Fatalf("missing reference; got %+v", m.References)
	}
	if ref.RelType != "HAS_CHARGE" || ref.TargetLabel != "j_Charge" || ref.Cardinality != "0..n" {
		t.Fatalf("reference: %+v", ref)
	}

	// The augmentation point does not become a reference.
	if ix.Reference("j:CrashDriver", "j:PersonAugmentation") != nil {
		t.Fatal("augmentation emitted as reference")
	}
	// Associations do not become references of their containing object.
	if ix.Reference("exch:Crash", "j:PersonChargeAssociation") != nil {
		t.Fatal("association emitted as reference")
	}
}

func TestCompileAssociation(t *testing.T) {
	m := compileCrash(t)
	if len(m.Associations) != 1 {
		t.Fatalf("associations: %+v", m.Associations)
	}
	a := m.Associations[0]
	if a.QName != "j:PersonChargeAssociation" || a.RelType != "ASSOCIATED_WITH" {
		t.Fatalf("association: %+v", a)
	}
	if len(a.Endpoints) != 2 {
		t.Fatalf("endpoints: %+v", a.Endpoints)
	}
	// Endpoints sorted by role qname.
	if a.Endpoints[0].Role != "j:Charge" || a.Endpoints[0].TargetLabel != "j_Charge" {
		t.Fatalf("endpoint 0: %+v", a.Endpoints[0])
	}
	if a.Endpoints[1].Role != "nc:Person" || a.Endpoints[1].TargetLabel != "nc_Person" {
		t.Fatalf("endpoint 1: %+v", a.Endpoints[1])
	}
}

func TestCompileAugmentation(t *testing.T) {
	m := compileCrash(t)
	if len(m.Augmentations) != 1 {
		t.Fatalf("augmentations: %+v", m.Augmentations)
	}
	aug := m.Augmentations[0]
	if aug.QName != "j:PersonAugmentation" {
		t.Fatalf("wrapper qname: %q", aug.QName)
	}
	if aug.Target != "j:CrashDriverType" {
		t.Fatalf("target: %q", aug.Target)
	}
	if len(aug.AddedProps) != 1 || aug.AddedProps[0].Path != "j:PersonAdultIndicator" || aug.AddedProps[0].Datatype != "xs:boolean" {
		t.Fatalf("addedProps: %+v", aug.AddedProps)
	}
}

func TestCompileDeterministic(t *testing.T) {
	a, err := Compile([]byte(crashModel))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compile([]byte(crashModel))
	if err != nil {
		t.Fatal(err)
	}
	ab, err := Encode(a)
	if err != nil {
		t.Fatal(err)
	}
	bb, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ab, bb) {
		t.Fatal("two compilations of identical input serialized differently")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := compileCrash(t)
	data, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(back.Objects) != len(m.Objects) || back.Polymorphism != m.Polymorphism {
		t.Fatalf("round trip changed the mapping:\n%+v\n%+v", m, back)
	}
	data2, err := Encode(back)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, data2) {
		t.Fatal("re-encoding is not byte-stable")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	if _, err := Decode([]byte("namespaces: []\nbogus: 1\n")); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestDuplicatePrefixFails(t *testing.T) {
	model := `<Model>
  <Namespace structures:id="structures"><NamespacePrefixText>structures</NamespacePrefixText><NamespaceURI>u0</NamespaceURI></Namespace>
  <Namespace structures:id="a"><NamespacePrefixText>j</NamespacePrefixText><NamespaceURI>u1</NamespaceURI></Namespace>
  <Namespace structures:id="b"><NamespacePrefixText>j</NamespacePrefixText><NamespaceURI>u2</NamespaceURI></Namespace>
</Model>`
	_, err := Compile([]byte(model))
	var me *report.MappingError
	if !errors.As(err, &me) || !strings.Contains(err.Error(), "prefix") {
		t.Fatalf("want MappingError about prefix, got %v", err)
	}
}

func TestMissingStructuresNamespaceFails(t *testing.T) {
	model := `<Model>
  <Namespace structures:id="j"><NamespacePrefixText>j</NamespacePrefixText><NamespaceURI>u1</NamespaceURI></Namespace>
</Model>`
	var me *report.MappingError
	if _, err := Compile([]byte(model)); !errors.As(err, &me) {
		t.Fatalf("want MappingError, got %v", err)
	}
}

func TestUnresolvedTargetFails(t *testing.T) {
	model := `<Model>
  <Namespace structures:id="structures"><NamespacePrefixText>structures</NamespacePrefixText><NamespaceURI>u0</NamespaceURI></Namespace>
  <Namespace structures:id="j"><NamespacePrefixText>j</NamespacePrefixText><NamespaceURI>u1</NamespaceURI></Namespace>
  <ObjectProperty structures:id="j.Thing">
    <Name>Thing</Name>
    <Namespace structures:ref="j"/>
    <Class structures:ref="j.MissingType"/>
  </ObjectProperty>
</Model>`
	var me *report.MappingError
	if _, err := Compile([]byte(model)); !errors.As(err, &me) {
		t.Fatalf("want MappingError, got %v", err)
	}
}

func TestLabelAndRelTypeDerivation(t *testing.T) {
	if got := LabelFor("j:Charge"); got != "j_Charge" {
		t.Fatalf("LabelFor: %q", got)
	}
	if got := RelTypeFor("j:CrashDriver"); got != "HAS_CRASHDRIVER" {
		t.Fatalf("RelTypeFor: %q", got)
	}
	if got := RelTypeFor("nc:Person-Name.2"); got != "HAS_PERSON_NAME_2" {
		t.Fatalf("RelTypeFor punct: %q", got)
	}
	if got := RelTypeFor("Ref"); got != "HAS_REF" {
		t.Fatalf("RelTypeFor no prefix: %q", got)
	}
}
