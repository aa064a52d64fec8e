package cmf

import (
	"strings"
	"testing"
)

const miniModel = `<Model>
  <Namespace structures:id="j">
    <NamespacePrefixText>j</NamespacePrefixText>
    <NamespaceURI>http://example.com/j/</NamespaceURI>
  </Namespace>
  <Class structures:id="j.BaseType">
    <Name>BaseType</Name>
    <Namespace structures:ref="j"/>
    <SubClassOf structures:ref="structures.ObjectType"/>
    <HasProperty><DataProperty structures:ref="j.Name"/><MinOccursQuantity>1</MinOccursQuantity><MaxOccursQuantity>1</MaxOccursQuantity></HasProperty>
  </Class>
  <Class structures:id="j.DerivedType">
    <Name>DerivedType</Name>
    <Namespace structures:ref="j"/>
    <SubClassOf structures:ref="j.BaseType"/>
    <HasProperty><DataProperty structures:ref="j.Extra"/><MinOccursQuantity>0</MinOccursQuantity><MaxOccursQuantity>1</MaxOccursQuantity></HasProperty>
  </Class>
  <ObjectProperty structures:id="j.Head">
    <Name>Head</Name>
    <Namespace structures:ref="j"/>
    <AbstractIndicator>true</AbstractIndicator>
  </ObjectProperty>
  <ObjectProperty structures:id="j.Concrete">
    <Name>Concrete</Name>
    <Namespace structures:ref="j"/>
    <Class structures:ref="j.DerivedType"/>
    <SubPropertyOf structures:ref="j.Head"/>
  </ObjectProperty>
  <DataProperty structures:id="j.Name">
    <Name>Name</Name>
    <Namespace structures:ref="j"/>
    <Datatype structures:ref="xs.string"/>
  </DataProperty>
  <DataProperty structures:id="j.Extra">
    <Name>Extra</Name>
    <Namespace structures:ref="j"/>
    <Datatype structures:ref="xs.string"/>
  </DataProperty>
</Model>`

func TestLoadAndIndex(t *testing.T) {
	m, err := Load([]byte(miniModel))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Namespaces) != 1 || m.Namespaces[0].Prefix != "j" {
		t.Fatalf("namespaces: %+v", m.Namespaces)
	}
	if _, ok := m.Classes["j.DerivedType"]; !ok {
		t.Fatalf("classes: %v", m.Classes)
	}
	if got := m.QNameOf("j", "j.Concrete", "Concrete"); got != "j:Concrete" {
		t.Fatalf("QNameOf: %q", got)
	}
}

func TestDerivesFrom(t *testing.T) {
	m, err := Load([]byte(miniModel))
	if err != nil {
		t.Fatal(err)
	}
	if !m.DerivesFrom("j.DerivedType", "j.BaseType") {
		t.Fatal("direct derivation not found")
	}
	if !m.DerivesFrom("j.DerivedType", ObjectBaseID) {
		t.Fatal("transitive derivation to structures base not found")
	}
	if m.DerivesFrom("j.BaseType", "j.DerivedType") {
		t.Fatal("derivation inverted")
	}
}

func TestPropertyChainOrdersBaseFirst(t *testing.T) {
	m, err := Load([]byte(miniModel))
	if err != nil {
		t.Fatal(err)
	}
	chain := m.PropertyChain("j.DerivedType")
	if len(chain) != 2 || chain[0].DataRef != "j.Name" || chain[1].DataRef != "j.Extra" {
		t.Fatalf("chain: %+v", chain)
	}
}

func TestSubstitutes(t *testing.T) {
	m, err := Load([]byte(miniModel))
	if err != nil {
		t.Fatal(err)
	}
	subs := m.Substitutes("j.Head")
	if len(subs) != 1 || subs[0].ID != "j.Concrete" {
		t.Fatalf("substitutes: %+v", subs)
	}
}

func TestLoadRejectsNonModelRoot(t *testing.T) {
	if _, err := Load([]byte(`<NotAModel/>`)); err == nil || !strings.Contains(err.Error(), "Model") {
		t.Fatalf("root check: %v", err)
	}
}

func TestLoadRejectsMissingIDs(t *testing.T) {
	src := `<Model><Class><Name>X</Name></Class></Model>`
	if _, err := Load([]byte(src)); err == nil {
		t.Fatal("class without structures:id accepted")
	}
}
