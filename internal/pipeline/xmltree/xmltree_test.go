package xmltree

import (
	"strings"
	"testing"
)

func TestParsePreservesPrefixes(t *testing.T) {
	src := `<exch:Crash xmlns:exch="http://example.com/exch" xmlns:j="http://example.com/j">
  <j:Charge structures:id="CH01">
    <j:ChargeDescriptionText>Speeding</j:ChargeDescriptionText>
  </j:Charge>
</exch:Crash>`
	root, err := Parse([]byte(src), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if root.Name != "exch:Crash" || root.Prefix() != "exch" || root.Local() != "Crash" {
		t.Fatalf("root: %+v", root)
	}
	charge := root.Find("j:Charge")
	if charge == nil {
		t.Fatal("j:Charge not found")
	}
	if v, ok := charge.Attr("structures:id"); !ok || v != "CH01" {
		t.Fatalf("structures:id = %q, %v", v, ok)
	}
	desc := charge.Find("j:ChargeDescriptionText")
	if desc == nil || desc.Text != "Speeding" {
		t.Fatalf("desc: %+v", desc)
	}
}

func TestParseIndentedDocument(t *testing.T) {
	src := "<root>\n  <a>1</a>\n  <b>2</b>\n  <c>\n    <d>x</d>\n  </c>\n</root>"
	root, err := Parse([]byte(src), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(root.Children) != 3 {
		t.Fatalf("children: %d", len(root.Children))
	}
	if root.Text != "" {
		t.Fatalf("inter-element whitespace kept: %q", root.Text)
	}
	if root.Children[0].Text != "1" || root.Children[1].Text != "2" {
		t.Fatalf("texts: %q %q", root.Children[0].Text, root.Children[1].Text)
	}
	d := root.Children[2].Find("d")
	if d == nil || d.Text != "x" {
		t.Fatalf("nested: %+v", d)
	}
}

func TestSelfClosingElement(t *testing.T) {
	root, err := Parse([]byte(`<a><b x="1"/><b x="2"/></a>`), Options{})
	if err != nil {
		t.Fatal(err)
	}
	bs := root.FindAll("b")
	if len(bs) != 2 {
		t.Fatalf("children: %d", len(bs))
	}
	if v, _ := bs[1].Attr("x"); v != "2" {
		t.Fatalf("attr: %q", v)
	}
}

func TestDoctypeRejected(t *testing.T) {
	src := `<!DOCTYPE foo [<!ENTITY xxe SYSTEM "file:///etc/passwd">]><foo>&xxe;</foo>`
	if _, err := Parse([]byte(src), Options{}); err == nil || !strings.Contains(err.Error(), "DTD") {
		t.Fatalf("doctype accepted: %v", err)
	}
}

func TestBuiltinEntitiesOnly(t *testing.T) {
	root, err := Parse([]byte(`<a>x &amp; y &lt;z&gt;</a>`), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if root.Text != "x & y <z>" {
		t.Fatalf("text: %q", root.Text)
	}
	if _, err := Parse([]byte(`<a>&custom;</a>`), Options{}); err == nil {
		t.Fatal("custom entity accepted")
	}
}

func TestDepthCap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("<d>")
	}
	for i := 0; i < 40; i++ {
		b.WriteString("</d>")
	}
	if _, err := Parse([]byte(b.String()), Options{MaxDepth: 10}); err == nil || !strings.Contains(err.Error(), "depth") {
		t.Fatalf("depth cap: %v", err)
	}
}

func TestSizeCap(t *testing.T) {
	src := "<a>" + strings.Repeat("x", 100) + "</a>"
	if _, err := Parse([]byte(src), Options{MaxBytes: 50}); err == nil || !strings.Contains(err.Error(), "cap") {
		t.Fatalf("size cap: %v", err)
	}
}

func TestMismatchedTags(t *testing.T) {
	if _, err := Parse([]byte(`<a><b></a></b>`), Options{}); err == nil {
		t.Fatal("mismatched tags accepted")
	}
	if _, err := Parse([]byte(`<a>`), Options{}); err == nil {
		t.Fatal("unclosed root accepted")
	}
	if _, err := Parse([]byte(`<a/><b/>`), Options{}); err == nil {
		t.Fatal("two roots accepted")
	}
}
