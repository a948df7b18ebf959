package manifest

import (
	"reflect"
	"strings"
	"testing"
)

func TestDecode(t *testing.T) {
	text := `---
apiVersion: v1
kind: Service
metadata:
  name: web
---
# only a comment
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
`
	docs, err := Decode(text)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Decode() returned %d documents, want 2", len(docs))
	}
	if Kind(docs[0]) != "Service" || Kind(docs[1]) != "Deployment" || Name(docs[1]) != "web" {
		t.Errorf("docs = %v", docs)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"scalar document", "just text\n", "expected a mapping"},
		{"list document", "- a\n- b\n", "expected a mapping"},
		{"bad yaml", "kind: [unclosed\n", "document 0"},
		{"second document", "kind: A\n---\nkind: {\n", "document 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.text)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Decode() error = %v, want %q", err, tt.want)
			}
		})
	}

	docs, err := Decode("")
	if err != nil || len(docs) != 0 {
		t.Errorf("Decode(empty) = %v, %v", docs, err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	docs := []Document{
		{"apiVersion": "v1", "kind": "ConfigMap", "metadata": map[string]interface{}{"name": "a"}},
		{"apiVersion": "v1", "kind": "Secret", "metadata": map[string]interface{}{"name": "b"}},
	}
	text, err := Encode(docs)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if strings.Count(text, "---") != 1 {
		t.Errorf("Encode() should separate two documents once:\n%s", text)
	}

	back, err := Decode(text)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(back, docs) {
		t.Errorf("round trip = %v, want %v", back, docs)
	}
}

func TestSetAndGet(t *testing.T) {
	doc := Document{"kind": "Ingress"}

	if err := Set(doc, "spec.rules.0.host", "shop.example.com"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := Set(doc, "spec.rules.0.http.paths.1.path", "/api"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := Set(doc, "metadata.labels.tier", "web"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if v, ok := Get(doc, "spec.rules.0.host"); !ok || v != "shop.example.com" {
		t.Errorf("Get(host) = %v, %v", v, ok)
	}
	if v, ok := Get(doc, "spec.rules.0.http.paths.1.path"); !ok || v != "/api" {
		t.Errorf("Get(path) = %v, %v", v, ok)
	}
	if v, ok := Get(doc, "spec.rules.0.http.paths.0"); !ok || v != nil {
		t.Errorf("padding element = %v, %v", v, ok)
	}
	if _, ok := Get(doc, "spec.rules.5"); ok {
		t.Error("out of range index should not resolve")
	}

	if err := Set(doc, "kind.sub", "x"); err == nil {
		t.Error("Set() through a scalar should fail")
	}
	if err := Set(doc, "spec..host", "x"); err == nil {
		t.Error("Set() with an empty segment should fail")
	}
	if err := Set(doc, "spec.rules.-1", "x"); err == nil {
		t.Error("Set() with a negative index should fail")
	}
}
