package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/deployconf/pkg/engine"
)

func TestParseResourceRef(t *testing.T) {
	tests := []struct {
		in      string
		want    engine.ResourceRef
		wantErr bool
	}{
		{in: "apps/v1/Deployment", want: engine.ResourceRef{Group: "apps", Version: "v1", Kind: "Deployment", Namespaced: true}},
		{in: "v1/Service", want: engine.ResourceRef{Version: "v1", Kind: "Service", Namespaced: true}},
		{in: "Ingress", want: engine.ResourceRef{Group: "networking.k8s.io", Version: "v1", Kind: "Ingress", Namespaced: true}},
		{in: "Namespace", want: engine.ResourceRef{Version: "v1", Kind: "Namespace", Namespaced: false}},
		{in: "rbac.authorization.k8s.io/v1/ClusterRole", want: engine.ResourceRef{Group: "rbac.authorization.k8s.io", Version: "v1", Kind: "ClusterRole"}},
		{in: "", wantErr: true},
		{in: "Widget", wantErr: true},
		{in: "a/b/c/d", wantErr: true},
		{in: "apps//Deployment", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseResourceRef(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseSetFlags(t *testing.T) {
	answers, err := parseSetFlags([]string{
		"name=shop",
		"replicas=3",
		"debug=true",
		"memory_limit=512Mi",
		"tls_secret=null",
		"note=a=b",
		"empty=",
	})
	if err != nil {
		t.Fatalf("parseSetFlags failed: %v", err)
	}

	checks := map[string]*engine.AnswerValue{
		"name":         engine.TextAnswer("shop"),
		"replicas":     engine.NumberAnswer(3),
		"debug":        engine.BoolAnswer(true),
		"memory_limit": engine.TextAnswer("512Mi"),
		"note":         engine.TextAnswer("a=b"),
		"empty":        engine.TextAnswer(""),
	}
	for id, want := range checks {
		if got := answers[id]; !got.Equal(want) {
			t.Errorf("%s: got %v, want %v", id, got, want)
		}
	}

	v, ok := answers["tls_secret"]
	if !ok || v != nil {
		t.Errorf("tls_secret should be an explicit skip, got %v (present %v)", v, ok)
	}
}

func TestParseSetFlagsInvalid(t *testing.T) {
	for _, in := range []string{"novalue", "=x", " =x"} {
		if _, err := parseSetFlags([]string{in}); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestParseAnswerValueKeepsCollectionsAsText(t *testing.T) {
	got := parseAnswerValue("[a, b]")
	if !got.Equal(engine.TextAnswer("[a, b]")) {
		t.Errorf("got %v", got)
	}
}

func TestLoadAnswersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.yaml")
	content := `replicas: 2
service_type: NodePort
container_port: 8080
target_port: ~
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	answers, err := loadAnswersFile(path)
	if err != nil {
		t.Fatalf("loadAnswersFile failed: %v", err)
	}
	if len(answers) != 4 {
		t.Fatalf("expected 4 answers, got %d", len(answers))
	}
	if !answers["replicas"].Equal(engine.NumberAnswer(2)) {
		t.Errorf("replicas: got %v", answers["replicas"])
	}
	if !answers["service_type"].Equal(engine.TextAnswer("NodePort")) {
		t.Errorf("service_type: got %v", answers["service_type"])
	}
	if answers["target_port"] != nil {
		t.Errorf("target_port should be skipped")
	}

	merged := mergeAnswers(answers, engine.Answers{"replicas": engine.NumberAnswer(5)})
	if !merged["replicas"].Equal(engine.NumberAnswer(5)) {
		t.Errorf("flags should override file answers")
	}
	if got := sortedKeys(merged); got[0] != "container_port" || got[3] != "target_port" {
		t.Errorf("unexpected key order: %v", got)
	}
}

func TestLoadAnswersFileRejectsNested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.yaml")
	if err := os.WriteFile(path, []byte("ports:\n  - 80\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadAnswersFile(path); err == nil {
		t.Fatal("expected error for a list answer")
	}
}

func TestLoadSolutionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solution.yaml")
	content := `id: shop
intent: public web shop
resources:
  - kind: Deployment
    group: apps
    version: v1
    namespaced: true
  - kind: Service
    version: v1
    namespaced: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	sf, err := loadSolutionFile(path)
	if err != nil {
		t.Fatalf("loadSolutionFile failed: %v", err)
	}
	if sf.ID != "shop" || sf.Intent != "public web shop" {
		t.Errorf("unexpected header: %+v", sf)
	}
	if len(sf.Resources) != 2 || sf.Resources[0].APIVersion() != "apps/v1" || sf.Resources[1].Kind != "Service" {
		t.Errorf("unexpected resources: %+v", sf.Resources)
	}
}
