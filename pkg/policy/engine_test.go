package policy

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func decodeDocs(t *testing.T, manifest string) []map[string]interface{} {
	t.Helper()
	var docs []map[string]interface{}
	dec := yaml.NewDecoder(strings.NewReader(manifest))
	for {
		var doc map[string]interface{}
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("decode manifest: %v", err)
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs
}

const goodDeployment = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
  labels:
    app.kubernetes.io/name: web
spec:
  selector:
    matchLabels:
      app: web
  template:
    metadata:
      labels:
        app: web
    spec:
      containers:
        - name: web
          image: nginx:1.27
          resources:
            limits:
              cpu: 500m
`

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	want := []string{"container-hygiene", "exposure-questions", "manifest-metadata", "recommended-labels", "selectors"}
	if len(policies) != len(want) {
		t.Fatalf("ListPolicies() returned %d policies, want %d", len(policies), len(want))
	}
	for i, p := range policies {
		if p.Name != want[i] {
			t.Errorf("policy[%d] = %s, want %s", i, p.Name, want[i])
		}
		if !p.Builtin || !p.Enabled {
			t.Errorf("policy %s: builtin=%v enabled=%v", p.Name, p.Builtin, p.Enabled)
		}
	}
}

func TestEvaluateCleanManifest(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.Evaluate(context.Background(), decodeDocs(t, goodDeployment), nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected manifest to be allowed, violations: %+v", result.Violations)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected warnings: %+v", result.Warnings)
	}
	if result.Documents != 1 {
		t.Errorf("Documents = %d", result.Documents)
	}
}

func TestEvaluateViolations(t *testing.T) {
	tests := []struct {
		name       string
		manifest   string
		policy     string
		severity   Severity
		wantDenied bool
		wantWarn   bool
	}{
		{
			name:       "missing name",
			manifest:   "apiVersion: v1\nkind: ConfigMap\nmetadata: {}\n",
			policy:     "manifest-metadata",
			severity:   SeverityError,
			wantDenied: true,
		},
		{
			name:       "uppercase name",
			manifest:   "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: Web\n  labels:\n    app.kubernetes.io/name: web\n",
			policy:     "manifest-metadata",
			severity:   SeverityError,
			wantDenied: true,
		},
		{
			name:       "latest tag",
			manifest:   strings.Replace(goodDeployment, "nginx:1.27", "nginx:latest", 1),
			policy:     "container-hygiene",
			severity:   SeverityError,
			wantDenied: true,
		},
		{
			name: "privileged container",
			manifest: strings.Replace(goodDeployment, "          resources:",
				"          securityContext:\n            privileged: true\n          resources:", 1),
			policy:     "container-hygiene",
			severity:   SeverityCritical,
			wantDenied: true,
		},
		{
			name:       "selector mismatch",
			manifest:   strings.Replace(goodDeployment, "      app: web\n  template", "      app: api\n  template", 1),
			policy:     "selectors",
			severity:   SeverityError,
			wantDenied: true,
		},
		{
			name:     "service without selector",
			manifest: "apiVersion: v1\nkind: Service\nmetadata:\n  name: web\n  labels:\n    app.kubernetes.io/name: web\nspec:\n  ports:\n    - port: 80\n",
			policy:   "selectors",
			severity: SeverityError, wantDenied: true,
		},
		{
			name:     "missing label warns",
			manifest: "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: cfg\n",
			policy:   "recommended-labels",
			severity: SeverityWarning,
			wantWarn: true,
		},
		{
			name:     "untagged image warns",
			manifest: strings.Replace(goodDeployment, "nginx:1.27", "nginx", 1),
			policy:   "container-hygiene",
			severity: SeverityWarning,
			wantWarn: true,
		},
	}

	eng := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), decodeDocs(t, tt.manifest), nil)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if result.Allowed == tt.wantDenied {
				t.Errorf("Allowed = %v, want %v (violations %+v)", result.Allowed, !tt.wantDenied, result.Violations)
			}

			findings := result.Violations
			if tt.wantWarn {
				findings = result.Warnings
			}
			found := false
			for _, v := range findings {
				if v.Policy == tt.policy && v.Severity == tt.severity {
					found = true
					if v.Message == "" {
						t.Error("finding has an empty message")
					}
				}
			}
			if !found {
				t.Errorf("no %s finding from %s in %+v", tt.severity, tt.policy, findings)
			}
		})
	}
}

func TestEvaluateIdentifiesDocuments(t *testing.T) {
	eng := newTestEngine(t)
	manifest := goodDeployment + "---\napiVersion: v1\nkind: Service\nmetadata:\n  name: web\n  namespace: shop\n  labels:\n    app.kubernetes.io/name: web\nspec: {}\n"

	result, err := eng.Evaluate(context.Background(), decodeDocs(t, manifest), &Context{Namespace: "shop"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(result.Violations) != 1 {
		t.Fatalf("Violations = %+v, want exactly one", result.Violations)
	}
	v := result.Violations[0]
	if v.Kind != "Service" || v.Name != "web" || v.Namespace != "shop" || v.Index != 1 || v.Field != "spec.selector" {
		t.Errorf("violation = %+v", v)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	docs := decodeDocs(t, strings.Replace(goodDeployment, "nginx:1.27", "nginx:latest", 1))

	if err := eng.DisablePolicy("container-hygiene"); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}
	result, err := eng.Evaluate(context.Background(), docs, nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !result.Allowed {
		t.Errorf("disabled policy still reported: %+v", result.Violations)
	}
	for _, name := range result.EvaluatedPolicies {
		if name == "container-hygiene" {
			t.Error("disabled policy listed as evaluated")
		}
	}

	if err := eng.EnablePolicy("container-hygiene"); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	result, err = eng.Evaluate(context.Background(), docs, nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Allowed {
		t.Error("re-enabled policy should deny the latest tag")
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("EnablePolicy(missing) should fail")
	}
}

func TestAddPolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{
		Name:    "no-default-namespace",
		Enabled: true,
		Rego: `package custom.namespace

import rego.v1

deny contains "resources must not target the default namespace" if {
	input.document.metadata.namespace == "default"
}`,
	}
	if err := eng.AddPolicy(ctx, custom); err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	got, err := eng.GetPolicy("no-default-namespace")
	if err != nil {
		t.Fatalf("GetPolicy() error = %v", err)
	}
	if got.Severity != SeverityError {
		t.Errorf("default severity = %s, want error", got.Severity)
	}

	docs := decodeDocs(t, "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: cfg\n  namespace: default\n  labels:\n    app.kubernetes.io/name: cfg\n")
	result, err := eng.Evaluate(ctx, docs, nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Allowed || result.Violations[0].Policy != "no-default-namespace" {
		t.Errorf("result = %+v", result)
	}

	if err := eng.AddPolicy(ctx, Policy{Name: "broken", Rego: "package broken\n\ndeny contains x if {"}); err == nil {
		t.Error("AddPolicy() should reject invalid rego")
	}
	if _, err := eng.GetPolicy("missing"); err == nil {
		t.Error("GetPolicy(missing) should fail")
	}
}

func TestCollectQuestions(t *testing.T) {
	eng := newTestEngine(t)

	input := QuestionInput{
		Resources: []ResourceInput{{Kind: "Deployment", APIVersion: "apps/v1"}, {Kind: "Ingress", APIVersion: "networking.k8s.io/v1"}},
		Stage:     "required",
	}
	out, err := eng.Collect(context.Background(), RuleQuestions, input)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Collect() = %+v, want one question", out)
	}
	q, ok := out[0].Value.(map[string]interface{})
	if !ok || q["id"] != "ingress_host" || out[0].Policy != "exposure-questions" {
		t.Errorf("question = %+v", out[0])
	}

	input.Stage = "basic"
	out, err = eng.Collect(context.Background(), RuleQuestions, input)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(out) != 0 {
		t.Errorf("no questions expected outside the required stage, got %+v", out)
	}
}

func TestNormalizeDocument(t *testing.T) {
	doc := map[string]interface{}{
		"data": map[interface{}]interface{}{1: "one", "two": []interface{}{map[interface{}]interface{}{"k": "v"}}},
	}
	out := normalizeDocument(doc)
	data, ok := out["data"].(map[string]interface{})
	if !ok || data["1"] != "one" {
		t.Fatalf("normalizeDocument() = %#v", out)
	}
	items := data["two"].([]interface{})
	if _, ok := items[0].(map[string]interface{}); !ok {
		t.Errorf("nested map not normalized: %#v", items[0])
	}
}
