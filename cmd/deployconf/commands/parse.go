package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/deployconf/pkg/engine"
)

// clusterScoped lists well-known kinds that do not live in a namespace.
var clusterScoped = map[string]bool{
	"Namespace":                      true,
	"Node":                           true,
	"PersistentVolume":               true,
	"StorageClass":                   true,
	"ClusterRole":                    true,
	"ClusterRoleBinding":             true,
	"CustomResourceDefinition":       true,
	"IngressClass":                   true,
	"PriorityClass":                  true,
	"ValidatingWebhookConfiguration": true,
	"MutatingWebhookConfiguration":   true,
}

// wellKnownAPIVersions resolves a bare kind to its usual group/version.
var wellKnownAPIVersions = map[string]string{
	"Deployment":            "apps/v1",
	"StatefulSet":           "apps/v1",
	"DaemonSet":             "apps/v1",
	"Service":               "v1",
	"ConfigMap":             "v1",
	"Secret":                "v1",
	"PersistentVolumeClaim": "v1",
	"Namespace":             "v1",
	"Ingress":               "networking.k8s.io/v1",
	"Job":                   "batch/v1",
	"CronJob":               "batch/v1",
}

// parseResourceRef parses "group/version/Kind", "version/Kind" or a
// well-known bare "Kind".
func parseResourceRef(s string) (engine.ResourceRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return engine.ResourceRef{}, fmt.Errorf("empty resource")
	}

	parts := strings.Split(s, "/")
	var ref engine.ResourceRef
	switch len(parts) {
	case 1:
		apiVersion, ok := wellKnownAPIVersions[parts[0]]
		if !ok {
			return engine.ResourceRef{}, fmt.Errorf("unknown kind %q: use group/version/Kind", s)
		}
		return parseResourceRef(apiVersion + "/" + parts[0])
	case 2:
		ref = engine.ResourceRef{Version: parts[0], Kind: parts[1]}
	case 3:
		ref = engine.ResourceRef{Group: parts[0], Version: parts[1], Kind: parts[2]}
	default:
		return engine.ResourceRef{}, fmt.Errorf("invalid resource %q: use group/version/Kind", s)
	}
	for _, p := range parts {
		if p == "" {
			return engine.ResourceRef{}, fmt.Errorf("invalid resource %q: empty segment", s)
		}
	}
	ref.Namespaced = !clusterScoped[ref.Kind]
	return ref, nil
}

// solutionFile is the YAML form of a registration request.
type solutionFile struct {
	ID        string               `yaml:"id"`
	Intent    string               `yaml:"intent"`
	Resources []engine.ResourceRef `yaml:"resources"`
}

// loadSolutionFile reads a registration request from YAML.
func loadSolutionFile(path string) (*solutionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read solution file: %w", err)
	}
	var sf solutionFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse solution file %s: %w", path, err)
	}
	return &sf, nil
}

// parseAnswerValue decodes a command-line value as a YAML scalar, so
// "3" is a number, "true" a boolean and "null" an explicit skip.
// Anything that is not a scalar is kept as text.
func parseAnswerValue(raw string) *engine.AnswerValue {
	if raw == "" {
		return engine.TextAnswer("")
	}
	var v interface{}
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return engine.TextAnswer(raw)
	}
	answer, err := engine.AnswerFromInterface(v)
	if err != nil {
		return engine.TextAnswer(raw)
	}
	return answer
}

// parseSetFlags turns repeated id=value flags into answers.
func parseSetFlags(sets []string) (engine.Answers, error) {
	answers := make(engine.Answers, len(sets))
	for _, kv := range sets {
		id, raw, ok := strings.Cut(kv, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --set %q: expected id=value", kv)
		}
		answers[id] = parseAnswerValue(raw)
	}
	return answers, nil
}

// loadAnswersFile reads a YAML mapping of question id to answer.
func loadAnswersFile(path string) (engine.Answers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read answers file: %w", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse answers file %s: %w", path, err)
	}
	answers := make(engine.Answers, len(raw))
	for id, val := range raw {
		v, err := engine.AnswerFromInterface(val)
		if err != nil {
			return nil, fmt.Errorf("answer %s: %w", id, err)
		}
		answers[id] = v
	}
	return answers, nil
}

// mergeAnswers overlays b on a.
func mergeAnswers(a, b engine.Answers) engine.Answers {
	out := make(engine.Answers, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func sortedKeys(a engine.Answers) []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
