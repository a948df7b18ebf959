// Package policy provides Open Policy Agent (OPA) integration for deployconf.
//
// Policies are Rego modules. The engine prepares one query per policy
// package and reads three well-known rules from its result:
//
//   - deny: blocking findings for a single manifest document
//   - warn: non-blocking findings for a single manifest document
//   - questions: extra questions for a solution's resources
//
// A rule value may be a plain message string or an object with "msg",
// "severity" and "field" keys. Deny findings default to the policy's
// severity; warn findings are always warnings.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	result, err := eng.Evaluate(ctx, docs, &policy.Context{Namespace: "shop"})
//	if err != nil {
//	    return err
//	}
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Printf("%s %s/%s: %s\n", v.Policy, v.Kind, v.Name, v.Message)
//	    }
//	}
//
// # Built-in Policies
//
//  1. manifest-metadata - apiVersion, kind and a DNS-compatible name
//  2. recommended-labels - app.kubernetes.io/name label (warning)
//  3. container-hygiene - pinned image tags, no privileged containers, limits (warning)
//  4. selectors - Services and workloads select their pods
//  5. exposure-questions - required questions for Ingress hosts and claim sizes
//
// # Custom Policies
//
// LoadPolicies reads .rego files and JSON or YAML definitions from files
// and directories. A bare .rego file is named after the file, and its
// leading comment block becomes the description:
//
//	# Production namespaces need an owner label.
//	# severity: error
//	package custom.owner
//
//	import rego.v1
//
//	deny contains "owner label is required" if {
//	    input.context.environment == "production"
//	    not input.document.metadata.labels.owner
//	}
//
// Loading replaces every previously loaded policy and keeps the built-ins.
// A failed load leaves the current set untouched.
//
// # Hot Reload
//
// Engine.Watch reloads the policy paths when files change, debounced by
// Loader.ReloadDelay. Close stops the watcher and waits for it to exit.
package policy
