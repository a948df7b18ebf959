// Package validation provides the manifest validators used by the
// generation loop.
//
// Three validators are layered by a Chain, cheapest first:
//
//   - SchemaValidator unifies each document with a CUE schema for its kind
//   - PolicyValidator rejects blocking OPA policy violations
//   - KubectlValidator runs a server-side dry run against the cluster
//
// Every validator reports a rejected manifest through
// engine.ValidationResult and reserves errors for its own failures, so the
// generation loop can tell a bad manifest from an unavailable validator.
package validation
