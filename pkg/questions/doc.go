// Package questions provides question sources for answer intake.
//
// Catalog serves questions from a YAML file with common questions and
// per-kind question sets:
//
//	common:
//	  - id: name
//	    prompt: What should the application be called?
//	    type: text
//	    stage: required
//	    required: true
//	kinds:
//	  Deployment:
//	    - id: image
//	      type: text
//	      stage: required
//	      required: true
//	      resourceMapping: {resourceKind: Deployment, fieldPath: spec.template.spec.containers.0.image}
//
// The open stage always has exactly one question, keyed "open".
//
// Enricher wraps another source and adds the required questions returned by
// the policy engine's questions rules, so organizational policy can demand
// answers the catalog does not ask for.
package questions
