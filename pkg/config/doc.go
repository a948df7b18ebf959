// Package config loads the deployconf application configuration.
//
// Configuration is YAML, decoded over Default() so a file only needs the
// keys it changes:
//
//	store:
//	  path: /var/lib/deployconf/deployconf.db
//	generation:
//	  max_attempts: 5
//	  max_attempts_by_kind:
//	    StatefulSet: 8
//	synth:
//	  mode: starlark
//	  script: ./render.star
//	validation:
//	  server: true
//	policy:
//	  paths: [./policies]
//	  watch: true
//
// Unknown keys are rejected and field rules are checked with
// go-playground/validator.
package config
