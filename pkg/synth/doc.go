// Package synth provides manifest synthesizers for the generation loop.
//
// MappingSynthesizer builds one document per solution resource from a
// built-in skeleton and writes each answer into the field named by its
// question's resource mapping. It is deterministic and ignores repair
// feedback.
//
// StarlarkSynthesizer runs a user script. The script receives:
//
//	solution     dict with id, name, intent, resources, answers,
//	             stage_answers and notes
//	attempt      1-based attempt number within the generation run
//	prior_error  validator error text of the previous attempt, or ""
//
// and sets either manifests (a list of dicts) or manifest (YAML text).
// Script failures are reported as permanent errors so the generation
// loop records them as failed attempts; a script that runs past its
// deadline is reported as transient.
package synth
