// Package engine provides the core types and workflow of the deployconf
// deployment configuration orchestrator.
//
// # Overview
//
// A solution is a set of Kubernetes resource kinds recommended for a
// deployment intent. The engine walks a solution through four workflow
// phases:
//
//  1. Register - store a SolutionRecord in status selected (RegisterSolution)
//  2. Configure - collect answers stage by stage (ChooseSolution, AnswerQuestion)
//  3. Generate - synthesize and validate a manifest in a bounded repair loop (GenerateManifests)
//  4. Deploy - hand the validated manifest to a Deployer (DeployManifests)
//
// # Stages
//
// Questions are grouped into the ordered stages required, basic, advanced and
// open. NextStage is the pure transition function:
//
//   - submitting the current stage records its answers and advances
//   - submitting the most recently completed stage overwrites its answers
//   - a forward jump is allowed when CanTransition permits it; the stages in
//     between are recorded as skipped
//   - completing open makes the solution ready_for_generation
//
// The required stage rejects an empty batch and any mandatory question left
// unanswered. The open stage takes exactly one non-empty answer keyed "open".
//
// # Generation
//
// Generator.Generate claims the record (status generating, a new generation
// number and a lease timestamp) and then alternates Synthesizer and Validator
// calls. Each attempt is appended to the record before the next one starts
// and carries the previous attempt's error text as repair feedback. A run
// ends on the first valid manifest, on a transient collaborator failure, or
// when the attempt bound is spent. A run whose lease has expired may be taken
// over by a later caller.
//
// # Persistence
//
// All record changes go through RecordStore.Update, which applies a mutation
// to a copy and commits it only if CheckMutation accepts it: identity and
// resources are immutable, validation attempts are append-only, and manifest
// fields are written only while generating.
//
// # Errors
//
// Errors carry an ErrorClass (transient, throttled, conflict, permanent) and
// a code. Use ClassOf, CodeOf and IsRetryable rather than matching messages:
//
//	if engine.IsRetryable(err) {
//	    // back off and call again
//	}
package engine
