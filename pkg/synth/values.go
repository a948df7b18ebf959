package synth

import (
	"math"
	"strings"

	"github.com/openfroyo/deployconf/pkg/engine"
)

// NotesAnnotation carries the open-stage answer on generated documents.
const NotesAnnotation = "deployconf.io/notes"

// answerValue converts an answer into the value written into a manifest.
// Integral numbers become int64 so that YAML renders "3" rather than "3.0".
func answerValue(v *engine.AnswerValue) interface{} {
	if v == nil {
		return nil
	}
	if v.Kind == engine.AnswerNumber && v.Number == math.Trunc(v.Number) && math.Abs(v.Number) < 1<<53 {
		return int64(v.Number)
	}
	return v.Interface()
}

// mergedAnswers flattens the stage answers in stage order. Explicit skips
// are left out.
func mergedAnswers(rec *engine.SolutionRecord) engine.Answers {
	out := make(engine.Answers)
	for _, stage := range engine.Stages() {
		for id, v := range rec.StageAnswers[stage] {
			if v != nil {
				out[id] = v
			}
		}
	}
	return out
}

// notes returns the open-stage answer unless it is empty or "N/A".
func notes(rec *engine.SolutionRecord) string {
	v := rec.StageAnswers[engine.StageOpen][engine.OpenAnswerKey]
	if v == nil {
		return ""
	}
	text := strings.TrimSpace(v.String())
	if strings.EqualFold(text, "n/a") {
		return ""
	}
	return text
}

// appName derives the application name: the "name" answer when given,
// otherwise the solution id made DNS-safe.
func appName(rec *engine.SolutionRecord, answers engine.Answers) string {
	if v := answers["name"]; v != nil && strings.TrimSpace(v.String()) != "" {
		return strings.TrimSpace(v.String())
	}
	name := strings.ToLower(rec.ID)
	name = strings.ReplaceAll(name, "_", "-")
	return strings.Trim(name, "-")
}

// solutionInput is the plain-value view of a record handed to scripts.
func solutionInput(rec *engine.SolutionRecord) map[string]interface{} {
	resources := make([]interface{}, 0, len(rec.Resources))
	for _, r := range rec.Resources {
		resources = append(resources, map[string]interface{}{
			"kind":        r.Kind,
			"group":       r.Group,
			"version":     r.Version,
			"api_version": r.APIVersion(),
			"namespaced":  r.Namespaced,
		})
	}

	answers := make(map[string]interface{})
	for id, v := range mergedAnswers(rec) {
		answers[id] = answerValue(v)
	}

	stages := make(map[string]interface{})
	for stage, stageAnswers := range rec.StageAnswers {
		m := make(map[string]interface{}, len(stageAnswers))
		for id, v := range stageAnswers {
			m[id] = answerValue(v)
		}
		stages[string(stage)] = m
	}

	return map[string]interface{}{
		"id":            rec.ID,
		"name":          appName(rec, mergedAnswers(rec)),
		"intent":        rec.Intent,
		"resources":     resources,
		"answers":       answers,
		"stage_answers": stages,
		"notes":         notes(rec),
	}
}
