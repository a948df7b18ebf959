package synth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/deployconf/pkg/engine"
	"github.com/openfroyo/deployconf/pkg/manifest"
)

// DefaultScriptTimeout bounds one script execution.
const DefaultScriptTimeout = 30 * time.Second

// DefaultMaxSteps bounds the number of Starlark computation steps.
const DefaultMaxSteps = 10_000_000

// Evaluator executes Starlark scripts with a deadline and a step budget.
type Evaluator struct {
	timeout  time.Duration
	maxSteps uint64
}

// NewEvaluator creates a new Starlark evaluator.
func NewEvaluator(timeout time.Duration, maxSteps uint64) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Evaluator{timeout: timeout, maxSteps: maxSteps}
}

// Result is the output of one script execution.
type Result struct {
	// Globals holds the exported globals converted to Go values.
	Globals map[string]interface{}

	// Output collects lines the script printed.
	Output []string

	Duration time.Duration
}

// ErrTimeout is returned when a script exceeds its deadline or the
// caller's context ends.
var ErrTimeout = errors.New("starlark execution cancelled")

// Evaluate runs script with input as predeclared globals. Globals whose
// name starts with "_" are not exported.
func (e *Evaluator) Evaluate(ctx context.Context, filename, script string, input map[string]interface{}) (*Result, error) {
	start := time.Now()
	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result := &Result{}
	thread := &starlark.Thread{
		Name: "deployconf",
		Print: func(_ *starlark.Thread, msg string) {
			result.Output = append(result.Output, msg)
		},
	}
	thread.SetMaxExecutionSteps(e.maxSteps)

	stop := context.AfterFunc(evalCtx, func() {
		thread.Cancel(evalCtx.Err().Error())
	})
	defer stop()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   starlarkjson.Module,
	}
	for key, val := range input {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	result.Duration = time.Since(start)
	if err != nil {
		if evalCtx.Err() != nil {
			return result, fmt.Errorf("%w after %v: %v", ErrTimeout, result.Duration, evalCtx.Err())
		}
		return result, fmt.Errorf("starlark execution failed: %w", err)
	}

	result.Globals = make(map[string]interface{}, len(globals))
	for name, val := range globals {
		if name != "" && name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return result, fmt.Errorf("failed to convert global %s: %w", name, err)
		}
		result.Globals[name] = goVal
	}
	return result, nil
}

// StarlarkSynthesizer runs a user script to produce manifests. The script
// sees the globals solution, attempt and prior_error, and must set either
// manifests (a list of dicts) or manifest (YAML text).
type StarlarkSynthesizer struct {
	filename string
	script   string
	eval     *Evaluator
	logger   zerolog.Logger
}

// NewStarlarkSynthesizer creates a synthesizer from script source.
func NewStarlarkSynthesizer(filename, script string, eval *Evaluator, logger zerolog.Logger) *StarlarkSynthesizer {
	if eval == nil {
		eval = NewEvaluator(0, 0)
	}
	return &StarlarkSynthesizer{
		filename: filename,
		script:   script,
		eval:     eval,
		logger:   logger.With().Str("component", "starlark-synth").Logger(),
	}
}

// LoadStarlarkSynthesizer reads the script at path.
func LoadStarlarkSynthesizer(path string, eval *Evaluator, logger zerolog.Logger) (*StarlarkSynthesizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesis script: %w", err)
	}
	if _, err := syntax.Parse(filepath.Base(path), data, 0); err != nil {
		return nil, fmt.Errorf("invalid synthesis script: %w", err)
	}
	return NewStarlarkSynthesizer(filepath.Base(path), string(data), eval, logger), nil
}

// Synthesize implements engine.Synthesizer. Script failures are permanent
// so the generation loop records them and moves on; timeouts are transient.
func (s *StarlarkSynthesizer) Synthesize(ctx context.Context, req engine.SynthesisRequest) (string, error) {
	rec := req.Record
	if rec == nil {
		return "", engine.NewPermanentError("synthesis request has no record", nil)
	}

	input := map[string]interface{}{
		"solution":    solutionInput(rec),
		"attempt":     req.Attempt,
		"prior_error": req.PriorError,
	}

	result, err := s.eval.Evaluate(ctx, s.filename, s.script, input)
	if result != nil {
		for _, line := range result.Output {
			s.logger.Debug().Str("solution_id", rec.ID).Str("script", s.filename).Msg(line)
		}
	}
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return "", engine.NewTransientError("synthesis script did not finish", err).WithSolution(rec.ID)
		}
		return "", engine.NewPermanentError("synthesis script failed", err).WithSolution(rec.ID)
	}

	out, err := scriptManifest(result.Globals)
	if err != nil {
		return "", engine.NewPermanentError("synthesis script produced no manifest", err).WithSolution(rec.ID)
	}

	s.logger.Debug().
		Str("solution_id", rec.ID).
		Int("attempt", req.Attempt).
		Dur("duration", result.Duration).
		Msg("Manifest synthesized")

	return out, nil
}

// scriptManifest extracts the manifest text from script globals.
func scriptManifest(globals map[string]interface{}) (string, error) {
	if text, ok := globals["manifest"].(string); ok && text != "" {
		if _, err := manifest.Decode(text); err != nil {
			return "", err
		}
		return text, nil
	}

	var docs []manifest.Document
	switch v := globals["manifests"].(type) {
	case map[string]interface{}:
		docs = append(docs, v)
	case []interface{}:
		for i, item := range v {
			doc, ok := item.(map[string]interface{})
			if !ok {
				return "", fmt.Errorf("manifests[%d] is a %T, not a dict", i, item)
			}
			docs = append(docs, doc)
		}
	case nil:
		return "", fmt.Errorf("script must set manifests or manifest")
	default:
		return "", fmt.Errorf("manifests is a %T, not a list", v)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("manifests is empty")
	}
	return manifest.Encode(docs)
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromIterable(val, val.Len())
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(it starlark.Iterable, n int) ([]interface{}, error) {
	list := make([]interface{}, 0, n)
	iter := it.Iterate()
	defer iter.Done()

	var x starlark.Value
	for iter.Next(&x) {
		item, err := fromStarlarkValue(x)
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, nil
}
