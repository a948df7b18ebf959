package validation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/rs/zerolog"

	"github.com/openfroyo/deployconf/pkg/engine"
	"github.com/openfroyo/deployconf/pkg/manifest"
)

// genericSchema is used for kinds without a registered schema.
const genericSchema = "*"

// SchemaValidator checks every manifest document against the CUE schema
// registered for its kind.
type SchemaValidator struct {
	// cue.Context is not safe for concurrent use; mu guards it and the map.
	mu      sync.Mutex
	ctx     *cue.Context
	schemas map[string]cue.Value
	logger  zerolog.Logger
}

// NewSchemaValidator creates a validator with the built-in schemas.
func NewSchemaValidator(logger zerolog.Logger) (*SchemaValidator, error) {
	sv := &SchemaValidator{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
		logger:  logger.With().Str("component", "schema-validator").Logger(),
	}

	if err := sv.RegisterSchema(genericSchema, ""); err != nil {
		return nil, err
	}
	for kind, body := range builtinSchemas {
		if err := sv.RegisterSchema(kind, body); err != nil {
			return nil, err
		}
	}
	return sv, nil
}

// RegisterSchema compiles body as the schema for kind, replacing any
// existing one. The body may use the shared definitions such as
// #Metadata, #PodTemplate and #Port.
func (sv *SchemaValidator) RegisterSchema(kind, body string) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	src := schemaDefinitions + schemaHeader + body
	val := sv.ctx.CompileString(src, cue.Filename(kind+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", kind, err)
	}
	sv.schemas[kind] = val
	return nil
}

// LoadSchemas registers every <Kind>.cue file in dir.
func (sv *SchemaValidator) LoadSchemas(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read schema directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".cue" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read schema: %w", err)
		}
		kind := strings.TrimSuffix(entry.Name(), ".cue")
		if err := sv.RegisterSchema(kind, string(data)); err != nil {
			return err
		}
		sv.logger.Info().Str("kind", kind).Str("file", entry.Name()).Msg("Schema loaded")
	}
	return nil
}

// Kinds returns the kinds with a registered schema.
func (sv *SchemaValidator) Kinds() []string {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	kinds := make([]string, 0, len(sv.schemas))
	for k := range sv.schemas {
		if k != genericSchema {
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)
	return kinds
}

// ValidateDocument checks one document and returns the schema errors.
func (sv *SchemaValidator) ValidateDocument(doc manifest.Document) []string {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	schema, ok := sv.schemas[manifest.Kind(doc)]
	if !ok {
		schema = sv.schemas[genericSchema]
	}

	data := sv.ctx.Encode(doc)
	if err := data.Err(); err != nil {
		return []string{fmt.Sprintf("failed to encode document: %v", err)}
	}

	unified := schema.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// Validate implements engine.Validator.
func (sv *SchemaValidator) Validate(ctx context.Context, text string) (engine.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return engine.ValidationResult{}, err
	}
	docs, res := decode(text)
	if docs == nil {
		return res, nil
	}

	var problems []string
	for i, doc := range docs {
		for _, msg := range sv.ValidateDocument(doc) {
			problems = append(problems, fmt.Sprintf("%s: %s", describe(i, doc), msg))
		}
	}
	if len(problems) > 0 {
		sv.logger.Debug().Int("problems", len(problems)).Msg("Manifest failed schema validation")
		return invalid(strings.Join(problems, "\n")), nil
	}
	return valid(), nil
}

// convertCUEErrors flattens a CUE error list into messages.
func convertCUEErrors(err error) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		msg := strings.TrimSpace(e.Error())
		if msg == "" || seen[msg] {
			continue
		}
		seen[msg] = true
		out = append(out, msg)
	}
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}
