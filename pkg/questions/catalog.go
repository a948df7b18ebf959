package questions

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/deployconf/pkg/engine"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// OpenQuestion is the single free-form question of the open stage.
var OpenQuestion = engine.Question{
	ID:     engine.OpenAnswerKey,
	Prompt: "Anything else the manifests should account for? Answer n/a if not.",
	Type:   engine.QuestionText,
	Stage:  engine.StageOpen,
}

// CatalogFile is the on-disk layout of a question catalog.
type CatalogFile struct {
	// Common questions are asked for every solution.
	Common []engine.Question `yaml:"common"`

	// Kinds holds questions asked only when the solution includes the kind.
	Kinds map[string][]engine.Question `yaml:"kinds"`
}

// Catalog is a static question source backed by a CatalogFile.
type Catalog struct {
	common []engine.Question
	kinds  map[string][]engine.Question
	logger zerolog.Logger
}

// DefaultCatalog returns the catalog built into the binary.
func DefaultCatalog(logger zerolog.Logger) (*Catalog, error) {
	return ParseCatalog(defaultCatalog, logger)
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string, logger zerolog.Logger) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question catalog: %w", err)
	}
	c, err := ParseCatalog(data, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes and checks a YAML catalog. Unknown fields are
// rejected so typos in question definitions surface at load time.
func ParseCatalog(data []byte, logger zerolog.Logger) (*Catalog, error) {
	var file CatalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse question catalog: %w", err)
	}
	return NewCatalog(file, logger)
}

// NewCatalog builds a catalog from decoded definitions.
func NewCatalog(file CatalogFile, logger zerolog.Logger) (*Catalog, error) {
	if err := checkSet("common", "", file.Common); err != nil {
		return nil, err
	}
	for kind, qs := range file.Kinds {
		if err := checkSet(kind, kind, qs); err != nil {
			return nil, err
		}
	}

	c := &Catalog{
		common: append([]engine.Question(nil), file.Common...),
		kinds:  make(map[string][]engine.Question, len(file.Kinds)),
		logger: logger.With().Str("component", "question-catalog").Logger(),
	}
	for kind, qs := range file.Kinds {
		c.kinds[kind] = append([]engine.Question(nil), qs...)
	}
	return c, nil
}

// checkSet validates one question list. A kind's mapped questions must map
// to that kind.
func checkSet(name, kind string, qs []engine.Question) error {
	if err := engine.ValidateQuestions(qs); err != nil {
		return fmt.Errorf("question set %s: %w", name, err)
	}
	for _, q := range qs {
		if q.ID == engine.OpenAnswerKey || q.Stage == engine.StageOpen {
			return fmt.Errorf("question set %s: the open stage question is built in", name)
		}
		if q.ResourceMapping == nil {
			continue
		}
		if q.ResourceMapping.FieldPath == "" {
			return fmt.Errorf("question set %s: question %s has an empty field path", name, q.ID)
		}
		if kind != "" && q.ResourceMapping.ResourceKind != kind {
			return fmt.Errorf("question set %s: question %s maps to %s", name, q.ID, q.ResourceMapping.ResourceKind)
		}
	}
	return nil
}

// Kinds returns the resource kinds the catalog has questions for.
func (c *Catalog) Kinds() []string {
	kinds := make([]string, 0, len(c.kinds))
	for k := range c.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// QuestionsFor implements engine.QuestionSource. Common questions come
// first, then each resource's kind questions in resource order. When two
// kinds define the same id, the first one wins.
func (c *Catalog) QuestionsFor(ctx context.Context, resources []engine.ResourceRef, intent string, stage engine.Stage) ([]engine.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := stage.Validate(); err != nil {
		return nil, err
	}
	if stage == engine.StageOpen {
		return []engine.Question{OpenQuestion}, nil
	}

	var out []engine.Question
	seen := make(map[string]bool)
	add := func(qs []engine.Question) {
		for _, q := range qs {
			if q.Stage != stage {
				continue
			}
			if seen[q.ID] {
				c.logger.Debug().Str("question", q.ID).Msg("Duplicate question id skipped")
				continue
			}
			seen[q.ID] = true
			out = append(out, cloneQuestion(q))
		}
	}

	add(c.common)
	visited := make(map[string]bool)
	for _, ref := range resources {
		if visited[ref.Kind] {
			continue
		}
		visited[ref.Kind] = true
		add(c.kinds[ref.Kind])
	}

	c.logger.Debug().
		Str("stage", string(stage)).
		Str("intent", intent).
		Int("questions", len(out)).
		Msg("Questions resolved")

	return out, nil
}

func cloneQuestion(q engine.Question) engine.Question {
	if q.Options != nil {
		q.Options = append([]string(nil), q.Options...)
	}
	if q.Default != nil {
		d := *q.Default
		q.Default = &d
	}
	if q.ResourceMapping != nil {
		m := *q.ResourceMapping
		q.ResourceMapping = &m
	}
	return q
}
