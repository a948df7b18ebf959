package validation

import (
	"fmt"

	"github.com/openfroyo/deployconf/pkg/engine"
	"github.com/openfroyo/deployconf/pkg/manifest"
)

func valid() engine.ValidationResult {
	return engine.ValidationResult{OK: true}
}

func invalid(detail string) engine.ValidationResult {
	return engine.ValidationResult{OK: false, ErrorDetail: detail}
}

// decode parses manifest text. A manifest that cannot be decoded or has
// no documents is a rejection, returned with nil documents.
func decode(text string) ([]manifest.Document, engine.ValidationResult) {
	docs, err := manifest.Decode(text)
	if err != nil {
		return nil, invalid(fmt.Sprintf("manifest is not valid YAML: %v", err))
	}
	if len(docs) == 0 {
		return nil, invalid("manifest contains no documents")
	}
	return docs, valid()
}

// describe names a document for error messages.
func describe(index int, doc manifest.Document) string {
	kind, name := manifest.Kind(doc), manifest.Name(doc)
	switch {
	case kind != "" && name != "":
		return fmt.Sprintf("document %d (%s/%s)", index, kind, name)
	case kind != "":
		return fmt.Sprintf("document %d (%s)", index, kind)
	default:
		return fmt.Sprintf("document %d", index)
	}
}
