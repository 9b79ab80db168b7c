// Package schemavalidation checks the JSON documents keywedge hands to
// other programs against their published schemas.
package schemavalidation

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ScanEventSchema is the schema of one scanner.Result in JSON form.
const ScanEventSchema = "scan-event-v1.schema.json"

// ErrInvalidDocument is returned when a document does not match its schema.
var ErrInvalidDocument = errors.New("schemavalidation: document does not match schema")

//go:embed schema/*.json
var schemaFS embed.FS

var (
	mu       sync.Mutex
	compiled = map[string]*jsonschema.Schema{}
)

// Load returns the compiled embedded schema called name.
func Load(name string) (*jsonschema.Schema, error) {
	mu.Lock()
	defer mu.Unlock()
	if s, ok := compiled[name]; ok {
		return s, nil
	}

	data, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	compiled[name] = s
	return s, nil
}

// Validate checks a JSON document against the embedded schema called name.
func Validate(name string, data []byte) error {
	s, err := Load(name)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return validate(s, doc)
}

// ValidateScanEvents checks a single scan event or an array of them, as
// written by the history endpoints and keywedgectl -json.
func ValidateScanEvents(data []byte) error {
	s, err := Load(ScanEventSchema)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	events, ok := doc.([]any)
	if !ok {
		return validate(s, doc)
	}
	for i, ev := range events {
		if err := validate(s, ev); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

func validate(s *jsonschema.Schema, doc any) error {
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return nil
}
