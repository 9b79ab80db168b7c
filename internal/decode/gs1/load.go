package gs1

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/identifier-table-v1.schema.json
var tableSchemaJSON []byte

const tableSchemaURL = "identifier-table-v1.schema.json"

var (
	tableSchema     *jsonschema.Schema
	tableSchemaErr  error
	tableSchemaOnce sync.Once
)

// TableFile is the on-disk form of a custom identifier table.
type TableFile struct {
	// Replace discards the stock table instead of extending it.
	Replace     bool    `json:"replace" toml:"replace" yaml:"replace"`
	Identifiers []Entry `json:"identifiers" toml:"identifiers" yaml:"identifiers"`
}

// LoadTable reads a TOML, JSON or YAML identifier file and returns the
// resulting table. Unless the file sets replace, its entries extend and
// override the stock table.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identifier table: %w", err)
	}
	return ParseTable(data, filepath.Ext(path))
}

// ParseTable parses identifier table data in the format named by ext
// (".toml", ".json", ".yaml" or ".yml").
func ParseTable(data []byte, ext string) (*Table, error) {
	var doc any
	switch ext {
	case ".toml":
		var m map[string]any
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
		doc = m
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported identifier table format %q", ext)
	}

	// Normalize through JSON so every format validates and decodes the same way.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize identifier table: %w", err)
	}
	var generic any
	if err := json.Unmarshal(normalized, &generic); err != nil {
		return nil, fmt.Errorf("normalize identifier table: %w", err)
	}

	schema, err := compiledTableSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}

	var file TableFile
	if err := json.Unmarshal(normalized, &file); err != nil {
		return nil, fmt.Errorf("decode identifier table: %w", err)
	}
	return file.Build()
}

// Build turns the file into a table.
func (f TableFile) Build() (*Table, error) {
	if f.Replace {
		return NewTable(f.Identifiers)
	}
	return DefaultTable().Merge(f.Identifiers)
}

func compiledTableSchema() (*jsonschema.Schema, error) {
	tableSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(tableSchemaURL, bytes.NewReader(tableSchemaJSON)); err != nil {
			tableSchemaErr = fmt.Errorf("add identifier table schema: %w", err)
			return
		}
		tableSchema, tableSchemaErr = compiler.Compile(tableSchemaURL)
		if tableSchemaErr != nil {
			tableSchemaErr = fmt.Errorf("compile identifier table schema: %w", tableSchemaErr)
		}
	})
	return tableSchema, tableSchemaErr
}
