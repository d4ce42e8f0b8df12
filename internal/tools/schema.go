package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

// ReflectSchema builds an inline JSON Schema from a tool argument
// struct, honoring json tags and jsonschema struct tags.
func ReflectSchema(v any) (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal tool schema: %w", err)
	}
	return data, nil
}

// MustSchema is ReflectSchema for package-level tool schema variables.
func MustSchema(v any) json.RawMessage {
	schema, err := ReflectSchema(v)
	if err != nil {
		panic(err)
	}
	return schema
}

var schemaCache sync.Map

func compiledSchema(schema json.RawMessage) (*validator.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*validator.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := validator.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateArgs checks raw call arguments against a tool schema.
func ValidateArgs(schema, args json.RawMessage) error {
	compiled, err := compiledSchema(schema)
	if err != nil {
		return fmt.Errorf("compile tool schema: %w", err)
	}

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("arguments invalid: %w", err)
	}
	return nil
}
