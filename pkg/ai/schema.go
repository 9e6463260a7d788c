package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
)

var schemaCache sync.Map // reflect.Type -> map[string]any

// SchemaFor returns the JSON Schema of T as a plain map, suitable for
// provider request bodies. Results are cached per type.
func SchemaFor[T any]() (map[string]any, error) {
	return schemaForType(reflect.TypeOf((*T)(nil)).Elem())
}

func schemaForType(t reflect.Type) (map[string]any, error) {
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(map[string]any), nil
	}

	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.ReflectFromType(t)

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("ai: encode schema for %s: %w", t, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ai: decode schema for %s: %w", t, err)
	}
	// Providers reject the draft and id keywords.
	delete(out, "$schema")
	delete(out, "$id")

	schemaCache.Store(t, out)
	return out, nil
}
