package capability

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Argument schemas for the command channel. Args travel as positional
// arrays, so each schema pins arity and per-slot types. Stubs send fixed
// arity; defaults are resolved before validation.

const coordSchema = `{"type": "number", "minimum": -16000, "maximum": 16000}`

var capabilitySchemas = map[string]string{
	CapPlaceEntity: `{
		"type": "array",
		"prefixItems": [
			{"type": "string", "minLength": 1},
			` + coordSchema + `,
			` + coordSchema + `,
			{"type": "string", "enum": ["north", "northeast", "east", "southeast", "south", "southwest", "west", "northwest"]}
		],
		"items": false,
		"minItems": 4
	}`,
	CapRemoveEntity: `{
		"type": "array",
		"prefixItems": [
			{"type": "string", "minLength": 1},
			` + coordSchema + `,
			` + coordSchema + `
		],
		"items": false,
		"minItems": 3
	}`,
	CapGetEntities: `{
		"type": "array",
		"prefixItems": [
			` + coordSchema + `,
			` + coordSchema + `,
			{"type": "integer", "minimum": 0, "maximum": 1000}
		],
		"items": false,
		"minItems": 3
	}`,
	CapSnapshot: `{
		"type": "array",
		"prefixItems": [
			` + coordSchema + `,
			` + coordSchema + `,
			{"type": "integer", "minimum": 0, "maximum": 1000},
			{"type": "string", "enum": ["verbose", "compact"]},
			{"type": "boolean"}
		],
		"items": false,
		"minItems": 5
	}`,
	CapRequestPath: `{
		"type": "array",
		"prefixItems": [
			` + coordSchema + `,
			` + coordSchema + `,
			` + coordSchema + `,
			` + coordSchema + `,
			{"type": "number", "minimum": 0}
		],
		"items": false,
		"minItems": 5
	}`,
	CapGetPath: `{
		"type": "array",
		"prefixItems": [{"type": "integer", "minimum": 0}],
		"items": false,
		"minItems": 1
	}`,
	CapMoveTo: `{
		"type": "array",
		"prefixItems": [
			` + coordSchema + `,
			` + coordSchema + `,
			{"type": "string"},
			{"type": "string", "enum": ["trailing", "immediate"]},
			{"type": "boolean"}
		],
		"items": false,
		"minItems": 5
	}`,
	CapAdvanceTime: `{
		"type": "array",
		"prefixItems": [{"type": "integer", "minimum": 1, "maximum": 1000000}],
		"items": false,
		"minItems": 1
	}`,
	CapGetPosition: `{"type": "array", "items": false}`,
	CapGetInventory: `{"type": "array", "items": false}`,
	CapSetInventory: `{
		"type": "array",
		"prefixItems": [{
			"type": "object",
			"additionalProperties": {"type": "integer", "minimum": 0}
		}],
		"items": false,
		"minItems": 1
	}`,
	CapProductionTotals: `{"type": "array", "items": false}`,
	CapSendMessage: `{
		"type": "array",
		"prefixItems": [
			{"type": "string", "minLength": 1},
			{"type": "string", "maxLength": 8192}
		],
		"items": false,
		"minItems": 2
	}`,
	CapReadMessages: `{"type": "array", "items": false}`,
	CapSetResearch: `{
		"type": "array",
		"prefixItems": [{"type": "boolean"}],
		"items": false,
		"minItems": 1
	}`,
	CapReset: `{
		"type": "array",
		"prefixItems": [{
			"type": "object",
			"properties": {
				"inventories": {
					"type": "object",
					"additionalProperties": {
						"type": "object",
						"additionalProperties": {"type": "integer", "minimum": 0}
					}
				},
				"positions": {
					"type": "object",
					"additionalProperties": {
						"type": "object",
						"properties": {"x": {"type": "number"}, "y": {"type": "number"}},
						"required": ["x", "y"]
					}
				},
				"research_all": {"type": "boolean"},
				"clear_entities": {"type": "boolean"}
			},
			"additionalProperties": false
		}],
		"items": false,
		"minItems": 1
	}`,
}

type schemaRegistry struct {
	once     sync.Once
	initErr  error
	compiled map[string]*jsonschema.Schema
}

var schemas schemaRegistry

func initSchemas() error {
	schemas.once.Do(func() {
		schemas.compiled = make(map[string]*jsonschema.Schema, len(capabilitySchemas))
		for name, src := range capabilitySchemas {
			compiled, err := jsonschema.CompileString("args_"+name, src)
			if err != nil {
				schemas.initErr = fmt.Errorf("compile schema for %s: %w", name, err)
				return
			}
			schemas.compiled[name] = compiled
		}
	})
	return schemas.initErr
}

// validateArgs checks positional args against the capability's schema
// before anything reaches the transport.
func validateArgs(capName string, args []any) error {
	if err := initSchemas(); err != nil {
		return err
	}
	schema, ok := schemas.compiled[capName]
	if !ok {
		return &ValidationError{Capability: capName, Reason: "unknown capability"}
	}
	if args == nil {
		args = []any{}
	}

	// Round trip through JSON so typed Go values validate the same way
	// they will look on the wire.
	raw, err := json.Marshal(args)
	if err != nil {
		return &ValidationError{Capability: capName, Reason: err.Error()}
	}
	var wire any
	if err := json.Unmarshal(raw, &wire); err != nil {
		return &ValidationError{Capability: capName, Reason: err.Error()}
	}
	if err := schema.Validate(wire); err != nil {
		return &ValidationError{Capability: capName, Reason: err.Error()}
	}
	return nil
}
