package registry

import "github.com/pforge-dev/pforge/pkg/config"

// jsonSchemaKind maps a config.PrimitiveKind onto its JSON Schema "type"
// keyword. float is represented as "number", matching encoding/json's
// float64 decoding of any numeric literal.
func jsonSchemaKind(k config.PrimitiveKind) string {
	switch k {
	case config.PrimitiveFloat:
		return "number"
	default:
		return string(k)
	}
}

// buildJSONSchema translates a ParamSchema into the draft-4 JSON Schema
// document gojsonschema compiles, so params validation reuses the
// ecosystem's schema engine instead of a hand-rolled field walker.
func buildJSONSchema(ps config.ParamSchema) map[string]any {
	properties := make(map[string]any, len(ps))
	var required []string

	for name, field := range ps {
		prop := map[string]any{"type": jsonSchemaKind(field.PrimitiveKind)}
		if field.Description != "" {
			prop["description"] = field.Description
		}
		if v := field.Validation; v != nil {
			switch field.PrimitiveKind {
			case config.PrimitiveString:
				if v.Pattern != "" {
					prop["pattern"] = v.Pattern
				}
				if v.MinLen != nil {
					prop["minLength"] = *v.MinLen
				}
				if v.MaxLen != nil {
					prop["maxLength"] = *v.MaxLen
				}
			case config.PrimitiveArray:
				if v.MinLen != nil {
					prop["minItems"] = *v.MinLen
				}
				if v.MaxLen != nil {
					prop["maxItems"] = *v.MaxLen
				}
			case config.PrimitiveInteger, config.PrimitiveFloat:
				if v.Min != nil {
					prop["minimum"] = *v.Min
				}
				if v.Max != nil {
					prop["maximum"] = *v.Max
				}
			}
		}
		properties[name] = prop
		if field.Required {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
