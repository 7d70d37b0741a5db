// Package tools is the uniform contract every subsystem exposes: named
// operations with a parameter schema, a return schema and a handler.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"taleweave.ai/internal/protocol"
)

// Params is the decoded JSON object handed to a handler.
type Params map[string]any

// Decode copies p into a typed struct through its json tags.
func (p Params) Decode(out any) error {
	b, err := json.Marshal(p)
	if err != nil {
		return protocol.Validation("encode params: %v", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return protocol.Validation("decode params: %v", err)
	}
	return nil
}

func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

type Handler func(ctx context.Context, p Params) (any, error)

// Operation is one entry of a subsystem's command table. Params and Returns
// are JSON Schema documents.
type Operation struct {
	Name        string
	Description string
	Params      map[string]any
	Returns     map[string]any
	Handler     Handler
}

// Server is the fixed operation list one subsystem declares.
type Server struct {
	Name       string
	Operations []Operation
}

// Object builds an object schema from properties and required names.
func Object(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func String(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func Integer(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func Number(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func Boolean(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func Enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values, "description": desc}
}

func ArrayOf(items map[string]any, desc string) map[string]any {
	return map[string]any{"type": "array", "items": items, "description": desc}
}

func AnyObject(desc string) map[string]any {
	return map[string]any{"type": "object", "description": desc}
}

func requiredFields(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func qualified(subsystem, operation string) string {
	return fmt.Sprintf("%s.%s", subsystem, operation)
}
