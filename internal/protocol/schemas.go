package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const toolCallSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["subsystem", "operation"],
  "properties": {
    "subsystem": {"type": "string", "minLength": 1},
    "operation": {"type": "string", "minLength": 1},
    "params": {"type": "object"}
  },
  "additionalProperties": false
}`

var (
	toolCallSchemaOnce sync.Once
	toolCallSchema     *jsonschema.Schema
	toolCallSchemaErr  error
)

func compiledToolCallSchema() (*jsonschema.Schema, error) {
	toolCallSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		const url = "mem://protocol/tool_call.schema.json"
		if err := c.AddResource(url, strings.NewReader(toolCallSchemaJSON)); err != nil {
			toolCallSchemaErr = err
			return
		}
		toolCallSchema, toolCallSchemaErr = c.Compile(url)
	})
	return toolCallSchema, toolCallSchemaErr
}

// DecodeToolCall validates raw JSON against the envelope schema and decodes it.
func DecodeToolCall(raw []byte) (ToolCall, error) {
	var call ToolCall
	s, err := compiledToolCallSchema()
	if err != nil {
		return call, fmt.Errorf("tool call schema: %w", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return call, Validation("bad tool call json: %v", err)
	}
	if err := s.Validate(doc); err != nil {
		return call, Validation("bad tool call: %v", err)
	}
	if err := json.Unmarshal(raw, &call); err != nil {
		return call, Validation("bad tool call: %v", err)
	}
	return call, nil
}
