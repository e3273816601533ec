// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package collaboration exposes the agent-facing collaboration tools:
// discovering peers by capability, delegating tasks to them, and
// checking on delegations that outlived their timeout. Tools are plain
// schema-described operations an agent's reasoning layer can invoke;
// the package itself contains no reasoning.
package collaboration

import (
	"context"
	"encoding/json"
)

// Tool is a single operation an agent can invoke. Each tool describes
// its parameters as a JSON Schema so callers can validate and render
// them without knowing the tool.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Description returns a human-readable description of the tool.
	Description() string

	// InputSchema returns the JSON Schema for the tool's parameters.
	InputSchema() *JSONSchema

	// Execute runs the tool. Tools report operational failures inside
	// the Result; the error return is reserved for invocation problems
	// such as missing required parameters.
	Execute(ctx context.Context, params map[string]interface{}) (*Result, error)
}

// Result is the outcome of one tool execution.
type Result struct {
	// Success indicates the operation did what the caller asked.
	Success bool `json:"success"`

	// Data carries the result payload; its shape varies by tool.
	Data interface{} `json:"data,omitempty"`

	// Error describes the failure when Success is false.
	Error *Error `json:"error,omitempty"`
}

// Error is a structured tool failure.
type Error struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// Suggestion optionally tells the caller what to try instead.
	Suggestion string `json:"suggestion,omitempty"`
}

// JSONSchema is a JSON Schema document for tool parameters.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Default     interface{}            `json:"default,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
}

// ToJSON serializes the schema.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// NewObjectSchema builds an object schema with the given properties.
func NewObjectSchema(description string, properties map[string]*JSONSchema, required []string) *JSONSchema {
	return &JSONSchema{
		Type:        "object",
		Description: description,
		Properties:  properties,
		Required:    required,
	}
}

// NewStringSchema builds a string schema.
func NewStringSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "string", Description: description}
}

// NewNumberSchema builds a number schema with an optional default.
func NewNumberSchema(description string, def interface{}) *JSONSchema {
	return &JSONSchema{Type: "number", Description: description, Default: def}
}
